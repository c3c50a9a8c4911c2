package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2, 0, nil)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 2, pool.Size())
}

func TestPoolReturnsBusyAfterQueueTimeout(t *testing.T) {
	pool := NewPool(1, 20*time.Millisecond, nil)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	err := pool.Do(context.Background(), func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	require.ErrorIs(t, err, errs.ErrBusy)
}

func TestPoolHonoursCallerCancellation(t *testing.T) {
	pool := NewPool(1, time.Minute, nil)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Do(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubmitReturnsValue(t *testing.T) {
	pool := NewPool(1, time.Second, nil)
	got, err := Submit(context.Background(), pool, func(context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}
