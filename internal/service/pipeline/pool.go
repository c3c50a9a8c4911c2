package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
)

// Pool bounds the number of collaborator calls running at once across all
// sessions. Callers wait up to the queue timeout for a slot.
type Pool struct {
	sem          *semaphore.Weighted
	size         int
	queueTimeout time.Duration
	logger       *zap.Logger
}

// NewPool returns a pool with size slots. A zero queueTimeout waits as long
// as the caller's context allows.
func NewPool(size int, queueTimeout time.Duration, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		sem:          semaphore.NewWeighted(int64(size)),
		size:         size,
		queueTimeout: queueTimeout,
		logger:       logger.Named("pool"),
	}
}

// Size reports the number of slots.
func (p *Pool) Size() int { return p.size }

// Do runs fn once a slot is free. It returns errs.ErrBusy when no slot frees
// up within the queue timeout.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	waitCtx := ctx
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("no worker available", zap.Duration("waited", p.queueTimeout))
		return errs.ErrBusy
	}
	defer p.sem.Release(1)

	return fn(ctx)
}

// Submit is Do for functions that return a value.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
