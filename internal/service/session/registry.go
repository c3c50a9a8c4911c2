package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
)

// Registry tracks the live sessions of the process, keyed by connection id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.Named("registry"),
	}
}

// Register stores a fresh session for an accepted connection.
func (r *Registry) Register(remoteAddr, personality string) (*Session, error) {
	s := newSession(uuid.NewString(), remoteAddr, personality)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errs.ErrRegistryClosed
	}
	r.sessions[s.ID()] = s
	active := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session registered",
		zap.String("session", s.ID()),
		zap.String("remote", remoteAddr),
		zap.Int("active", active),
	)
	return s, nil
}

// Unregister removes a session. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	active := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.logger.Info("session unregistered", zap.String("session", id), zap.Int("active", active))
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close drops every entry and rejects further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	dropped := len(r.sessions)
	r.sessions = make(map[string]*Session)
	r.closed = true
	r.mu.Unlock()

	r.logger.Info("registry closed", zap.Int("dropped", dropped))
}
