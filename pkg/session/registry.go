package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"codecrew/pkg/logx"
)

// ErrNotFound is returned for lookups of unregistered session ids.
var ErrNotFound = errors.New("session not found")

// Registry tracks live sessions by id. Terminal sessions linger for a
// grace period so late status queries still resolve, then get evicted.
// Session ids are uuids and never reused.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	grace    time.Duration
	logger   *logx.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistry creates a registry with the given terminal-session grace
// period and starts the background eviction sweep.
func NewRegistry(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	r := &Registry{
		sessions: make(map[string]*Session),
		grace:    grace,
		logger:   logx.NewLogger("registry"),
		stopCh:   make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Create makes a new session with a fresh uuid and registers it.
func (r *Registry) Create(prompt string) *Session {
	sess := New(uuid.New().String(), prompt)
	r.mu.Lock()
	r.sessions[sess.ID()] = sess
	r.mu.Unlock()
	r.logger.Info("session %s created", sess.ID())
	return sess
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Remove evicts a session immediately, ahead of the grace-period sweep.
// Only terminal sessions can be removed; cancel a running one first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !sess.Stage().IsTerminal() {
		return fmt.Errorf("session %s is still %s", id, sess.Stage())
	}
	delete(r.sessions, id)
	r.logger.Info("session %s removed", id)
	return nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// Close stops the eviction sweep.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// sweep evicts terminal sessions once their grace period expires.
func (r *Registry) sweep() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.evictExpired(time.Now().UTC())
		}
	}
}

func (r *Registry) evictExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sess := range r.sessions {
		finished := sess.FinishedAt()
		if finished.IsZero() {
			continue
		}
		if now.Sub(finished) >= r.grace {
			delete(r.sessions, id)
			r.logger.Debug("session %s evicted after grace period", id)
		}
	}
}
