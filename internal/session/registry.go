// Package session keeps the open post-edit sessions of all viewers and tears
// down the ones left idle.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/gramfront/internal/editor"
)

// DefaultIdleTimeout is how long an untouched session survives.
const DefaultIdleTimeout = 30 * time.Minute

// ErrNotFound is returned for unknown, expired or foreign session IDs.
var ErrNotFound = errors.New("edit session not found")

type entry struct {
	owner    string
	session  *editor.Session
	lastSeen time.Time
}

// Registry maps session IDs to edit sessions.
// Thread-safe for concurrent access.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	idleTimeout time.Duration
	timeNow     func() time.Time
}

// NewRegistry creates a registry. idleTimeout <= 0 uses DefaultIdleTimeout.
func NewRegistry(idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		sessions:    make(map[string]*entry),
		idleTimeout: idleTimeout,
		timeNow:     time.Now,
	}
}

// Add stores s for owner and returns its new ID.
func (r *Registry) Add(owner string, s *editor.Session) string {
	id := uuid.New().String()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &entry{owner: owner, session: s, lastSeen: r.timeNow()}
	return id
}

// Get returns the session and marks it as used. Sessions belonging to
// another owner are reported as not found.
func (r *Registry) Get(id, owner string) (*editor.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return nil, ErrNotFound
	}
	if e.session.Closed() {
		delete(r.sessions, id)
		return nil, ErrNotFound
	}
	e.lastSeen = r.timeNow()
	return e.session, nil
}

// Remove drops the session and releases everything it holds.
func (r *Registry) Remove(id, owner string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	e.session.Close()
	return nil
}

// Cleanup tears down sessions idle for longer than the timeout and drops
// sessions already closed. It returns how many were removed.
func (r *Registry) Cleanup() int {
	now := r.timeNow()

	r.mu.Lock()
	var expired []*editor.Session
	for id, e := range r.sessions {
		if e.session.Closed() || now.Sub(e.lastSeen) > r.idleTimeout {
			expired = append(expired, e.session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every session, e.g. on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
	}
}

// RunPeriodicCleanup runs Cleanup at the given interval.
// This function blocks and should typically be run in a goroutine.
// It will continue running until the provided stop channel is closed.
func (r *Registry) RunPeriodicCleanup(interval time.Duration, stopChan <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Cleanup(); n > 0 {
				slog.Info("tore down idle edit sessions", "count", n, "idle_timeout", r.idleTimeout)
			}
		case <-stopChan:
			slog.Info("stopping edit session cleanup")
			return
		}
	}
}
