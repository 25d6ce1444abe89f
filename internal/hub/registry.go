package hub

import (
	"fmt"
	"sync"
)

// Registry maps session ids to live sessions. It is safe for concurrent use
// and never performs I/O while holding its lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Put inserts or overwrites the session stored under s.ID and reports
// whether an existing session was replaced.
func (r *Registry) Put(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.sessions[s.ID]
	r.sessions[s.ID] = s
	return replaced
}

// Remove deletes the session and reports whether it was present.
func (r *Registry) Remove(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// List returns a snapshot of all sessions in no particular order.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
