package server

import "sync"

// Registry is a keyed mapping from client identifier to Session, safe for
// concurrent mutation (spec §4.4). Reads (Get, Snapshot) take the
// registry's read lock; Put/Delete take its write lock. No method here
// ever calls back into a Session's own lock while holding the registry
// write lock, and Snapshot releases the registry lock before the caller
// touches any individual session, preserving the lock hierarchy
// registry-read -> session-write -> master-write.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers a new session, replacing any existing one for the same
// client ID.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ClientID] = s
}

// Get returns the session for clientID, if connected.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// Delete removes clientID's session.
func (r *Registry) Delete(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, clientID)
}

// Snapshot returns a stable slice of every connected session, for the
// fan-out loop to iterate without holding the registry lock while
// diffing against the master (spec §4.4).
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Others returns Snapshot filtered to exclude exceptClientID (spec §4.3
// step 5: "for every other session").
func (r *Registry) Others(exceptClientID string) []*Session {
	all := r.Snapshot()
	out := make([]*Session, 0, len(all))
	for _, s := range all {
		if s.ClientID != exceptClientID {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of connected sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
