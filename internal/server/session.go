// Package server implements the server-side differential-synchronization
// core: per-session shadows, the master document handle, and the
// multi-session fan-out orchestrator (spec §4.3, §4.4).
package server

import (
	"sync"
	"time"

	"collabtext/internal/protocol"
)

// Session is the server-side record for one connected client (spec §3).
type Session struct {
	mu sync.Mutex

	ClientID string

	shadow       string
	backupShadow string

	lastClientVersion uint64
	lastServerVersion uint64

	// outbox holds at most one pending outbound batch; a fresh fan-out
	// diff replaces whatever was queued (spec §4.3 "Fan-out policy").
	outbox *protocol.Batch

	ConnectedAt time.Time
	lastSeen    time.Time
}

// NewSession creates a session whose shadow starts at the master's
// current content (spec §3 Lifecycle).
func NewSession(clientID, masterContent string) *Session {
	now := time.Now()
	return &Session{
		ClientID:     clientID,
		shadow:       masterContent,
		backupShadow: masterContent,
		ConnectedAt:  now,
		lastSeen:     now,
	}
}

// Touch records that the session was just active; Idle reports the time
// elapsed since. Nothing in the server sweeps sessions by idle time.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
}

// Idle reports how long it has been since the session was last active.
func (s *Session) Idle() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeen)
}

// Shadow returns the session's current server-held shadow.
func (s *Session) Shadow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shadow
}

// Enqueue replaces any pending outbound batch with b (spec §4.3 "Fan-out
// policy": bounded to one batch per session).
func (s *Session) Enqueue(b protocol.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = &b
}

// Dequeue returns and clears the pending outbound batch, if any.
func (s *Session) Dequeue() (protocol.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outbox == nil {
		return protocol.Batch{}, false
	}
	b := *s.outbox
	s.outbox = nil
	return b, true
}
