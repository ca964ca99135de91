// Package sshsession tracks live remote shell sessions.
//
// The Registry maps opaque session ids to Sessions. Its own mutex guards only
// the map; it is never held across network I/O. Work on a session is
// serialized by that session's lock, so unrelated sessions proceed in
// parallel while two operations on the same id never interleave.
package sshsession

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/wellgate/internal/logutil"
	"github.com/gluk-w/wellgate/internal/sshconn"
)

// DefaultIdleTimeout is how long a session may go unused before it is
// evicted. Fixed at 30 minutes.
const DefaultIdleTimeout = 1800 * time.Second

var (
	// ErrNotFound is returned by Acquire for unknown or already removed ids.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned by Acquire when the session was idle past the
	// threshold. The session has been removed.
	ErrExpired = errors.New("session expired")
)

// RemoveReason says why a session left the registry.
type RemoveReason string

const (
	ReasonIdle       RemoveReason = "idle"
	ReasonDisconnect RemoveReason = "disconnect"
	ReasonShutdown   RemoveReason = "shutdown"
)

// Removal describes a session that was just removed.
type Removal struct {
	SessionID string
	User      string
	Reason    RemoveReason
	Age       time.Duration
}

// RemoveListener is called synchronously after a session is torn down, while
// its lock is still held. Keep listeners short.
type RemoveListener func(Removal)

// Registry is the shared id → Session map.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []RemoveListener

	nowFn func() time.Time // injectable clock for testing
	newID func() string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		nowFn:    time.Now,
		newID:    uuid.NewString,
	}
}

// SetClock replaces the registry's time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFn = now
	for _, s := range r.sessions {
		s.nowFn = now
	}
}

// OnRemove registers a listener for session removals.
func (r *Registry) OnRemove(fn RemoveListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Create stores a new session for an authenticated connection and returns
// its freshly generated id.
func (r *Registry) Create(conn sshconn.Handle, creds sshconn.Credentials) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = r.newID()
	}

	now := r.nowFn()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		conn:      conn,
		creds:     creds,
		user:      creds.User,
		nowFn:     r.nowFn,
	}
	s.lastActive.Store(now.UnixNano())
	r.sessions[id] = s

	log.Printf("[session-reg] created session %s for %s", logutil.MaskID(id), logutil.SanitizeForLog(creds.User))
	return id
}

// Lookup returns the session for id without locking it.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Acquire looks up id, locks the session, and checks it against the idle
// threshold. On success the caller owns the lock and must Unlock. An idle
// session is removed and ErrExpired returned.
func (r *Registry) Acquire(id string, idleTimeout time.Duration) (*Session, error) {
	s, ok := r.Lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	s.Lock()
	if s.removed {
		s.Unlock()
		return nil, ErrNotFound
	}
	if idleTimeout > 0 && s.idleFor(r.now()) > idleTimeout {
		r.removeLocked(s, ReasonIdle)
		s.Unlock()
		return nil, ErrExpired
	}
	return s, nil
}

// Touch marks the session as used now. No-op for unknown ids.
func (r *Registry) Touch(id string) {
	s, ok := r.Lookup(id)
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()
	if !s.removed {
		s.MarkActive()
	}
}

// EvictIfIdle removes the session when it has been idle longer than
// threshold. It waits for any in-flight operation on the session.
func (r *Registry) EvictIfIdle(id string, threshold time.Duration) bool {
	s, ok := r.Lookup(id)
	if !ok {
		return false
	}
	s.Lock()
	defer s.Unlock()
	return r.evictLocked(s, threshold)
}

// SweepIdle evicts every session idle longer than threshold and returns how
// many were removed. Sessions whose lock is held are in use and skipped, so a
// sweep never waits behind a running command.
func (r *Registry) SweepIdle(threshold time.Duration) int {
	evicted := 0
	for _, s := range r.snapshot() {
		if !s.mu.TryLock() {
			continue
		}
		if r.evictLocked(s, threshold) {
			evicted++
		}
		s.Unlock()
	}
	return evicted
}

// Remove closes and deletes the session. Unknown ids are ignored, which
// makes repeated disconnects harmless.
func (r *Registry) Remove(id string) bool {
	s, ok := r.Lookup(id)
	if !ok {
		return false
	}
	s.Lock()
	defer s.Unlock()
	if s.removed {
		return false
	}
	r.removeLocked(s, ReasonDisconnect)
	return true
}

// CloseAll removes every session. Used during shutdown.
func (r *Registry) CloseAll() {
	sessions := r.snapshot()
	for _, s := range sessions {
		s.Lock()
		if !s.removed {
			r.removeLocked(s, ReasonShutdown)
		}
		s.Unlock()
	}
	log.Printf("[session-reg] all sessions closed (%d total)", len(sessions))
}

func (r *Registry) evictLocked(s *Session, threshold time.Duration) bool {
	if s.removed || s.idleFor(r.now()) <= threshold {
		return false
	}
	r.removeLocked(s, ReasonIdle)
	return true
}

// removeLocked tears the session down and deletes it from the map. Caller
// holds the session lock.
func (r *Registry) removeLocked(s *Session, reason RemoveReason) {
	s.teardown()

	r.mu.Lock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
	}
	listeners := make([]RemoveListener, len(r.listeners))
	copy(listeners, r.listeners)
	now := r.nowFn
	r.mu.Unlock()

	log.Printf("[session-reg] removed session %s (%s)", logutil.MaskID(s.ID), reason)

	ev := Removal{
		SessionID: s.ID,
		User:      s.user,
		Reason:    reason,
		Age:       now().Sub(s.CreatedAt),
	}
	for _, l := range listeners {
		l(ev)
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nowFn()
}
