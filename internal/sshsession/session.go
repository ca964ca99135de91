package sshsession

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/wellgate/internal/sshconn"
)

// Session binds an opaque id to one live connection, the credentials needed to
// re-establish it, and the time it was last used successfully.
//
// Every operation against a session (command, interactive protocol,
// reconnect, eviction) runs while holding the session lock. The connection
// and credentials accessors below require the lock; LastActive does not.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	conn    sshconn.Handle
	creds   sshconn.Credentials
	removed bool
	user    string

	lastActive atomic.Int64 // unix nanoseconds
	nowFn      func() time.Time
}

// Lock acquires exclusive use of the session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// User returns the login name. Safe without the lock; it never changes.
func (s *Session) User() string { return s.user }

// LastActive returns the time of the last successful operation.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Conn returns the current connection handle. Caller holds the lock.
func (s *Session) Conn() sshconn.Handle { return s.conn }

// Removed reports whether the session was evicted or disconnected while the
// caller waited for the lock. Caller holds the lock.
func (s *Session) Removed() bool { return s.removed }

// MarkActive records a successful operation. Caller holds the lock.
func (s *Session) MarkActive() {
	s.lastActive.Store(s.nowFn().UnixNano())
}

// Reconnect closes the current handle, dials a new one with the stored
// credentials, and installs it. Close errors on the stale handle are
// ignored. When dialing fails the closed handle stays in place, so the next
// operation observes a transport fault and reconnects again. Caller holds
// the lock.
func (s *Session) Reconnect(dial func(sshconn.Credentials) (sshconn.Handle, error)) (sshconn.Handle, error) {
	if s.conn != nil {
		s.conn.Close()
	}
	h, err := dial(s.creds)
	if err != nil {
		return nil, err
	}
	s.conn = h
	return h, nil
}

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActive())
}

// teardown closes the connection and marks the session removed. Caller
// holds the lock.
func (s *Session) teardown() {
	s.removed = true
	if s.conn != nil {
		s.conn.Close()
	}
	s.creds.Secret = ""
}
