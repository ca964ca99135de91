package gateway

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/wellgate/internal/logutil"
)

const (
	loginWindow           = time.Minute
	loginMaxAttempts      = 10
	loginFailureThreshold = 5
	loginInitialBlock     = 30 * time.Second
	loginMaxBlock         = 5 * time.Minute
)

// RateLimitedError rejects a login attempt before any connection is made.
type RateLimitedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts: %s (retry after %s)", e.Reason, e.RetryAfter.Round(time.Second))
}

type loginState struct {
	attempts      []time.Time
	failures      int
	blockedUntil  time.Time
	blockDuration time.Duration
}

// LoginLimiter throttles login attempts per username and source address.
// It keeps a sliding window of attempts and, after repeated consecutive
// failures, blocks the key for a cooldown that doubles up to loginMaxBlock.
// A successful login clears the key.
type LoginLimiter struct {
	mu     sync.Mutex
	states map[string]*loginState
	nowFn  func() time.Time
}

func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{states: make(map[string]*loginState), nowFn: time.Now}
}

func loginKey(user, ip string) string { return user + "|" + ip }

// Allow records an attempt for key, or returns a *RateLimitedError.
func (l *LoginLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	st, ok := l.states[key]
	if !ok {
		st = &loginState{}
		l.states[key] = st
	}

	if now.Before(st.blockedUntil) {
		return &RateLimitedError{
			Reason:     fmt.Sprintf("blocked after %d consecutive failures", st.failures),
			RetryAfter: st.blockedUntil.Sub(now),
		}
	}

	cutoff := now.Add(-loginWindow)
	recent := st.attempts[:0]
	for _, t := range st.attempts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	st.attempts = recent

	if len(st.attempts) >= loginMaxAttempts {
		retry := st.attempts[0].Add(loginWindow).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return &RateLimitedError{
			Reason:     fmt.Sprintf("more than %d attempts in %s", loginMaxAttempts, loginWindow),
			RetryAfter: retry,
		}
	}
	st.attempts = append(st.attempts, now)
	return nil
}

// RecordSuccess forgets key.
func (l *LoginLimiter) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, key)
}

// RecordFailure counts a failed login and starts or extends a block once the
// threshold is reached.
func (l *LoginLimiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[key]
	if !ok {
		st = &loginState{}
		l.states[key] = st
	}
	st.failures++
	if st.failures < loginFailureThreshold {
		return
	}
	if st.blockDuration == 0 {
		st.blockDuration = loginInitialBlock
	} else {
		st.blockDuration = min(st.blockDuration*2, loginMaxBlock)
	}
	st.blockedUntil = l.nowFn().Add(st.blockDuration)
	log.Printf("[gateway] login key %s blocked for %s after %d failures",
		logutil.SanitizeForLog(key), st.blockDuration, st.failures)
}

// Prune drops keys with no recent attempts and no active block.
func (l *LoginLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	cutoff := now.Add(-loginWindow)
	n := 0
	for k, st := range l.states {
		if now.Before(st.blockedUntil) {
			continue
		}
		if len(st.attempts) > 0 && st.attempts[len(st.attempts)-1].After(cutoff) {
			continue
		}
		delete(l.states, k)
		n++
	}
	return n
}

// SetNowFunc overrides the clock.
func (l *LoginLimiter) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	l.nowFn = fn
	l.mu.Unlock()
}
