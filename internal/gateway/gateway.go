// Package gateway runs remote commands on behalf of stateless callers.
//
// A caller holds only a session id. The Gateway resolves it through the
// sshsession.Registry, runs the command on that session's connection, and on
// a transport fault reconnects once with the stored credentials and retries
// once. The same reconnect-and-retry combinator (withSession) backs the
// one-shot Execute path and the two interactive protocols, ReplyPost and
// ReplaceList, whose free-text output is judged by Classify.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/wellgate/internal/logutil"
	"github.com/gluk-w/wellgate/internal/sshconn"
	"github.com/gluk-w/wellgate/internal/sshsession"
)

// slowCommand is the duration after which a command is logged as slow.
const slowCommand = 2 * time.Second

// Config holds the deployment values the gateway needs for every login.
type Config struct {
	// Host is the single remote host every session connects to.
	Host string
	Port int
	// IdleTimeout is checked on every operation; zero selects
	// sshsession.DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Gateway is safe for concurrent use.
type Gateway struct {
	reg    *sshsession.Registry
	dialer sshconn.Dialer
	cfg    Config

	limiter *LoginLimiter

	mu        sync.RWMutex
	listeners []EventListener
}

// New creates a Gateway over reg that opens connections with dialer.
func New(reg *sshsession.Registry, dialer sshconn.Dialer, cfg Config) *Gateway {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = sshsession.DefaultIdleTimeout
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &Gateway{reg: reg, dialer: dialer, cfg: cfg}
}

// SetLoginLimiter enables login throttling. Call before serving.
func (g *Gateway) SetLoginLimiter(l *LoginLimiter) { g.limiter = l }

// Registry returns the session registry the gateway operates on.
func (g *Gateway) Registry() *sshsession.Registry { return g.reg }

// Connect logs in to the configured host and registers a new session.
func (g *Gateway) Connect(ctx context.Context, user, secret string) (string, error) {
	if strings.TrimSpace(user) == "" || secret == "" {
		return "", invalid("missing credentials")
	}

	key := loginKey(user, sourceIP(ctx))
	if g.limiter != nil {
		if err := g.limiter.Allow(key); err != nil {
			log.Printf("[gateway] login for %s rejected: %v", logutil.SanitizeForLog(user), err)
			g.emit(Event{
				Type:     EventAuthFailed,
				User:     user,
				SourceIP: sourceIP(ctx),
				Details:  err.Error(),
				Err:      err,
			})
			return "", err
		}
	}

	creds := sshconn.Credentials{Host: g.cfg.Host, Port: g.cfg.Port, User: user, Secret: secret}
	start := time.Now()
	h, err := g.dialer.Dial(ctx, creds)
	if err != nil {
		if g.limiter != nil {
			g.limiter.RecordFailure(key)
		}
		log.Printf("[gateway] login for %s failed: %v", logutil.SanitizeForLog(user), err)
		g.emit(Event{
			Type:     EventAuthFailed,
			User:     user,
			SourceIP: sourceIP(ctx),
			Details:  err.Error(),
			Duration: time.Since(start),
			Err:      ErrAuthFailed,
		})
		return "", fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	if g.limiter != nil {
		g.limiter.RecordSuccess(key)
	}
	id := g.reg.Create(h, creds)
	g.emit(Event{
		Type:      EventConnected,
		SessionID: id,
		User:      user,
		SourceIP:  sourceIP(ctx),
		Details:   creds.Addr(),
		Duration:  time.Since(start),
	})
	return id, nil
}

// Disconnect closes and forgets the session. It never fails, including for
// unknown or already removed ids.
func (g *Gateway) Disconnect(ctx context.Context, id string) {
	if id == "" {
		return
	}
	g.reg.Remove(id)
}

// Execute runs command on the session's connection. A nonzero exit status is
// a successful call; only a connection that stays broken after one
// reconnect yields a *ReconnectError.
func (g *Gateway) Execute(ctx context.Context, id, command string) (sshconn.ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return sshconn.ExecResult{}, invalid("no command provided")
	}

	var res sshconn.ExecResult
	start := time.Now()
	err := g.withSession(ctx, id, OpExecute, retryOnTransport, func(ctx context.Context, h sshconn.Handle) error {
		r, err := h.Run(ctx, command)
		if err != nil {
			return &transportFault{err: err}
		}
		res = r
		return nil
	})
	if err != nil {
		return sshconn.ExecResult{}, err
	}
	if elapsed := time.Since(start); elapsed > slowCommand {
		log.Printf("[gateway] SLOW command (%s): %s", elapsed, logutil.CommandLabel(command))
	}
	return res, nil
}

// acquire locks the session for id and maps registry errors onto the
// gateway's taxonomy.
func (g *Gateway) acquire(id string) (*sshsession.Session, error) {
	if id == "" {
		return nil, ErrNoActiveSession
	}
	s, err := g.reg.Acquire(id, g.cfg.IdleTimeout)
	switch {
	case errors.Is(err, sshsession.ErrNotFound):
		return nil, ErrNoActiveSession
	case errors.Is(err, sshsession.ErrExpired):
		return nil, ErrSessionTimedOut
	case err != nil:
		return nil, err
	}
	return s, nil
}
