package gateway

import (
	"context"
	"log"
	"time"

	"github.com/gluk-w/wellgate/internal/logutil"
	"github.com/gluk-w/wellgate/internal/sshconn"
	"github.com/gluk-w/wellgate/internal/sshsession"
)

// retryPolicy selects which first-attempt failures earn a reconnect.
type retryPolicy int

const (
	// retryOnTransport reconnects only when the connection itself failed.
	retryOnTransport retryPolicy = iota
	// retryOnAnyFailure also reconnects after a classified remote failure,
	// for protocols where a half-dead connection shows up as garbled output.
	// The handle is checked with a keepalive first so that a dead connection
	// is replaced before any input is written.
	retryOnAnyFailure
)

// attemptFunc performs one try of an operation against h. Connection-layer
// errors must be returned as *transportFault.
type attemptFunc func(ctx context.Context, h sshconn.Handle) error

// withSession is the single reconnect-and-retry combinator. It holds the
// session lock from lookup through the final touch, so the handle cannot be
// replaced or evicted underneath a running attempt. The stale handle is
// closed, a new one dialed with the stored credentials, and the attempt
// repeated exactly once. A transport fault on the retry becomes a
// *ReconnectError; any other final outcome is returned as-is. At most one
// reconnect happens per call, whether triggered by an unanswered keepalive or by
// the first attempt failing.
func (g *Gateway) withSession(ctx context.Context, id, op string, policy retryPolicy, try attemptFunc) (err error) {
	start := time.Now()
	var user string
	defer func() {
		g.emit(Event{
			Type:      EventCommand,
			SessionID: id,
			User:      user,
			SourceIP:  sourceIP(ctx),
			Op:        op,
			Duration:  time.Since(start),
			Err:       err,
		})
	}()

	s, err := g.acquire(id)
	if err != nil {
		return err
	}
	defer s.Unlock()
	user = s.User()

	reconnected := false
	if policy == retryOnAnyFailure && !s.Conn().Alive(ctx) {
		log.Printf("[gateway] %s on session %s: keepalive unanswered, reconnecting", op, logutil.MaskID(id))
		if err = g.reconnectLocked(ctx, s, op); err != nil {
			return err
		}
		reconnected = true
	}

	err = try(ctx, s.Conn())
	if err != nil && !reconnected && (policy == retryOnAnyFailure || isTransportFault(err)) {
		log.Printf("[gateway] %s on session %s failed, reconnecting: %v", op, logutil.MaskID(id), err)
		if err = g.reconnectLocked(ctx, s, op); err != nil {
			return err
		}
		reconnected = true
		err = try(ctx, s.Conn())
	}
	if reconnected && isTransportFault(err) {
		g.emit(Event{
			Type:      EventReconnectFailed,
			SessionID: id,
			User:      user,
			SourceIP:  sourceIP(ctx),
			Op:        op,
			Details:   "attempt after reconnect failed: " + err.Error(),
			Err:       err,
		})
		return &ReconnectError{Op: op, Err: err}
	}
	if err != nil {
		return err
	}

	s.MarkActive()
	return nil
}

// reconnectLocked swaps the session's handle for a fresh one. Caller holds
// the session lock.
func (g *Gateway) reconnectLocked(ctx context.Context, s *sshsession.Session, op string) error {
	start := time.Now()
	_, err := s.Reconnect(func(creds sshconn.Credentials) (sshconn.Handle, error) {
		return g.dialer.Dial(ctx, creds)
	})
	if err != nil {
		log.Printf("[gateway] reconnect for session %s failed: %v", logutil.MaskID(s.ID), err)
		g.emit(Event{
			Type:      EventReconnectFailed,
			SessionID: s.ID,
			User:      s.User(),
			SourceIP:  sourceIP(ctx),
			Op:        op,
			Details:   err.Error(),
			Duration:  time.Since(start),
			Err:       err,
		})
		return &ReconnectError{Op: op, Err: err}
	}

	log.Printf("[gateway] session %s reconnected in %s", logutil.MaskID(s.ID), time.Since(start))
	g.emit(Event{
		Type:      EventReconnected,
		SessionID: s.ID,
		User:      s.User(),
		SourceIP:  sourceIP(ctx),
		Op:        op,
		Duration:  time.Since(start),
	})
	return nil
}
