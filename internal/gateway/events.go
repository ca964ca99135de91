package gateway

import (
	"context"
	"errors"
	"time"
)

// EventType names a gateway event.
type EventType string

const (
	EventConnected       EventType = "session_connected"
	EventAuthFailed      EventType = "auth_failed"
	EventCommand         EventType = "command_execution"
	EventReconnected     EventType = "session_reconnected"
	EventReconnectFailed EventType = "reconnect_failed"
)

// Operation names used in events and ProtocolFailure.Op.
const (
	OpExecute        = "execute"
	OpReplyPost      = "reply_post"
	OpReplaceList    = "replace_list"
	OpReadConfigList = "read_config_list"
	OpExtract        = "extract"
)

// Event is emitted for logins, every operation attempt and every reconnect.
// It never carries credentials.
type Event struct {
	Type      EventType
	SessionID string
	User      string
	SourceIP  string
	Op        string
	Details   string
	Duration  time.Duration
	Err       error
	Timestamp time.Time
}

// EventListener is called synchronously for each event. Long-running handlers
// should spawn goroutines.
type EventListener func(Event)

// Result returns a short label for the event's outcome, suitable for metric
// labels and audit records.
func (e Event) Result() string {
	return ResultLabel(e.Err)
}

// ResultLabel maps an operation error onto a fixed set of labels.
func ResultLabel(err error) string {
	var (
		re *ReconnectError
		pf *ProtocolFailure
		rl *RateLimitedError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, ErrNoActiveSession):
		return "no_session"
	case errors.Is(err, ErrSessionTimedOut):
		return "timed_out"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.As(err, &re):
		return "reconnect_failed"
	case errors.As(err, &pf):
		return "protocol_failure"
	default:
		return "error"
	}
}

type sourceIPKey struct{}

// WithSourceIP attaches the caller's address to ctx for event reporting.
func WithSourceIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, sourceIPKey{}, ip)
}

func sourceIP(ctx context.Context) string {
	ip, _ := ctx.Value(sourceIPKey{}).(string)
	return ip
}

// OnEvent registers a listener.
func (g *Gateway) OnEvent(l EventListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

func (g *Gateway) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	g.mu.RLock()
	listeners := make([]EventListener, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}
