package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveSession means the id is unknown; the caller must connect.
	ErrNoActiveSession = errors.New("no active session, please connect first")
	// ErrSessionTimedOut means the session was idle too long and has been
	// removed.
	ErrSessionTimedOut = errors.New("session timed out due to inactivity")
	// ErrAuthFailed means the initial login was rejected or the host could not
	// be reached.
	ErrAuthFailed = errors.New("ssh connection failed")
	// ErrInvalidRequest marks malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)

// invalid builds an ErrInvalidRequest with a caller-facing reason.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// ReconnectError reports a transport fault that survived the single
// reconnect-and-retry. The session stays registered but unusable until the
// next successful reconnect.
type ReconnectError struct {
	Op  string
	Err error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("connection lost and reconnect failed: %v", e.Err)
}

func (e *ReconnectError) Unwrap() error { return e.Err }

// ProtocolFailure is a remote operation that completed but was classified as
// failed from its output or exit status.
type ProtocolFailure struct {
	Op         string
	Message    string
	ExitStatus int
}

func (e *ProtocolFailure) Error() string { return e.Message }

// transportFault marks an error from the connection layer, as opposed to a
// remote program reporting failure.
type transportFault struct {
	err error
}

func (e *transportFault) Error() string { return e.err.Error() }
func (e *transportFault) Unwrap() error { return e.err }

func isTransportFault(err error) bool {
	var tf *transportFault
	return errors.As(err, &tf)
}
