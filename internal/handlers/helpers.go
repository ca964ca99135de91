package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gluk-w/wellgate/internal/gateway"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeGatewayError maps the gateway error taxonomy onto HTTP statuses.
// reconnectStatus is the status for a failed reconnect, which differs by
// route.
func writeGatewayError(w http.ResponseWriter, err error, reconnectStatus int) {
	var (
		re *gateway.ReconnectError
		pf *gateway.ProtocolFailure
		rl *gateway.RateLimitedError
	)
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds()+0.5)))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, gateway.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrNoActiveSession),
		errors.Is(err, gateway.ErrSessionTimedOut),
		errors.Is(err, gateway.ErrAuthFailed):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &re):
		writeError(w, reconnectStatus, err.Error())
	case errors.As(err, &pf):
		writeError(w, http.StatusInternalServerError, pf.Message)
	default:
		log.Printf("[handlers] unexpected error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// flexString accepts a JSON string or number. Conference and topic ids
// arrive both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}
