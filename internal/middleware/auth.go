package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/gluk-w/wellgate/internal/gateway"
)

// SessionCookie holds the sealed session id.
const SessionCookie = "wellgate_session"

// SessionHeader carries a plain session id for clients without cookies.
const SessionHeader = "X-Session-ID"

type contextKey string

const sessionContextKey contextKey = "session_id"

// Opener unseals a cookie value.
type Opener interface {
	Open(token string) (string, error)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ResolveSession stores the caller's session id in the request context. The
// sealed cookie wins over the header; a cookie that fails to open is ignored.
// Requests without an id pass through, and the handler decides.
func ResolveSession(cookies Opener) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(SessionCookie); err == nil && cookies != nil {
				if v, err := cookies.Open(c.Value); err == nil {
					id = v
				}
			}
			if id == "" {
				id = strings.TrimSpace(r.Header.Get(SessionHeader))
			}
			ctx := context.WithValue(r.Context(), sessionContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionID returns the id resolved by ResolveSession, or "".
func GetSessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionContextKey).(string)
	return id
}

// SourceIP records the client address for audit events. Run it after
// chi's RealIP so proxies are honoured.
func SourceIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(gateway.WithSourceIP(r.Context(), ip)))
	})
}

// RequireAdminToken guards operator routes with a bearer token. An empty
// token disables the routes entirely.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Admin token required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
