package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gluk-w/wellgate/internal/crypto"
	"github.com/gluk-w/wellgate/internal/gateway"
	"github.com/gluk-w/wellgate/internal/logutil"
	"github.com/gluk-w/wellgate/internal/middleware"
)

// Set from main.go during init.
var (
	Gateway *gateway.Gateway
	Cookies *crypto.Sealer

	// CookieMaxAge bounds the session cookie; it matches the idle timeout and
	// restarts on every successful call.
	CookieMaxAge = 30 * time.Minute
	// CookieSecure forces the Secure attribute behind a TLS-terminating proxy.
	CookieSecure bool
)

func setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) error {
	sealed, err := Cookies.Seal(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    sealed,
		Path:     "/",
		HttpOnly: true,
		Secure:   CookieSecure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(CookieMaxAge.Seconds()),
	})
	return nil
}

// refreshSessionCookie re-seals the cookie after a successful session-bound
// call, so its age tracks the session's last activity rather than its login.
// Header-only callers get no cookie.
func refreshSessionCookie(w http.ResponseWriter, r *http.Request) {
	if Cookies == nil {
		return
	}
	if _, err := r.Cookie(middleware.SessionCookie); err != nil {
		return
	}
	id := middleware.GetSessionID(r)
	if id == "" {
		return
	}
	if err := setSessionCookie(w, r, id); err != nil {
		log.Printf("[handlers] refresh session cookie for %s: %v", logutil.MaskID(id), err)
	}
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   CookieSecure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Connect handles POST /connect.
func Connect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Missing credentials")
		return
	}

	id, err := Gateway.Connect(r.Context(), body.Username, body.Password)
	if err != nil {
		writeGatewayError(w, err, http.StatusUnauthorized)
		return
	}

	if Cookies != nil {
		if err := setSessionCookie(w, r, id); err != nil {
			log.Printf("[handlers] seal session cookie for %s: %v", logutil.MaskID(id), err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Connected",
		"session_id": id,
	})
}

// Disconnect handles POST /disconnect. It always succeeds.
func Disconnect(w http.ResponseWriter, r *http.Request) {
	Gateway.Disconnect(r.Context(), middleware.GetSessionID(r))
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Disconnected"})
}
