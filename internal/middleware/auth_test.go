package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeOpener map[string]string

func (f fakeOpener) Open(tok string) (string, error) {
	if v, ok := f[tok]; ok {
		return v, nil
	}
	return "", errors.New("bad token")
}

func resolved(t *testing.T, cookies Opener, req *http.Request) string {
	t.Helper()
	var got string
	h := ResolveSession(cookies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetSessionID(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestResolveSession(t *testing.T) {
	cookies := fakeOpener{"sealed-1": "session-from-cookie"}

	req := httptest.NewRequest("POST", "/execute", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sealed-1"})
	req.Header.Set(SessionHeader, "session-from-header")
	if got := resolved(t, cookies, req); got != "session-from-cookie" {
		t.Errorf("cookie+header resolved %q, want cookie id", got)
	}

	req = httptest.NewRequest("POST", "/execute", nil)
	req.Header.Set(SessionHeader, " session-from-header ")
	if got := resolved(t, cookies, req); got != "session-from-header" {
		t.Errorf("header resolved %q", got)
	}

	req = httptest.NewRequest("POST", "/execute", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "forged"})
	if got := resolved(t, cookies, req); got != "" {
		t.Errorf("forged cookie resolved %q", got)
	}
}

func TestRequireAdminToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "Bearer anything", http.StatusNotFound},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"wrong", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"valid", "s3cret", "Bearer s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/audit-logs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			RequireAdminToken(tt.token)(ok).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
