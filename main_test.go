package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gluk-w/wellgate/internal/config"
	"github.com/gluk-w/wellgate/internal/handlers"
	"github.com/gluk-w/wellgate/internal/metrics"
)

func TestRouter_PublicRoutes(t *testing.T) {
	r := newRouter(metrics.New(func() int { return 0 }), "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("/health: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "wellgate_sessions_active") {
		t.Errorf("/metrics: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/execute", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /execute: expected 405, got %d", w.Code)
	}
}

func TestRouter_OperatorRoutes(t *testing.T) {
	called := make(chan struct{}, 1)
	handlers.Shutdown = func() { called <- struct{}{} }
	defer func() { handlers.Shutdown = nil }()

	disabled := newRouter(metrics.New(func() int { return 0 }), "")
	w := httptest.NewRecorder()
	disabled.ServeHTTP(w, httptest.NewRequest("POST", "/shutdown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("shutdown without admin token configured: expected 404, got %d", w.Code)
	}

	r := newRouter(metrics.New(func() int { return 0 }), "op-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/shutdown", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("shutdown without bearer: expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/shutdown", nil)
	req.Header.Set("Authorization", "Bearer op-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("shutdown with bearer: expected 200, got %d", w.Code)
	}
	<-called

	req = httptest.NewRequest("GET", "/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer op-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("audit-logs without database: expected 503, got %d", w.Code)
	}
}

func TestApplyFlags(t *testing.T) {
	prev := config.Cfg
	defer func() { config.Cfg = prev }()
	config.Cfg = config.Settings{Host: "well.com", TestHost: "user.dev.well.com", ListenAddr: ":5000"}

	if err := rootCmd.Flags().Parse([]string{"--welltest", "--addr", "127.0.0.1:6000"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	applyFlags(rootCmd)

	if config.Cfg.ResolveHost() != "user.dev.well.com" {
		t.Errorf("ResolveHost() = %q", config.Cfg.ResolveHost())
	}
	if config.Cfg.ListenAddr != "127.0.0.1:6000" {
		t.Errorf("ListenAddr = %q", config.Cfg.ListenAddr)
	}
}

func TestLogsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wellgate.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WELLGATE_LOG_PATH", path)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"logs", "-n", "2"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out.String() != "two\nthree\n" {
		t.Errorf("logs output = %q", out.String())
	}
}

func TestAuditCommandDisabled(t *testing.T) {
	t.Setenv("WELLGATE_DATABASE_PATH", "")
	rootCmd.SetArgs([]string{"audit"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err == nil || !strings.Contains(err.Error(), "audit log disabled") {
		t.Errorf("audit without database: err = %v", err)
	}
}
