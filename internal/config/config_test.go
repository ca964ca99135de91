package config

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	Cfg = Settings{}
	Load()

	if Cfg.ListenAddr != ":5000" {
		t.Errorf("ListenAddr = %q", Cfg.ListenAddr)
	}
	if Cfg.Port != 22 {
		t.Errorf("Port = %d", Cfg.Port)
	}
	if Cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %s", Cfg.ConnectTimeout)
	}
	if Cfg.IdleTimeout != 30*time.Minute {
		t.Errorf("IdleTimeout = %s", Cfg.IdleTimeout)
	}
	if Cfg.ResolveHost() != "well.com" {
		t.Errorf("ResolveHost() = %q", Cfg.ResolveHost())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WELLGATE_WELLTEST", "true")
	t.Setenv("WELLGATE_TEST_HOST", "dev.example.net")
	t.Setenv("WELLGATE_SWEEP_INTERVAL", "30s")
	Cfg = Settings{}
	Load()

	if got := Cfg.ResolveHost(); got != "dev.example.net" {
		t.Errorf("ResolveHost() = %q, want test host", got)
	}
	if Cfg.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %s", Cfg.SweepInterval)
	}
}

func TestLoadIdleTimeoutOverride(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	t.Setenv("WELLGATE_IDLE_TIMEOUT", "2m")
	Cfg = Settings{}
	Load()
	if Cfg.IdleTimeout != 2*time.Minute {
		t.Errorf("IdleTimeout = %s", Cfg.IdleTimeout)
	}
	if !strings.Contains(buf.String(), "overrides the standard 30m0s idle threshold") {
		t.Errorf("override not logged: %q", buf.String())
	}

	buf.Reset()
	t.Setenv("WELLGATE_IDLE_TIMEOUT", "0s")
	Cfg = Settings{}
	Load()
	if Cfg.IdleTimeout != StandardIdleTimeout {
		t.Errorf("IdleTimeout = %s, want %s", Cfg.IdleTimeout, StandardIdleTimeout)
	}
}
