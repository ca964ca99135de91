package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":5000"`

	// Remote host. WellTest switches every login to TestHost.
	Host     string `envconfig:"HOST" default:"well.com"`
	TestHost string `envconfig:"TEST_HOST" default:"user.dev.well.com"`
	WellTest bool   `envconfig:"WELLTEST" default:"false"`
	Port     int    `envconfig:"PORT" default:"22"`

	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`
	// IdleTimeout is fixed at StandardIdleTimeout in production. Overrides
	// exist for tests and staging and are logged at startup.
	IdleTimeout   time.Duration `envconfig:"IDLE_TIMEOUT" default:"30m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`

	// KnownHostsPath enables host key verification when set.
	KnownHostsPath string `envconfig:"KNOWN_HOSTS_PATH" default:""`

	// CookieKey is a base64 fernet key for the session cookie. When empty the
	// key is loaded from (or generated into) the database.
	CookieKey    string `envconfig:"COOKIE_KEY" default:""`
	CookieSecure bool   `envconfig:"COOKIE_SECURE" default:"false"`

	// AdminToken enables the operator routes (/audit-logs, /shutdown).
	AdminToken string `envconfig:"ADMIN_TOKEN" default:""`

	DatabasePath       string `envconfig:"DATABASE_PATH" default:"/app/data/wellgate.db"`
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	LogPath            string `envconfig:"LOG_PATH" default:"/app/data/wellgate.log"`
}

// StandardIdleTimeout is the idle threshold sessions are expected to have.
const StandardIdleTimeout = 30 * time.Minute

var Cfg Settings

func Load() {
	if err := envconfig.Process("WELLGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	switch {
	case Cfg.IdleTimeout <= 0:
		log.Printf("[config] WELLGATE_IDLE_TIMEOUT=%s is not positive, using %s", Cfg.IdleTimeout, StandardIdleTimeout)
		Cfg.IdleTimeout = StandardIdleTimeout
	case Cfg.IdleTimeout != StandardIdleTimeout:
		log.Printf("[config] WARNING: WELLGATE_IDLE_TIMEOUT=%s overrides the standard %s idle threshold", Cfg.IdleTimeout, StandardIdleTimeout)
	}
}

// ResolveHost returns the host every session dials.
func (s Settings) ResolveHost() string {
	if s.WellTest {
		return s.TestHost
	}
	return s.Host
}
