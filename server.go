package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/gluk-w/wellgate/internal/config"
	"github.com/gluk-w/wellgate/internal/crypto"
	"github.com/gluk-w/wellgate/internal/database"
	"github.com/gluk-w/wellgate/internal/gateway"
	"github.com/gluk-w/wellgate/internal/handlers"
	"github.com/gluk-w/wellgate/internal/logging"
	"github.com/gluk-w/wellgate/internal/metrics"
	"github.com/gluk-w/wellgate/internal/middleware"
	"github.com/gluk-w/wellgate/internal/sshaudit"
	"github.com/gluk-w/wellgate/internal/sshconn"
	"github.com/gluk-w/wellgate/internal/sshsession"
)

func newRouter(m *metrics.Metrics, adminToken string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.SourceIP)
	r.Use(middleware.ResolveSession(handlers.Cookies))

	r.Get("/health", handlers.HealthCheck)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Post("/connect", handlers.Connect)
	r.Post("/disconnect", handlers.Disconnect)
	r.Post("/execute", handlers.Execute)
	r.Post("/extractconfcontent", handlers.ExtractConfContent)
	r.Get("/cflist", handlers.GetConfList)
	r.Post("/postreply", handlers.PostReply)
	r.Post("/put_cflist", handlers.PutConfList)

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(adminToken))
		r.Get("/audit-logs", handlers.GetAuditLogs)
		r.Post("/shutdown", handlers.ShutdownServer)
	})

	return r
}

func runServer(ctx context.Context) error {
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer database.Close()

	host := config.Cfg.ResolveHost()
	log.Printf("Config: host=%s:%d welltest=%v idle=%s sweep=%s database=%q",
		host, config.Cfg.Port, config.Cfg.WellTest, config.Cfg.IdleTimeout, config.Cfg.SweepInterval, config.Cfg.DatabasePath)

	key, err := crypto.LoadKey(config.Cfg.CookieKey)
	if err != nil {
		return fmt.Errorf("cookie key: %w", err)
	}
	handlers.Cookies = crypto.NewSealer(key, config.Cfg.IdleTimeout)
	handlers.CookieMaxAge = config.Cfg.IdleTimeout
	handlers.CookieSecure = config.Cfg.CookieSecure

	dialer, err := sshconn.NewSSHDialer(config.Cfg.ConnectTimeout, config.Cfg.KnownHostsPath)
	if err != nil {
		return fmt.Errorf("ssh dialer: %w", err)
	}
	if config.Cfg.KnownHostsPath == "" {
		log.Printf("WARNING: WELLGATE_KNOWN_HOSTS_PATH not set, remote host keys are not verified")
	}

	reg := sshsession.NewRegistry()
	gw := gateway.New(reg, dialer, gateway.Config{
		Host:        host,
		Port:        config.Cfg.Port,
		IdleTimeout: config.Cfg.IdleTimeout,
	})
	limiter := gateway.NewLoginLimiter()
	gw.SetLoginLimiter(limiter)
	handlers.Gateway = gw

	m := metrics.New(reg.Len)
	gw.OnEvent(m.ObserveEvent)
	reg.OnRemove(m.ObserveRemoval)

	c := cron.New()
	evictor := sshsession.NewEvictor(reg, config.Cfg.IdleTimeout, config.Cfg.SweepInterval)
	if _, err := evictor.Register(c); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 10m", func() { limiter.Prune() }); err != nil {
		return err
	}

	if database.DB != nil {
		auditor, err := sshaudit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
		if err != nil {
			return fmt.Errorf("audit init: %w", err)
		}
		gw.OnEvent(auditor.HandleEvent)
		reg.OnRemove(auditor.HandleRemoval)
		if _, err := auditor.RegisterPurge(c); err != nil {
			return err
		}
		handlers.AuditLog = auditor
	}
	c.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	handlers.Shutdown = cancel

	srv := &http.Server{
		Addr:              config.Cfg.ListenAddr,
		Handler:           newRouter(m, config.Cfg.AdminToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	log.Println("Shutting down...")

	<-c.Stop().Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	reg.CloseAll()
	log.Println("Server stopped")
	return serveErr
}
