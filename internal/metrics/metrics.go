// Package metrics exposes gateway activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gluk-w/wellgate/internal/gateway"
	"github.com/gluk-w/wellgate/internal/sshsession"
)

const namespace = "wellgate"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	commands   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reconnects *prometheus.CounterVec
	logins     *prometheus.CounterVec
	evictions  *prometheus.CounterVec
}

// New registers all collectors. activeSessions is sampled at scrape time.
func New(activeSessions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Remote operations by operation and result.",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Remote operation duration in seconds, including any reconnect.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Reconnect attempts by result.",
			},
			[]string{"result"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Login attempts by result.",
			},
			[]string{"result"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Sessions removed from the registry by reason.",
			},
			[]string{"reason"},
		),
	}

	sessions := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently registered.",
		},
		func() float64 { return float64(activeSessions()) },
	)

	m.registry.MustRegister(
		m.commands, m.duration, m.reconnects, m.logins, m.evictions, sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveEvent is a gateway.EventListener.
func (m *Metrics) ObserveEvent(ev gateway.Event) {
	switch ev.Type {
	case gateway.EventCommand:
		m.commands.WithLabelValues(ev.Op, ev.Result()).Inc()
		m.duration.WithLabelValues(ev.Op).Observe(ev.Duration.Seconds())
	case gateway.EventReconnected:
		m.reconnects.WithLabelValues("ok").Inc()
	case gateway.EventReconnectFailed:
		m.reconnects.WithLabelValues("failed").Inc()
	case gateway.EventConnected:
		m.logins.WithLabelValues("ok").Inc()
	case gateway.EventAuthFailed:
		if ev.Result() == "rate_limited" {
			m.logins.WithLabelValues("limited").Inc()
			return
		}
		m.logins.WithLabelValues("failed").Inc()
	}
}

// ObserveRemoval is an sshsession.RemoveListener.
func (m *Metrics) ObserveRemoval(r sshsession.Removal) {
	m.evictions.WithLabelValues(string(r.Reason)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
