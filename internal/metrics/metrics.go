// Package metrics exposes Prometheus counters for the auth core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for authentication outcomes and
// key lifecycle operations. Each server instance owns its own registry so
// tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	authAttempts  *prometheus.CounterVec
	keyOperations *prometheus.CounterVec
}

// New creates a Metrics instance with a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		authAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "r1_auth_attempts_total",
				Help: "Authentication attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),

		keyOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "r1_key_operations_total",
				Help: "API key lifecycle operations by type and outcome",
			},
			[]string{"op", "outcome"},
		),
	}
}

// RecordAuth counts one authentication attempt. Method is "api_key" or
// "bearer"; outcome is "ok", "rejected", "deferred", or "error".
func (m *Metrics) RecordAuth(method, outcome string) {
	m.authAttempts.WithLabelValues(method, outcome).Inc()
}

// RecordKeyOp counts one key lifecycle operation. Op is "create", "rotate",
// or "revoke"; outcome is "ok" or "error".
func (m *Metrics) RecordKeyOp(op, outcome string) {
	m.keyOperations.WithLabelValues(op, outcome).Inc()
}

// Handler returns the HTTP handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
