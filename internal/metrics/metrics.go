// Package metrics holds the Prometheus collectors for token and session activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Revocation reasons used as the "reason" label.
const (
	ReasonLogout     = "logout"
	ReasonLogoutAll  = "logout_all"
	ReasonRevoked    = "revoked"
	ReasonInactivity = "inactivity"
)

type Metrics struct {
	registry *prometheus.Registry

	TokensIssued       *prometheus.CounterVec
	TokenVerifications *prometheus.CounterVec
	SessionsCreated    prometheus.Counter
	SessionsRevoked    *prometheus.CounterVec
	SessionsSwept      prometheus.Counter
	WSConnections      prometheus.Gauge
}

// New builds a Metrics on its own registry so tests can create as many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Tokens issued, by token type.",
		}, []string{"type"}),
		TokenVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Bearer token verifications, by result.",
		}, []string{"result"}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_created_total",
			Help: "Sessions created.",
		}),
		SessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sessions_revoked_total",
			Help: "Sessions revoked, by reason.",
		}, []string{"reason"}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_swept_total",
			Help: "Sessions removed by the background sweeper.",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auth_ws_connections",
			Help: "Open session-event websocket connections.",
		}),
	}

	reg.MustRegister(
		m.TokensIssued,
		m.TokenVerifications,
		m.SessionsCreated,
		m.SessionsRevoked,
		m.SessionsSwept,
		m.WSConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Verification records the outcome of a bearer verification.
func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.TokenVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Issued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) Created() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) Revoked(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRevoked.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
