package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the prometheus collectors the session service reports.
// Collectors are registered on construction; tests pass a fresh registry.
type Metrics struct {
	SessionsOpen    prometheus.Gauge
	SessionsOpened  prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionsExpired prometheus.Counter
	// Operations counts automation primitives by operation name and outcome
	// ("ok" or the error kind).
	Operations *prometheus.CounterVec
}

// NewMetrics creates and registers the service collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "browserd",
			Name:      "sessions_open",
			Help:      "Number of currently open tab sessions.",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "browserd",
			Name:      "sessions_opened_total",
			Help:      "Total tab sessions opened.",
		}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "browserd",
			Name:      "sessions_closed_total",
			Help:      "Total tab sessions closed explicitly.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "browserd",
			Name:      "sessions_expired_total",
			Help:      "Total tab sessions removed by the expiration sweep.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "browserd",
			Name:      "operations_total",
			Help:      "Automation operations by name and outcome.",
		}, []string{"op", "outcome"}),
	}

	reg.MustRegister(
		m.SessionsOpen,
		m.SessionsOpened,
		m.SessionsClosed,
		m.SessionsExpired,
		m.Operations,
	)
	return m
}

// ObserveOperation records one primitive invocation. The outcome label is
// "ok" for success or the taxonomy kind for failures.
func (m *Metrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}
