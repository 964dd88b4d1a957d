// Package observability exposes Prometheus metrics for the admission
// engine.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records admission decisions and lock wait times.  It satisfies
// booking.Recorder.
type Metrics struct {
	backend   string
	decisions *prometheus.CounterVec
	lockWait  *prometheus.HistogramVec
	registry  *prometheus.Registry
}

// NewMetrics registers the reservation collectors on a private registry.
// backend labels the lock wait histogram ("local" or "redis").
func NewMetrics(backend string) *Metrics {
	if backend == "" {
		backend = "local"
	}
	registry := prometheus.NewRegistry()
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reservation",
		Name:      "admission_decisions_total",
		Help:      "Reservation admission decisions by operation and outcome.",
	}, []string{"op", "outcome"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reservation",
		Name:      "lock_wait_seconds",
		Help:      "Time spent acquiring the admission lock.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"backend"})
	registry.MustRegister(decisions, lockWait)
	registry.MustRegister(prometheus.NewGoCollector())
	return &Metrics{
		backend:   backend,
		decisions: decisions,
		lockWait:  lockWait,
		registry:  registry,
	}
}

func (m *Metrics) ObserveDecision(op, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(m.backend).Observe(d.Seconds())
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
