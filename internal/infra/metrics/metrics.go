package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spacecat"

// Outcomes recorded per auth handler attempt.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeNotApplicable = "not_applicable"
	OutcomeRejected      = "rejected"
)

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	authAttempts *prometheus.CounterVec
	authDuration *prometheus.HistogramVec
	imsRequests  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Auth handler attempts by handler and outcome.",
			},
			[]string{"handler", "outcome"},
		),
		authDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "handler_duration_seconds",
				Help:      "Time spent in a single auth handler.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"handler"},
		),
		imsRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ims",
				Name:      "requests_total",
				Help:      "Outbound IMS requests by operation and HTTP status.",
			},
			[]string{"operation", "status"},
		),
	}

	m.registry.MustRegister(
		m.authAttempts,
		m.authDuration,
		m.imsRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveAuth records one handler attempt. Safe on a nil receiver.
func (m *Metrics) ObserveAuth(handler, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(handler, outcome).Inc()
	m.authDuration.WithLabelValues(handler).Observe(elapsed.Seconds())
}

// ObserveIMS records one outbound IMS call. status 0 means a transport error.
func (m *Metrics) ObserveIMS(operation string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.imsRequests.WithLabelValues(operation, label).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
