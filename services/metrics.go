package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the marketplace collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	bountyTransitions *prometheus.CounterVec
	jobTransitions    *prometheus.CounterVec
	grants            *prometheus.CounterVec
	payouts           *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		bountyTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "bounty",
				Name:      "transitions_total",
				Help:      "Bounty lifecycle operations by outcome.",
			},
			[]string{"op", "outcome"},
		),
		jobTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "job",
				Name:      "transitions_total",
				Help:      "Job, bid and milestone operations by outcome.",
			},
			[]string{"op", "outcome"},
		),
		grants: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "rewards",
				Name:      "grants_total",
				Help:      "Daily interaction grant attempts (new, duplicate).",
			},
			[]string{"result"},
		),
		payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "payments",
				Name:      "payouts_total",
				Help:      "Payment sink calls by kind and status.",
			},
			[]string{"kind", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "market",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "route", "status"},
		),
	}
	m.Registry.MustRegister(
		m.bountyTransitions,
		m.jobTransitions,
		m.grants,
		m.payouts,
		m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) bountyOp(op string, err error) {
	m.bountyTransitions.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) jobOp(op string, err error) {
	m.jobTransitions.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) grant(result string) {
	m.grants.WithLabelValues(result).Inc()
}

func (m *Metrics) payout(kind, status string) {
	m.payouts.WithLabelValues(kind, status).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, route, statusClass(status)).Observe(d.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isPrecondition(err):
		return "precondition_failed"
	default:
		return "error"
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
