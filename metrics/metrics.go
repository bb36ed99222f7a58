// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "verifychain"

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	Admissions      *prometheus.CounterVec
	Verifications   *prometheus.CounterVec
	ConfidenceScore prometheus.Histogram
	Disputes        *prometheus.CounterVec
	Votes           prometheus.Counter
	LedgerErrors    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "admissions_total",
			Help:      "Rate-limit decisions by result.",
		}, []string{"result"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "verifications_total",
			Help:      "Verdicts by authenticity.",
		}, []string{"authentic"}),
		ConfidenceScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "confidence_score",
			Help:      "Distribution of confidence scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		Disputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute",
			Name:      "transitions_total",
			Help:      "Counterfeit report transitions by resulting status.",
		}, []string{"status"}),
		Votes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispute",
			Name:      "votes_total",
			Help:      "Ballots recorded.",
		}),
		LedgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "errors_total",
			Help:      "Ledger failures surfaced to callers by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Admissions,
		m.Verifications,
		m.ConfidenceScore,
		m.Disputes,
		m.Votes,
		m.LedgerErrors,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
