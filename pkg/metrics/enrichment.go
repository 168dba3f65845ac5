// Package metrics provides metrics collection for the enrichment queue (C5).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EnrichmentMetrics holds Prometheus metrics for the EnrichmentQueue.
type EnrichmentMetrics struct {
	SubmitTotal       *prometheus.CounterVec   // priority, result: enqueued|noop_inflight
	QueueDepth        *prometheus.GaugeVec     // priority
	InFlightGauge     prometheus.Gauge
	InvestigateTotal  *prometheus.CounterVec   // status: ok|failed|timeout
	InvestigateSeconds *prometheus.HistogramVec // status
	OutcomeCacheHits  prometheus.Counter
	OutcomeCacheMiss  prometheus.Counter
}

// NewEnrichmentMetrics creates a new EnrichmentMetrics instance.
func NewEnrichmentMetrics(namespace string) *EnrichmentMetrics {
	return &EnrichmentMetrics{
		SubmitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "submit_total",
				Help:      "Total EnrichmentQueue.Submit calls by priority and result",
			},
			[]string{"priority", "result"},
		),
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "queue_depth",
				Help:      "Current queue depth by priority",
			},
			[]string{"priority"},
		),
		InFlightGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "in_flight",
				Help:      "Number of fingerprints currently in flight",
			},
		),
		InvestigateTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "investigate_total",
				Help:      "Total Investigator.Investigate calls by outcome",
			},
			[]string{"status"},
		),
		InvestigateSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "investigate_duration_seconds",
				Help:      "Duration of Investigator.Investigate calls",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 90, 120},
			},
			[]string{"status"},
		),
		OutcomeCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "outcome_cache_hits_total",
				Help:      "Enrichment outcome cache hits",
			},
		),
		OutcomeCacheMiss: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enrichment",
				Name:      "outcome_cache_misses_total",
				Help:      "Enrichment outcome cache misses",
			},
		),
	}
}

// RecordInvestigate records the outcome and duration of one Investigate call.
func (m *EnrichmentMetrics) RecordInvestigate(status string, seconds float64) {
	m.InvestigateTotal.WithLabelValues(status).Inc()
	m.InvestigateSeconds.WithLabelValues(status).Observe(seconds)
}
