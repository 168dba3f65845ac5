package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PollerMetrics tracks Poller (C3) per-source scheduling and backoff.
type PollerMetrics struct {
	namespace string

	TicksTotal          *prometheus.CounterVec // source_id, result: ok|transport_error|error
	BackoffSeconds      *prometheus.GaugeVec    // source_id: current backoff in effect
	ReconciledTotal      *prometheus.CounterVec  // source_id, action: created|updated|noop|reopened
	SourcesActive       prometheus.Gauge
}

// NewPollerMetrics creates a new PollerMetrics instance.
func NewPollerMetrics(namespace string) *PollerMetrics {
	return &PollerMetrics{
		namespace: namespace,

		TicksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "ticks_total",
				Help:      "Total poll ticks by source and result",
			},
			[]string{"source_id", "result"},
		),
		BackoffSeconds: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "backoff_seconds",
				Help:      "Current per-source backoff duration",
			},
			[]string{"source_id"},
		),
		ReconciledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "reconciled_total",
				Help:      "Alerts reconciled into the Store by action",
			},
			[]string{"source_id", "action"},
		),
		SourcesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "sources_active",
				Help:      "Number of sources currently being polled",
			},
		),
	}
}
