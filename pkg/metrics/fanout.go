// Package metrics provides metrics collection for destination fanout (C7).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FanoutMetrics holds Prometheus metrics for DestinationFanout delivery.
type FanoutMetrics struct {
	DeliverTotal    *prometheus.CounterVec   // destination, result: ok|retry|failed
	DeliverSeconds  *prometheus.HistogramVec // destination
	RetryQueueDepth *prometheus.GaugeVec     // destination
	FailuresBuffered *prometheus.GaugeVec     // destination: size of the per-destination failure ring buffer
}

// NewFanoutMetrics creates a new FanoutMetrics instance.
func NewFanoutMetrics(namespace string) *FanoutMetrics {
	return &FanoutMetrics{
		DeliverTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "deliver_total",
				Help:      "Total Destination.Deliver calls by destination and result",
			},
			[]string{"destination", "result"},
		),
		DeliverSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "deliver_duration_seconds",
				Help:      "Duration of Destination.Deliver calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"destination"},
		),
		RetryQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "retry_queue_depth",
				Help:      "Current depth of the per-destination retry queue",
			},
			[]string{"destination"},
		),
		FailuresBuffered: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "fanout",
				Name:      "failures_buffered",
				Help:      "Entries currently held in the per-destination failure ring buffer",
			},
			[]string{"destination"},
		),
	}
}

// RecordDeliver records the outcome and duration of one Deliver call.
func (m *FanoutMetrics) RecordDeliver(destination, result string, seconds float64) {
	m.DeliverTotal.WithLabelValues(destination, result).Inc()
	m.DeliverSeconds.WithLabelValues(destination).Observe(seconds)
}
