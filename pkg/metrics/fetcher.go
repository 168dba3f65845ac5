package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FetcherMetrics tracks Fetcher (C1) fetch calls against a Source.
type FetcherMetrics struct {
	namespace string

	FetchTotal        *prometheus.CounterVec   // source_id, result: ok|transport_error
	FetchDuration      *prometheus.HistogramVec // source_id
	AlertsFetchedTotal *prometheus.CounterVec   // source_id
	DroppedTotal       *prometheus.CounterVec   // source_id, reason: fingerprint_missing
}

// NewFetcherMetrics creates a new FetcherMetrics instance.
func NewFetcherMetrics(namespace string) *FetcherMetrics {
	return &FetcherMetrics{
		namespace: namespace,

		FetchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fetcher",
				Name:      "fetch_total",
				Help:      "Total Fetch calls by source and result",
			},
			[]string{"source_id", "result"},
		),
		FetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "fetcher",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of Fetch calls against a source",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source_id"},
		),
		AlertsFetchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fetcher",
				Name:      "alerts_fetched_total",
				Help:      "Total alerts returned by Fetch",
			},
			[]string{"source_id"},
		),
		DroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fetcher",
				Name:      "dropped_total",
				Help:      "Alerts dropped during Fetch normalization",
			},
			[]string{"source_id", "reason"},
		),
	}
}
