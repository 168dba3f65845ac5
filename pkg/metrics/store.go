package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics tracks Store (C2) upsert/list/delete activity.
//
// All metrics follow the taxonomy alert_core_store_<metric_name>_<unit>.
type StoreMetrics struct {
	namespace string

	UpsertTotal     *prometheus.CounterVec   // result: created|updated|noop
	UpsertDuration  *prometheus.HistogramVec // result
	AlertsTotal     prometheus.Gauge         // current size of the index
	DedupDropsTotal *prometheus.CounterVec   // source_id
}

// NewStoreMetrics creates a new StoreMetrics instance.
func NewStoreMetrics(namespace string) *StoreMetrics {
	return &StoreMetrics{
		namespace: namespace,

		UpsertTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "upserts_total",
				Help:      "Total Store.Upsert calls by result",
			},
			[]string{"result"},
		),
		UpsertDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "upsert_duration_seconds",
				Help:      "Duration of Store.Upsert calls",
				Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
			[]string{"result"},
		),
		AlertsTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "alerts",
				Help:      "Current number of alerts held in the Store index",
			},
		),
		DedupDropsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "dedup_drops_total",
				Help:      "Alerts dropped by Store.Dedup as already-seen for a source",
			},
			[]string{"source_id"},
		),
	}
}

// RecordUpsert records one Upsert call.
func (m *StoreMetrics) RecordUpsert(result string, seconds float64) {
	m.UpsertTotal.WithLabelValues(result).Inc()
	m.UpsertDuration.WithLabelValues(result).Observe(seconds)
}
