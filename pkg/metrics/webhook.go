package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookMetrics tracks WebhookIngress (C4) request handling.
//
// All metrics follow the taxonomy alert_core_webhook_<metric_name>_<unit>.
type WebhookMetrics struct {
	RequestsTotal     *prometheus.CounterVec   // status: accepted|bad_request
	DurationSeconds   *prometheus.HistogramVec // status
	ProcessingSeconds *prometheus.HistogramVec // stage: parse|upsert
	PayloadSizeBytes  prometheus.Histogram
	AlertsPerRequest  prometheus.Histogram
}

// NewWebhookMetrics creates a new WebhookMetrics instance.
func NewWebhookMetrics(namespace string) *WebhookMetrics {
	return &WebhookMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "requests_total",
				Help:      "Total webhook requests by status",
			},
			[]string{"status"},
		),
		DurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "duration_seconds",
				Help:      "Webhook request duration in seconds",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"status"},
		),
		ProcessingSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "processing_seconds",
				Help:      "Webhook processing time by stage in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"stage"},
		),
		PayloadSizeBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "payload_size_bytes",
				Help:      "Webhook payload size distribution in bytes",
				Buckets:   []float64{1024, 5120, 10240, 51200, 102400, 512000, 1048576},
			},
		),
		AlertsPerRequest: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "alerts_per_request",
				Help:      "Number of alert entries per webhook request",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
	}
}

// RecordRequest records a webhook request outcome.
func (m *WebhookMetrics) RecordRequest(status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.DurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordStage records processing time for one pipeline stage.
func (m *WebhookMetrics) RecordStage(stage string, seconds float64) {
	m.ProcessingSeconds.WithLabelValues(stage).Observe(seconds)
}
