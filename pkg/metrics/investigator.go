package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// InvestigatorMetrics tracks the health of the external Investigator
// collaborator and the circuit breaker guarding calls to it.
type InvestigatorMetrics struct {
	CallTotal          *prometheus.CounterVec   // operation=investigate|verify_grouping, result=ok|error
	CallSeconds        *prometheus.HistogramVec // operation
	BreakerState       prometheus.Gauge          // 0=closed, 1=open, 2=half_open
	BreakerStateChange *prometheus.CounterVec    // from, to
	BreakerRejected    prometheus.Counter        // fail-fast rejections while open
}

// NewInvestigatorMetrics creates a new InvestigatorMetrics instance.
func NewInvestigatorMetrics(namespace string) *InvestigatorMetrics {
	return &InvestigatorMetrics{
		CallTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "investigator",
				Name:      "call_total",
				Help:      "Total Investigator calls by operation and result",
			},
			[]string{"operation", "result"},
		),
		CallSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "investigator",
				Name:      "call_duration_seconds",
				Help:      "Duration of Investigator calls",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "investigator",
			Name:      "breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
		}),
		BreakerStateChange: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "investigator",
				Name:      "breaker_state_change_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
		BreakerRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "investigator",
			Name:      "breaker_rejected_total",
			Help:      "Calls rejected fail-fast while the circuit breaker was open",
		}),
	}
}

// RecordCall records the outcome and duration of one Investigator call.
func (m *InvestigatorMetrics) RecordCall(operation, result string, seconds float64) {
	if m == nil {
		return
	}
	m.CallTotal.WithLabelValues(operation, result).Inc()
	m.CallSeconds.WithLabelValues(operation).Observe(seconds)
}
