// Package metrics provides metrics collection for the Grouper (C6).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GroupingMetrics holds Prometheus metrics for grouping and rule learning.
type GroupingMetrics struct {
	GroupsTotal        prometheus.Gauge
	MembersAddedTotal  prometheus.Counter
	FastPathHits       prometheus.Counter
	FastPathMisses     prometheus.Counter
	VerifyTotal        *prometheus.CounterVec // result: accepted|rejected
	VerifySeconds      prometheus.Histogram
	RuleTransitions    *prometheus.CounterVec // to: candidate|trusted|retired
	RulesActive        *prometheus.GaugeVec   // state
}

// NewGroupingMetrics creates a new GroupingMetrics instance.
func NewGroupingMetrics(namespace string) *GroupingMetrics {
	return &GroupingMetrics{
		GroupsTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "grouping",
				Name:      "groups",
				Help:      "Current number of groups",
			},
		),
		MembersAddedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grouping",
				Name:      "members_added_total",
				Help:      "Total alerts admitted to a group",
			},
		),
		FastPathHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grouping",
				Name:      "fast_path_hits_total",
				Help:      "Alerts admitted via a trusted rule without an LLM call",
			},
		),
		FastPathMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grouping",
				Name:      "fast_path_misses_total",
				Help:      "Alerts that fell through to the LLM verification path",
			},
		),
		VerifyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grouping",
				Name:      "verify_total",
				Help:      "Total Investigator.VerifyGrouping calls by result",
			},
			[]string{"result"},
		),
		VerifySeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "grouping",
				Name:      "verify_duration_seconds",
				Help:      "Duration of VerifyGrouping calls",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RuleTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grouping",
				Name:      "rule_transitions_total",
				Help:      "Rule state transitions",
			},
			[]string{"to"},
		),
		RulesActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "grouping",
				Name:      "rules",
				Help:      "Current rules by state",
			},
			[]string{"state"},
		),
	}
}
