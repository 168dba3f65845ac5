// Package metrics provides centralized Prometheus metrics for the alert
// core, organized by the C1-C7 component each metric belongs to.
//
// Component metrics are named <namespace>_<component>_<metric_name>_<unit>,
// with the namespace defaulting to alert_core. The retry metrics are the
// exception: they always use alert_history_technical_retry_<metric_name>.
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Store().AlertsTotal.Set(120)
//	registry.Fanout().RecordDeliver("slack", "ok", 0.042)
package metrics

import (
	"sync"
)

// MetricsRegistry is the central registry for all Prometheus metrics.
// Each component-scoped accessor is lazily initialized on first access.
//
// Thread-safe: all Prometheus metrics are thread-safe by design.
type MetricsRegistry struct {
	namespace string

	fetcher    *FetcherMetrics
	store      *StoreMetrics
	poller     *PollerMetrics
	webhook    *WebhookMetrics
	enrichment *EnrichmentMetrics
	grouping   *GroupingMetrics
	fanout     *FanoutMetrics
	retry        *RetryMetrics
	http         *HTTPMetrics
	infra        *InfraMetrics
	investigator *InvestigatorMetrics

	fetcherOnce      sync.Once
	storeOnce        sync.Once
	pollerOnce       sync.Once
	webhookOnce      sync.Once
	enrichmentOnce   sync.Once
	groupingOnce     sync.Once
	fanoutOnce       sync.Once
	retryOnce        sync.Once
	httpOnce         sync.Once
	infraOnce        sync.Once
	investigatorOnce sync.Once
}

var (
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("alert_core")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the given namespace.
// Use DefaultRegistry() unless a test needs an isolated registry.
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "alert_core"
	}
	return &MetricsRegistry{namespace: namespace}
}

// Fetcher returns the Fetcher (C1) metrics, lazily initialized.
func (r *MetricsRegistry) Fetcher() *FetcherMetrics {
	r.fetcherOnce.Do(func() { r.fetcher = NewFetcherMetrics(r.namespace) })
	return r.fetcher
}

// Store returns the Store (C2) metrics, lazily initialized.
func (r *MetricsRegistry) Store() *StoreMetrics {
	r.storeOnce.Do(func() { r.store = NewStoreMetrics(r.namespace) })
	return r.store
}

// Poller returns the Poller (C3) metrics, lazily initialized.
func (r *MetricsRegistry) Poller() *PollerMetrics {
	r.pollerOnce.Do(func() { r.poller = NewPollerMetrics(r.namespace) })
	return r.poller
}

// Webhook returns the WebhookIngress (C4) metrics, lazily initialized.
func (r *MetricsRegistry) Webhook() *WebhookMetrics {
	r.webhookOnce.Do(func() { r.webhook = NewWebhookMetrics(r.namespace) })
	return r.webhook
}

// Enrichment returns the EnrichmentQueue (C5) metrics, lazily initialized.
func (r *MetricsRegistry) Enrichment() *EnrichmentMetrics {
	r.enrichmentOnce.Do(func() { r.enrichment = NewEnrichmentMetrics(r.namespace) })
	return r.enrichment
}

// Grouping returns the Grouper (C6) metrics, lazily initialized.
func (r *MetricsRegistry) Grouping() *GroupingMetrics {
	r.groupingOnce.Do(func() { r.grouping = NewGroupingMetrics(r.namespace) })
	return r.grouping
}

// Fanout returns the DestinationFanout (C7) metrics, lazily initialized.
func (r *MetricsRegistry) Fanout() *FanoutMetrics {
	r.fanoutOnce.Do(func() { r.fanout = NewFanoutMetrics(r.namespace) })
	return r.fanout
}

// Retry returns the generic retry metrics recorded by the Investigator
// client's retry loop, lazily initialized.
func (r *MetricsRegistry) Retry() *RetryMetrics {
	r.retryOnce.Do(func() { r.retry = NewRetryMetrics() })
	return r.retry
}

// HTTP returns HTTP request metrics under the "api" subsystem, lazily
// initialized. The admin router does not install their middleware.
func (r *MetricsRegistry) HTTP() *HTTPMetrics {
	r.httpOnce.Do(func() { r.http = NewHTTPMetricsWithNamespace(r.namespace, "api") })
	return r.http
}

// Infra returns the DB/cache/repository persistence metrics, lazily
// initialized. No component in this module records to them.
func (r *MetricsRegistry) Infra() *InfraMetrics {
	r.infraOnce.Do(func() { r.infra = NewInfraMetrics(r.namespace) })
	return r.infra
}

// Investigator returns the Investigator call/circuit-breaker metrics,
// lazily initialized.
func (r *MetricsRegistry) Investigator() *InvestigatorMetrics {
	r.investigatorOnce.Do(func() { r.investigator = NewInvestigatorMetrics(r.namespace) })
	return r.investigator
}

// Namespace returns the configured namespace for this registry.
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}
