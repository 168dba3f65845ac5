// Package poller implements the Poller (C3): one task per discovered
// Source, driving the Fetcher on a fixed cadence and reconciling
// results into the Store, with per-source backoff on transport
// failure. A failing Source never blocks another.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/fetcher"
	"github.com/holmesproxy/alert-core/internal/store"
	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// Fetcher is the subset of fetcher.Fetcher the Poller depends on.
type Fetcher interface {
	Fetch(ctx context.Context, source core.Source, filter fetcher.Filter) ([]*core.Alert, error)
}

// Store is the subset of store.Store the Poller depends on.
type Store interface {
	Get(fingerprint string) (*core.Alert, bool)
	Upsert(ctx context.Context, alert *core.Alert, sourceID string) (store.UpsertResult, error)
}

// Queue is the subset of the EnrichmentQueue the Poller depends on.
type Queue interface {
	Submit(ctx context.Context, fingerprint string, priority core.Priority) error
}

// Config holds Poller tuning parameters (§4.3, §6.5).
type Config struct {
	PollInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	StaticSources  []core.Source
	Filter         fetcher.Filter
}

// DefaultConfig returns sensible Config defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   30 * time.Second,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// Poller drives one goroutine per Source.
type Poller struct {
	fetcher   Fetcher
	store     Store
	queue     Queue
	discovery core.SourceDiscovery // may be nil: static sources only
	cfg       Config
	metrics   *metrics.PollerMetrics
	logger    *slog.Logger

	mu            sync.Mutex
	running       map[string]struct{}
	staticSources []core.Source
	wg            sync.WaitGroup
}

// New creates a Poller.
func New(f Fetcher, s Store, q Queue, discovery core.SourceDiscovery, cfg Config, m *metrics.PollerMetrics, logger *slog.Logger) *Poller {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher:       f,
		store:         s,
		queue:         q,
		discovery:     discovery,
		cfg:           cfg,
		metrics:       m,
		logger:        logger,
		running:       make(map[string]struct{}),
		staticSources: append([]core.Source(nil), cfg.StaticSources...),
	}
}

// AddStaticSources appends sources to the statically configured set,
// picked up on the next discovery tick. Used by the hot-reload path
// (§4.9-style config reload) to add newly configured Sources without a
// restart; existing Sources are never removed or restarted this way.
func (p *Poller) AddStaticSources(sources []core.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staticSources = append(p.staticSources, sources...)
}

// Run discovers sources and polls each until ctx is cancelled, then
// waits for every source task to return.
func (p *Poller) Run(ctx context.Context) {
	p.startMissingSources(ctx)

	rediscover := time.NewTicker(p.cfg.PollInterval)
	defer rediscover.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-rediscover.C:
			p.startMissingSources(ctx)
		}
	}
}

func (p *Poller) startMissingSources(ctx context.Context) {
	p.mu.Lock()
	sources := append([]core.Source(nil), p.staticSources...)
	p.mu.Unlock()

	if p.discovery != nil {
		discovered, err := p.discovery.Discover(ctx)
		if err != nil {
			p.logger.Warn("source discovery failed", "error", err)
		} else {
			sources = append(sources, discovered...)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, source := range sources {
		if _, ok := p.running[source.ID]; ok {
			continue
		}
		p.running[source.ID] = struct{}{}
		if p.metrics != nil {
			p.metrics.SourcesActive.Set(float64(len(p.running)))
		}
		p.wg.Add(1)
		go p.runSource(ctx, source)
	}
}

func (p *Poller) runSource(ctx context.Context, source core.Source) {
	defer p.wg.Done()

	backoff := p.cfg.InitialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		alerts, err := p.fetcher.Fetch(ctx, source, p.cfg.Filter)
		wait := p.cfg.PollInterval

		var transportErr *fetcher.TransportError
		switch {
		case errors.As(err, &transportErr):
			p.logger.Warn("fetch failed", "source", source.ID, "error", err)
			p.recordTick(source.ID, "transport_error")
			wait = backoff
			backoff = nextBackoff(backoff, p.cfg.MaxBackoff)
		case err != nil:
			p.logger.Error("fetch failed with non-transport error", "source", source.ID, "error", err)
			p.recordTick(source.ID, "error")
		default:
			backoff = p.cfg.InitialBackoff
			p.recordTick(source.ID, "ok")
			p.reconcile(ctx, source, alerts)
		}
		if p.metrics != nil {
			p.metrics.BackoffSeconds.WithLabelValues(source.ID).Set(backoff.Seconds())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// reconcile upserts fetched alerts and emits newly-Created or
// resolved->firing re-opened alerts to the EnrichmentQueue (§4.3).
func (p *Poller) reconcile(ctx context.Context, source core.Source, alerts []*core.Alert) {
	for _, alert := range alerts {
		before, hadBefore := p.store.Get(alert.Fingerprint)

		result, err := p.store.Upsert(ctx, alert, source.ID)
		if err != nil {
			p.logger.Warn("upsert failed", "source", source.ID, "fingerprint", alert.Fingerprint, "error", err)
			continue
		}

		switch result {
		case store.Created:
			p.emit(ctx, source.ID, alert.Fingerprint, "created")
		case store.Updated:
			reopened := hadBefore && before.Status == core.StatusResolved && alert.Status == core.StatusFiring
			if reopened {
				p.emit(ctx, source.ID, alert.Fingerprint, "reopened")
			} else {
				p.recordReconciled(source.ID, "updated")
			}
		case store.Noop:
			p.recordReconciled(source.ID, "noop")
		}
	}
}

func (p *Poller) emit(ctx context.Context, sourceID, fingerprint, action string) {
	if err := p.queue.Submit(ctx, fingerprint, core.PriorityNormal); err != nil && !errors.Is(err, core.ErrAlreadyInFlight) {
		p.logger.Warn("enrichment submit failed", "fingerprint", fingerprint, "error", err)
	}
	p.recordReconciled(sourceID, action)
}

func (p *Poller) recordTick(sourceID, result string) {
	if p.metrics != nil {
		p.metrics.TicksTotal.WithLabelValues(sourceID, result).Inc()
	}
}

func (p *Poller) recordReconciled(sourceID, action string) {
	if p.metrics != nil {
		p.metrics.ReconciledTotal.WithLabelValues(sourceID, action).Inc()
	}
}
