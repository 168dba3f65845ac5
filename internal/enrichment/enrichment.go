// Package enrichment implements the EnrichmentQueue (C5): a bounded,
// priority-ordered worker pool that drives the Investigator for each
// newly-admitted or re-opened alert, enforcing I3 (at most one
// enrichment in flight per fingerprint) via an in-flight set rather than
// a separate ledger. A fingerprint leaves the set when its task ends, so
// the queue itself accepts a later Submit for it; the Poller and
// WebhookIngress only submit newly created or re-opened alerts.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// Store is the subset of store.Store the EnrichmentQueue depends on.
type Store interface {
	Get(fingerprint string) (*core.Alert, bool)
	SetEnrichment(fingerprint string, enrichment *core.Enrichment) error
}

// Config holds EnrichmentQueue tuning parameters (§4.5, §6.5).
type Config struct {
	Workers     int
	QueueCap    int
	TaskTimeout time.Duration
	OutcomeTTL  time.Duration // 0 disables the outcome cache even if one is wired

	// OnComplete, if set, is called after an enrichment outcome (success,
	// failure, or cache hit) has been written to the Store, handing the
	// fingerprint onward to whatever consumes enriched alerts (the
	// Grouper). Never called for a Noop (already-in-flight) submit.
	OnComplete func(fingerprint string, enrichment *core.Enrichment)
}

// DefaultConfig returns sensible Config defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueCap:    1024,
		TaskTimeout: 90 * time.Second,
		OutcomeTTL:  time.Hour,
	}
}

type job struct {
	fingerprint string
	priority    core.Priority
}

// Queue is the EnrichmentQueue implementation.
type Queue struct {
	store        Store
	investigator core.Investigator
	outcomeCache core.Cache // nil disables caching
	cfg          Config
	metrics      *metrics.EnrichmentMetrics
	logger       *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	high   chan job
	normal chan job
	wg     sync.WaitGroup
}

// New creates a Queue. outcomeCache may be nil.
func New(s Store, investigator core.Investigator, outcomeCache core.Cache, cfg Config, m *metrics.EnrichmentMetrics, logger *slog.Logger) *Queue {
	if cfg.Workers == 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueCap == 0 {
		cfg.QueueCap = DefaultConfig().QueueCap
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:        s,
		investigator: investigator,
		outcomeCache: outcomeCache,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
		inFlight:     make(map[string]struct{}),
		high:         make(chan job, cfg.QueueCap),
		normal:       make(chan job, cfg.QueueCap),
	}
}

// Submit admits fingerprint to the queue unless it is already queued or
// being investigated, in which case it returns core.ErrAlreadyInFlight
// (I3/P8: this is a Noop, not a failure the caller should retry).
func (q *Queue) Submit(ctx context.Context, fingerprint string, priority core.Priority) error {
	q.mu.Lock()
	if _, ok := q.inFlight[fingerprint]; ok {
		q.mu.Unlock()
		q.recordSubmit(priority, "noop_inflight")
		return core.ErrAlreadyInFlight
	}
	q.inFlight[fingerprint] = struct{}{}
	if q.metrics != nil {
		q.metrics.InFlightGauge.Set(float64(len(q.inFlight)))
	}
	q.mu.Unlock()

	target := q.normal
	if priority == core.PriorityHigh {
		target = q.high
	}

	// A full queue blocks the caller rather than rejecting the alert
	// (§4.5, P9): backpressure propagates to C3/C4 instead of dropping it.
	select {
	case target <- job{fingerprint: fingerprint, priority: priority}:
		q.recordSubmit(priority, "enqueued")
		q.recordDepth(priority, target)
		return nil
	case <-ctx.Done():
		q.release(fingerprint)
		return ctx.Err()
	}
}

func (q *Queue) release(fingerprint string) {
	q.mu.Lock()
	delete(q.inFlight, fingerprint)
	if q.metrics != nil {
		q.metrics.InFlightGauge.Set(float64(len(q.inFlight)))
	}
	q.mu.Unlock()
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// worker has drained its current task.
func (q *Queue) Run(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		// Drain high priority first whenever one is ready without
		// blocking; only fall through to the fair select below once
		// the high-priority channel has nothing immediately available.
		select {
		case j := <-q.high:
			q.process(ctx, j)
			continue
		default:
		}

		select {
		case j := <-q.high:
			q.process(ctx, j)
		case j := <-q.normal:
			q.process(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, j job) {
	defer q.release(j.fingerprint)

	alert, ok := q.store.Get(j.fingerprint)
	if !ok {
		q.logger.Debug("enrichment target no longer in store", "fingerprint", j.fingerprint)
		return
	}

	if enrichment, hit := q.lookupOutcome(ctx, j.fingerprint); hit {
		if err := q.store.SetEnrichment(j.fingerprint, enrichment); err != nil {
			q.logger.Warn("store update failed after cache hit", "fingerprint", j.fingerprint, "error", err)
		}
		if q.cfg.OnComplete != nil {
			q.cfg.OnComplete(j.fingerprint, enrichment)
		}
		return
	}

	if err := q.store.SetEnrichment(j.fingerprint, &core.Enrichment{Status: core.EnrichmentInProgress}); err != nil {
		q.logger.Warn("store update failed before investigate", "fingerprint", j.fingerprint, "error", err)
	}

	taskCtx, cancel := context.WithTimeout(ctx, q.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	enrichment, err := q.investigator.Investigate(taskCtx, alert)
	status := "ok"
	switch {
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		status = "timeout"
	case err != nil:
		status = "failed"
	}
	if q.metrics != nil {
		q.metrics.RecordInvestigate(status, time.Since(start).Seconds())
	}

	if err != nil {
		enrichment = &core.Enrichment{Status: core.EnrichmentFailed, Error: err.Error(), Latency: time.Since(start)}
	}

	if err := q.store.SetEnrichment(j.fingerprint, enrichment); err != nil {
		q.logger.Warn("store update failed", "fingerprint", j.fingerprint, "error", err)
	}

	if err == nil {
		q.storeOutcome(ctx, j.fingerprint, enrichment)
	}

	if q.cfg.OnComplete != nil {
		q.cfg.OnComplete(j.fingerprint, enrichment)
	}
}

func (q *Queue) lookupOutcome(ctx context.Context, fingerprint string) (*core.Enrichment, bool) {
	if q.outcomeCache == nil || q.cfg.OutcomeTTL == 0 {
		return nil, false
	}
	raw, hit, err := q.outcomeCache.Get(ctx, outcomeKey(fingerprint))
	if err != nil || !hit {
		if q.metrics != nil {
			q.metrics.OutcomeCacheMiss.Inc()
		}
		return nil, false
	}
	var enrichment core.Enrichment
	if err := json.Unmarshal([]byte(raw), &enrichment); err != nil {
		q.logger.Warn("discarding malformed cached outcome", "fingerprint", fingerprint, "error", err)
		return nil, false
	}
	if q.metrics != nil {
		q.metrics.OutcomeCacheHits.Inc()
	}
	return &enrichment, true
}

func (q *Queue) storeOutcome(ctx context.Context, fingerprint string, enrichment *core.Enrichment) {
	if q.outcomeCache == nil || q.cfg.OutcomeTTL == 0 {
		return
	}
	data, err := json.Marshal(enrichment)
	if err != nil {
		return
	}
	if err := q.outcomeCache.Set(ctx, outcomeKey(fingerprint), string(data), q.cfg.OutcomeTTL); err != nil {
		q.logger.Warn("outcome cache write failed", "fingerprint", fingerprint, "error", err)
	}
}

func outcomeKey(fingerprint string) string {
	return "enrichment:outcome:" + fingerprint
}

func (q *Queue) recordSubmit(priority core.Priority, result string) {
	if q.metrics != nil {
		q.metrics.SubmitTotal.WithLabelValues(string(priority), result).Inc()
	}
}

func (q *Queue) recordDepth(priority core.Priority, ch chan job) {
	if q.metrics != nil {
		q.metrics.QueueDepth.WithLabelValues(string(priority)).Set(float64(len(ch)))
	}
}
