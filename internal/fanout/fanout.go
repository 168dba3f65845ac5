// Package fanout implements the DestinationFanout (C7): delivery of a
// grouped, enriched alert to every registered Destination concurrently,
// retrying each with exponential backoff independently so one slow or
// failing destination never blocks another (§4.7).
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// Registry holds the runtime-registered set of Destinations, grounded on
// the teacher's FormatRegistry (register/get/list under an RWMutex).
type Registry struct {
	mu           sync.RWMutex
	destinations map[string]core.Destination
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{destinations: make(map[string]core.Destination)}
}

// Register adds or replaces a Destination under its own Name().
func (r *Registry) Register(d core.Destination) error {
	if d == nil || d.Name() == "" {
		return fmt.Errorf("destination must have a non-empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destinations[d.Name()] = d
	return nil
}

// Unregister removes a Destination by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.destinations, name)
}

// List returns every registered Destination, sorted by name for
// deterministic iteration order.
func (r *Registry) List() []core.Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Destination, 0, len(r.destinations))
	for _, d := range r.destinations {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Config holds Fanout tuning parameters (§4.7, §6.5).
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	FailureBufferSize int
}

// DefaultConfig returns sensible Config defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        1 * time.Minute,
		FailureBufferSize: 100,
	}
}

// FailureEntry is one exhausted-retry delivery recorded for observability.
type FailureEntry struct {
	Fingerprint string
	Detail      string
	At          time.Time
}

// failureRing is a fixed-capacity FIFO of the most recent FailureEntry
// values for one destination.
type failureRing struct {
	mu      sync.Mutex
	entries []FailureEntry
	cap     int
}

func newFailureRing(cap int) *failureRing {
	return &failureRing{cap: cap}
}

func (r *failureRing) add(e FailureEntry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
	return len(r.entries)
}

func (r *failureRing) snapshot() []FailureEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FailureEntry(nil), r.entries...)
}

// Fanout delivers to every registered Destination with independent
// per-destination retry.
type Fanout struct {
	registry *Registry
	cfg      Config
	metrics  *metrics.FanoutMetrics
	logger   *slog.Logger

	mu       sync.Mutex
	failures map[string]*failureRing
}

// New creates a Fanout.
func New(registry *Registry, cfg Config, m *metrics.FanoutMetrics, logger *slog.Logger) *Fanout {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if cfg.FailureBufferSize == 0 {
		cfg.FailureBufferSize = DefaultConfig().FailureBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		registry: registry,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		failures: make(map[string]*failureRing),
	}
}

// Deliver formats and delivers the triple to every registered
// Destination concurrently, and blocks until all have either succeeded
// or exhausted their retries.
func (f *Fanout) Deliver(ctx context.Context, alert *core.Alert, enrichment *core.Enrichment, group *core.Group) {
	destinations := f.registry.List()
	var wg sync.WaitGroup
	wg.Add(len(destinations))
	for _, d := range destinations {
		go func(dest core.Destination) {
			defer wg.Done()
			f.deliverOne(ctx, dest, alert, enrichment, group)
		}(d)
	}
	wg.Wait()
}

func (f *Fanout) deliverOne(ctx context.Context, dest core.Destination, alert *core.Alert, enrichment *core.Enrichment, group *core.Group) {
	payload, err := dest.Format(alert, enrichment, group)
	if err != nil {
		f.logger.Warn("format failed", "destination", dest.Name(), "fingerprint", alert.Fingerprint, "error", err)
		f.recordFailure(dest.Name(), alert.Fingerprint, err.Error())
		return
	}

	backoff := f.cfg.InitialBackoff
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		result, err := dest.Deliver(ctx, payload)
		elapsed := time.Since(start)

		if err == nil && result.OK {
			f.recordDeliver(dest.Name(), "ok", elapsed)
			return
		}

		retryable := result.Transient && attempt < f.cfg.MaxAttempts
		if !retryable {
			detail := result.Detail
			if err != nil {
				detail = err.Error()
			}
			f.recordDeliver(dest.Name(), "failed", elapsed)
			f.recordFailure(dest.Name(), alert.Fingerprint, detail)
			return
		}

		f.recordDeliver(dest.Name(), "retry", elapsed)
		if f.metrics != nil {
			f.metrics.RetryQueueDepth.WithLabelValues(dest.Name()).Inc()
		}
		select {
		case <-ctx.Done():
			if f.metrics != nil {
				f.metrics.RetryQueueDepth.WithLabelValues(dest.Name()).Dec()
			}
			return
		case <-time.After(backoff):
		}
		if f.metrics != nil {
			f.metrics.RetryQueueDepth.WithLabelValues(dest.Name()).Dec()
		}
		backoff = nextBackoff(backoff, f.cfg.MaxBackoff)
	}

	f.recordFailure(dest.Name(), alert.Fingerprint, "max attempts exhausted")
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func (f *Fanout) recordDeliver(destination, result string, elapsed time.Duration) {
	if f.metrics != nil {
		f.metrics.RecordDeliver(destination, result, elapsed.Seconds())
	}
}

func (f *Fanout) recordFailure(destination, fingerprint, detail string) {
	f.mu.Lock()
	ring, ok := f.failures[destination]
	if !ok {
		ring = newFailureRing(f.cfg.FailureBufferSize)
		f.failures[destination] = ring
	}
	f.mu.Unlock()

	size := ring.add(FailureEntry{Fingerprint: fingerprint, Detail: detail, At: time.Now()})
	if f.metrics != nil {
		f.metrics.FailuresBuffered.WithLabelValues(destination).Set(float64(size))
	}
}

// RecentFailures returns the buffered failure history for destination,
// most recent last, for the admin surface.
func (f *Fanout) RecentFailures(destination string) []FailureEntry {
	f.mu.Lock()
	ring, ok := f.failures[destination]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return ring.snapshot()
}
