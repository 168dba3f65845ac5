// Package store implements the Store (C2): a process-local map of
// fingerprint to Alert plus an insertion-ordered index and per-source
// "seen" bookkeeping used for dedup.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// UpsertResult is the outcome of one Upsert call.
type UpsertResult string

const (
	Created UpsertResult = "created"
	Updated UpsertResult = "updated"
	Noop    UpsertResult = "noop"
)

// Filter narrows List results by status and/or label equality.
type Filter struct {
	Status AlertStatusFilter
	Labels map[string]string
}

// AlertStatusFilter optionally restricts List to one AlertStatus.
type AlertStatusFilter struct {
	Set   bool
	Value core.AlertStatus
}

// Store is the in-memory fingerprint->Alert index described by C2.
// All operations are safe under concurrent callers (§5): readers take
// an RLock and never block behind other readers, writers serialize via
// a single Lock per call.
type Store struct {
	mu      sync.RWMutex
	alerts  map[string]*core.Alert
	order   []string
	seen    map[string]map[string]struct{} // sourceID -> fingerprint set
	metrics *metrics.StoreMetrics
	logger  *slog.Logger
}

// New creates an empty Store.
func New(m *metrics.StoreMetrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		alerts:  make(map[string]*core.Alert),
		seen:    make(map[string]map[string]struct{}),
		metrics: m,
		logger:  logger,
	}
}

// Upsert inserts or merges alert, recording fingerprint as seen for
// sourceID regardless of outcome. Returns core.ErrFingerprintMissing if
// alert.Fingerprint is empty (I1 forbids synthesizing one).
func (s *Store) Upsert(ctx context.Context, alert *core.Alert, sourceID string) (UpsertResult, error) {
	if alert == nil || alert.Fingerprint == "" {
		return Noop, core.ErrFingerprintMissing
	}
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSeenLocked(sourceID, alert.Fingerprint)

	existing, ok := s.alerts[alert.Fingerprint]
	if !ok {
		stored := alert.Clone()
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = time.Now()
		}
		s.alerts[alert.Fingerprint] = stored
		s.order = append(s.order, alert.Fingerprint)
		s.recordUpsert(Created, start)
		return Created, nil
	}

	result := s.mergeLocked(existing, alert)
	s.recordUpsert(result, start)
	return result, nil
}

// mergeLocked merges incoming into existing in place (I2: never touches
// s.order) and reports whether anything changed. Caller holds s.mu.
func (s *Store) mergeLocked(existing, incoming *core.Alert) UpsertResult {
	changed := false

	if incoming.Status == core.StatusFiring && existing.Status == core.StatusResolved {
		existing.Reopen()
		changed = true
	}
	if existing.Status != incoming.Status {
		existing.Status = incoming.Status
		changed = true
	}

	if !endsAtEqual(existing.EndsAt, incoming.EndsAt) {
		existing.EndsAt = incoming.EndsAt
		changed = true
	}

	if mergeInto(&existing.Labels, incoming.Labels) {
		changed = true
	}
	if mergeInto(&existing.Annotations, incoming.Annotations) {
		changed = true
	}

	if incoming.GeneratorURL != "" && incoming.GeneratorURL != existing.GeneratorURL {
		existing.GeneratorURL = incoming.GeneratorURL
		changed = true
	}

	if !changed {
		return Noop
	}
	existing.UpdatedAt = time.Now()
	return Updated
}

// mergeInto unions src's keys into *dst, src's value winning on
// conflicting keys (last-writer-wins). Reports whether *dst changed.
func mergeInto(dst *map[string]string, src map[string]string) bool {
	if len(src) == 0 {
		return false
	}
	if *dst == nil {
		*dst = make(map[string]string, len(src))
	}
	changed := false
	for k, v := range src {
		if cur, ok := (*dst)[k]; !ok || cur != v {
			(*dst)[k] = v
			changed = true
		}
	}
	return changed
}

func endsAtEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Get returns a clone of the stored Alert for fingerprint, or false if
// absent.
func (s *Store) Get(fingerprint string) (*core.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[fingerprint]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// SetEnrichment attaches or replaces fingerprint's Enrichment result.
// Returns core.ErrAlertNotFound if the alert is no longer present (e.g.
// deleted while enrichment was in flight).
func (s *Store) SetEnrichment(fingerprint string, enrichment *core.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[fingerprint]
	if !ok {
		return core.ErrAlertNotFound
	}
	a.Enrichment = enrichment
	a.UpdatedAt = time.Now()
	return nil
}

// SetGroupID attaches fingerprint's Group membership (§4.6).
func (s *Store) SetGroupID(fingerprint, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[fingerprint]
	if !ok {
		return core.ErrAlertNotFound
	}
	a.GroupID = groupID
	return nil
}

// List returns alerts in insertion order, optionally narrowed by filter.
func (s *Store) List(filter Filter) []*core.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Alert, 0, len(s.order))
	for _, fp := range s.order {
		a := s.alerts[fp]
		if !matches(a, filter) {
			continue
		}
		out = append(out, a.Clone())
	}
	return out
}

func matches(a *core.Alert, filter Filter) bool {
	if filter.Status.Set && a.Status != filter.Status.Value {
		return false
	}
	for k, v := range filter.Labels {
		if a.Labels[k] != v {
			return false
		}
	}
	return true
}

// Delete removes fingerprint from the index and every source's seen
// set. Used only by explicit user action (§4.2).
func (s *Store) Delete(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.alerts, fingerprint)
	for i, fp := range s.order {
		if fp == fingerprint {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	for _, set := range s.seen {
		delete(set, fingerprint)
	}
}

// Dedup returns the subsequence of alerts whose fingerprints are not
// already recorded as seen for sourceID.
func (s *Store) Dedup(sourceID string, alerts []*core.Alert) []*core.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := s.seen[sourceID]
	out := make([]*core.Alert, 0, len(alerts))
	dropped := 0
	for _, a := range alerts {
		if seen != nil {
			if _, ok := seen[a.Fingerprint]; ok {
				dropped++
				continue
			}
		}
		out = append(out, a)
	}
	if s.metrics != nil && dropped > 0 {
		s.metrics.DedupDropsTotal.WithLabelValues(sourceID).Add(float64(dropped))
	}
	return out
}

// Snapshot returns an immutable, insertion-ordered copy of every stored
// alert, consumed by read-only readers (admin API, Grouper scans).
func (s *Store) Snapshot() []*core.Alert {
	return s.List(Filter{})
}

func (s *Store) markSeenLocked(sourceID, fingerprint string) {
	set, ok := s.seen[sourceID]
	if !ok {
		set = make(map[string]struct{})
		s.seen[sourceID] = set
	}
	set[fingerprint] = struct{}{}
}

func (s *Store) recordUpsert(result UpsertResult, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordUpsert(string(result), time.Since(start).Seconds())
	s.metrics.AlertsTotal.Set(float64(len(s.alerts)))
}
