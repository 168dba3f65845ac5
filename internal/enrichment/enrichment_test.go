package enrichment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/enrichment"
	"github.com/holmesproxy/alert-core/internal/store"
)

type fakeInvestigator struct {
	mu    sync.Mutex
	order []string
	err   error
}

func (f *fakeInvestigator) Investigate(ctx context.Context, alert *core.Alert) (*core.Enrichment, error) {
	f.mu.Lock()
	f.order = append(f.order, alert.Fingerprint)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &core.Enrichment{Status: core.EnrichmentOK, RootCause: "known cause"}, nil
}

func (f *fakeInvestigator) VerifyGrouping(ctx context.Context, alert *core.Alert, proposedRootCause string) (core.VerificationResult, error) {
	return core.VerificationResult{Accepted: true}, nil
}

func (f *fakeInvestigator) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type fakeCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{m: make(map[string]string)} }

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func seedAlert(t *testing.T, s *store.Store, fingerprint string) {
	t.Helper()
	_, err := s.Upsert(context.Background(), &core.Alert{Fingerprint: fingerprint, Status: core.StatusFiring}, "source-a")
	require.NoError(t, err)
}

func TestSubmitInvestigatesAndUpdatesStore(t *testing.T) {
	s := store.New(nil, nil)
	seedAlert(t, s, "fp1")
	inv := &fakeInvestigator{}
	q := enrichment.New(s, inv, nil, enrichment.Config{Workers: 1}, nil, nil)

	require.NoError(t, q.Submit(context.Background(), "fp1", core.PriorityNormal))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	got, ok := s.Get("fp1")
	require.True(t, ok)
	require.NotNil(t, got.Enrichment)
	assert.Equal(t, core.EnrichmentOK, got.Enrichment.Status)
	assert.Contains(t, inv.snapshot(), "fp1")
}

func TestSubmitNoopWhenAlreadyInFlight(t *testing.T) {
	s := store.New(nil, nil)
	seedAlert(t, s, "fp1")
	inv := &fakeInvestigator{}
	q := enrichment.New(s, inv, nil, enrichment.Config{Workers: 1, QueueCap: 1}, nil, nil)

	require.NoError(t, q.Submit(context.Background(), "fp1", core.PriorityNormal))
	err := q.Submit(context.Background(), "fp1", core.PriorityNormal)
	require.ErrorIs(t, err, core.ErrAlreadyInFlight)
}

func TestSubmitAllowsResubmitAfterCompletion(t *testing.T) {
	s := store.New(nil, nil)
	seedAlert(t, s, "fp1")
	inv := &fakeInvestigator{}
	q := enrichment.New(s, inv, nil, enrichment.Config{Workers: 1}, nil, nil)

	require.NoError(t, q.Submit(context.Background(), "fp1", core.PriorityNormal))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	go q.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, q.Submit(context.Background(), "fp1", core.PriorityNormal), "fingerprint must be released once processing completes")
}

func TestInvestigationFailureStoresFailedEnrichment(t *testing.T) {
	s := store.New(nil, nil)
	seedAlert(t, s, "fp1")
	inv := &fakeInvestigator{err: errors.New("llm unreachable")}
	q := enrichment.New(s, inv, nil, enrichment.Config{Workers: 1}, nil, nil)

	require.NoError(t, q.Submit(context.Background(), "fp1", core.PriorityNormal))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	got, ok := s.Get("fp1")
	require.True(t, ok)
	require.NotNil(t, got.Enrichment)
	assert.Equal(t, core.EnrichmentFailed, got.Enrichment.Status)
	assert.Contains(t, got.Enrichment.Error, "llm unreachable")
}

func TestOutcomeCacheHitSkipsInvestigator(t *testing.T) {
	s := store.New(nil, nil)
	seedAlert(t, s, "fp1")
	c := newFakeCache()
	require.NoError(t, c.Set(context.Background(), "enrichment:outcome:fp1", `{"status":"ok","root_cause":"cached cause"}`, time.Hour))

	inv := &fakeInvestigator{}
	q := enrichment.New(s, inv, c, enrichment.Config{Workers: 1, OutcomeTTL: time.Hour}, nil, nil)

	require.NoError(t, q.Submit(context.Background(), "fp1", core.PriorityNormal))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	got, ok := s.Get("fp1")
	require.True(t, ok)
	require.NotNil(t, got.Enrichment)
	assert.Equal(t, "cached cause", got.Enrichment.RootCause)
	assert.Empty(t, inv.snapshot(), "a cache hit must not invoke the investigator")
}

func TestHighPriorityDrainedBeforeNormal(t *testing.T) {
	s := store.New(nil, nil)
	for _, fp := range []string{"n1", "n2", "h1"} {
		seedAlert(t, s, fp)
	}
	inv := &fakeInvestigator{}
	q := enrichment.New(s, inv, nil, enrichment.Config{Workers: 1}, nil, nil)

	require.NoError(t, q.Submit(context.Background(), "n1", core.PriorityNormal))
	require.NoError(t, q.Submit(context.Background(), "n2", core.PriorityNormal))
	require.NoError(t, q.Submit(context.Background(), "h1", core.PriorityHigh))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	order := inv.snapshot()
	require.Len(t, order, 3)
	assert.Equal(t, "h1", order[0], "high priority must be investigated before already-queued normal work")
}

func TestQueueFullBlocksUntilSlotFrees(t *testing.T) {
	s := store.New(nil, nil)
	seedAlert(t, s, "fp1")
	seedAlert(t, s, "fp2")
	inv := &fakeInvestigator{}
	// Never call Run, so the queue channel stays full after one Submit.
	q := enrichment.New(s, inv, nil, enrichment.Config{QueueCap: 1}, nil, nil)

	require.NoError(t, q.Submit(context.Background(), "fp1", core.PriorityNormal))

	submitted := make(chan error, 1)
	go func() { submitted <- q.Submit(context.Background(), "fp2", core.PriorityNormal) }()

	select {
	case <-submitted:
		t.Fatal("Submit must block while the queue is at capacity, not return immediately")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go q.Run(ctx)

	select {
	case err := <-submitted:
		require.NoError(t, err, "submit must succeed once a worker frees a slot")
	case <-time.After(time.Second):
		t.Fatal("blocked submit never unblocked after a worker started draining the queue")
	}
}

func TestSubmitUnblocksOnContextCancel(t *testing.T) {
	s := store.New(nil, nil)
	seedAlert(t, s, "fp1")
	seedAlert(t, s, "fp2")
	inv := &fakeInvestigator{}
	q := enrichment.New(s, inv, nil, enrichment.Config{QueueCap: 1}, nil, nil)

	require.NoError(t, q.Submit(context.Background(), "fp1", core.PriorityNormal))

	ctx, cancel := context.WithCancel(context.Background())
	submitted := make(chan error, 1)
	go func() { submitted <- q.Submit(ctx, "fp2", core.PriorityNormal) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-submitted:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Submit did not return after its context was cancelled")
	}
}
