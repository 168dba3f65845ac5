package poller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/fetcher"
	"github.com/holmesproxy/alert-core/internal/poller"
	"github.com/holmesproxy/alert-core/internal/store"
)

type fakeFetcher struct {
	mu     sync.Mutex
	alerts []*core.Alert
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, source core.Source, filter fetcher.Filter) ([]*core.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.alerts, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	submitted []string
}

func (q *fakeQueue) Submit(ctx context.Context, fingerprint string, priority core.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted = append(q.submitted, fingerprint)
	return nil
}

func (q *fakeQueue) snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.submitted...)
}

func TestReconcileEmitsOnCreate(t *testing.T) {
	f := &fakeFetcher{alerts: []*core.Alert{{Fingerprint: "fp1", Status: core.StatusFiring}}}
	q := &fakeQueue{}
	s := store.New(nil, nil)

	p := poller.New(f, s, q, nil, poller.Config{
		PollInterval:   10 * time.Millisecond,
		StaticSources:  []core.Source{{ID: "s1", URL: "http://example"}},
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	assert.Contains(t, q.snapshot(), "fp1")
	got, ok := s.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, core.StatusFiring, got.Status)
}

func TestReconcileDoesNotEmitOnFiringToResolved(t *testing.T) {
	s := store.New(nil, nil)
	_, err := s.Upsert(context.Background(), &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "s1")
	require.NoError(t, err)

	f := &fakeFetcher{alerts: []*core.Alert{{Fingerprint: "fp1", Status: core.StatusResolved}}}
	q := &fakeQueue{}

	p := poller.New(f, s, q, nil, poller.Config{
		PollInterval:  10 * time.Millisecond,
		StaticSources: []core.Source{{ID: "s1", URL: "http://example"}},
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	assert.Empty(t, q.snapshot(), "firing->resolved must not emit")
}

func TestReconcileEmitsOnReopen(t *testing.T) {
	s := store.New(nil, nil)
	_, err := s.Upsert(context.Background(), &core.Alert{Fingerprint: "fp1", Status: core.StatusResolved}, "s1")
	require.NoError(t, err)

	f := &fakeFetcher{alerts: []*core.Alert{{Fingerprint: "fp1", Status: core.StatusFiring}}}
	q := &fakeQueue{}

	p := poller.New(f, s, q, nil, poller.Config{
		PollInterval:  10 * time.Millisecond,
		StaticSources: []core.Source{{ID: "s1", URL: "http://example"}},
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	assert.Contains(t, q.snapshot(), "fp1", "resolved->firing must re-emit")
}

func TestRunStopsAllSourceGoroutinesOnCancel(t *testing.T) {
	f := &fakeFetcher{}
	q := &fakeQueue{}
	s := store.New(nil, nil)

	p := poller.New(f, s, q, nil, poller.Config{
		PollInterval: 5 * time.Millisecond,
		StaticSources: []core.Source{
			{ID: "s1", URL: "http://a"},
			{ID: "s2", URL: "http://b"},
		},
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
