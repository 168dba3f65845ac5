package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/store"
)

func newTestStore() *store.Store {
	return store.New(nil, nil)
}

func TestUpsertCreatesNewAlert(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	alert := &core.Alert{
		Fingerprint: "fp1",
		Status:      core.StatusFiring,
		Labels:      map[string]string{"alertname": "PodCrash"},
	}

	result, err := s.Upsert(ctx, alert, "source-a")
	require.NoError(t, err)
	assert.Equal(t, store.Created, result)

	got, ok := s.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, core.StatusFiring, got.Status)
}

func TestUpsertMissingFingerprint(t *testing.T) {
	s := newTestStore()
	_, err := s.Upsert(context.Background(), &core.Alert{Status: core.StatusFiring}, "source-a")
	require.ErrorIs(t, err, core.ErrFingerprintMissing)
}

func TestUpsertNoopOnIdenticalAlert(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	alert := &core.Alert{
		Fingerprint: "fp1",
		Status:      core.StatusFiring,
		Labels:      map[string]string{"a": "b"},
	}

	_, err := s.Upsert(ctx, alert, "source-a")
	require.NoError(t, err)

	result, err := s.Upsert(ctx, alert, "source-a")
	require.NoError(t, err)
	assert.Equal(t, store.Noop, result)
}

func TestUpsertUpdatesOnStatusChange(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, upsertErr(s.Upsert(ctx, &core.Alert{
		Fingerprint: "fp1",
		Status:      core.StatusFiring,
	}, "source-a")))

	result, err := s.Upsert(ctx, &core.Alert{
		Fingerprint: "fp1",
		Status:      core.StatusResolved,
	}, "source-a")
	require.NoError(t, err)
	assert.Equal(t, store.Updated, result)

	got, _ := s.Get("fp1")
	assert.Equal(t, core.StatusResolved, got.Status)
}

func TestUpsertReopenBumpsEpisode(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Upsert(ctx, &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, &core.Alert{Fingerprint: "fp1", Status: core.StatusResolved}, "source-a")
	require.NoError(t, err)

	before, _ := s.Get("fp1")
	require.Equal(t, 0, before.Episode())

	result, err := s.Upsert(ctx, &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")
	require.NoError(t, err)
	assert.Equal(t, store.Updated, result)

	after, _ := s.Get("fp1")
	assert.Equal(t, 1, after.Episode())
}

func TestUpsertMergesLabelsUnion(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Upsert(ctx, &core.Alert{
		Fingerprint: "fp1",
		Status:      core.StatusFiring,
		Labels:      map[string]string{"a": "1"},
	}, "source-a")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, &core.Alert{
		Fingerprint: "fp1",
		Status:      core.StatusFiring,
		Labels:      map[string]string{"a": "2", "b": "3"},
	}, "source-a")
	require.NoError(t, err)

	got, _ := s.Get("fp1")
	assert.Equal(t, "2", got.Labels["a"], "last-writer-wins on conflicting values")
	assert.Equal(t, "3", got.Labels["b"], "union on keys")
}

func TestListPreservesInsertionOrder(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for _, fp := range []string{"fp3", "fp1", "fp2"} {
		_, err := s.Upsert(ctx, &core.Alert{Fingerprint: fp, Status: core.StatusFiring}, "source-a")
		require.NoError(t, err)
	}

	list := s.List(store.Filter{})
	require.Len(t, list, 3)
	assert.Equal(t, []string{"fp3", "fp1", "fp2"}, []string{list[0].Fingerprint, list[1].Fingerprint, list[2].Fingerprint})
}

func TestListFiltersByStatusAndLabels(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, upsertErr(s.Upsert(ctx, &core.Alert{
		Fingerprint: "fp1", Status: core.StatusFiring, Labels: map[string]string{"team": "sre"},
	}, "source-a")))
	require.NoError(t, upsertErr(s.Upsert(ctx, &core.Alert{
		Fingerprint: "fp2", Status: core.StatusResolved, Labels: map[string]string{"team": "sre"},
	}, "source-a")))

	firing := s.List(store.Filter{Status: store.AlertStatusFilter{Set: true, Value: core.StatusFiring}})
	require.Len(t, firing, 1)
	assert.Equal(t, "fp1", firing[0].Fingerprint)

	byLabel := s.List(store.Filter{Labels: map[string]string{"team": "sre"}})
	assert.Len(t, byLabel, 2)
}

func TestDeleteRemovesFromIndexAndSeen(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, upsertErr(s.Upsert(ctx, &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")))
	s.Delete("fp1")

	_, ok := s.Get("fp1")
	assert.False(t, ok)
	assert.Empty(t, s.List(store.Filter{}))

	deduped := s.Dedup("source-a", []*core.Alert{{Fingerprint: "fp1"}})
	assert.Len(t, deduped, 1, "delete clears the seen set so the fingerprint is no longer deduped")
}

func TestDedupDropsAlreadySeen(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, upsertErr(s.Upsert(ctx, &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")))

	incoming := []*core.Alert{{Fingerprint: "fp1"}, {Fingerprint: "fp2"}}
	out := s.Dedup("source-a", incoming)
	require.Len(t, out, 1)
	assert.Equal(t, "fp2", out[0].Fingerprint)
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, upsertErr(s.Upsert(ctx, &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Status = core.StatusResolved

	got, _ := s.Get("fp1")
	assert.Equal(t, core.StatusFiring, got.Status, "mutating a snapshot entry must not affect the Store")
}

func TestSetEnrichmentAttachesResult(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, upsertErr(s.Upsert(ctx, &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")))

	err := s.SetEnrichment("fp1", &core.Enrichment{Status: core.EnrichmentOK, RootCause: "OOMKilled"})
	require.NoError(t, err)

	got, _ := s.Get("fp1")
	require.NotNil(t, got.Enrichment)
	assert.Equal(t, "OOMKilled", got.Enrichment.RootCause)
}

func TestSetEnrichmentUnknownFingerprint(t *testing.T) {
	s := newTestStore()
	err := s.SetEnrichment("missing", &core.Enrichment{Status: core.EnrichmentOK})
	require.ErrorIs(t, err, core.ErrAlertNotFound)
}

func TestSetGroupIDAttachesMembership(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, upsertErr(s.Upsert(ctx, &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")))

	require.NoError(t, s.SetGroupID("fp1", "group-1"))

	got, _ := s.Get("fp1")
	assert.Equal(t, "group-1", got.GroupID)
}

func TestConcurrentUpsertIsRace_Free(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = s.Upsert(ctx, &core.Alert{
				Fingerprint: "shared",
				Status:      core.StatusFiring,
				Labels:      map[string]string{"iteration": time.Now().Format(time.RFC3339Nano)},
			}, "source-a")
		}(i)
	}
	wg.Wait()

	got, ok := s.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "shared", got.Fingerprint)
	assert.Len(t, s.List(store.Filter{}), 1, "concurrent upserts of the same fingerprint must not duplicate the index entry")
}

func upsertErr(_ store.UpsertResult, err error) error { return err }
