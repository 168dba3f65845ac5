package grouping_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/grouping"
	"github.com/holmesproxy/alert-core/internal/store"
)

type scriptedInvestigator struct {
	mu      sync.Mutex
	results []core.VerificationResult
	calls   int
}

func (s *scriptedInvestigator) Investigate(ctx context.Context, alert *core.Alert) (*core.Enrichment, error) {
	return &core.Enrichment{Status: core.EnrichmentOK}, nil
}

func (s *scriptedInvestigator) VerifyGrouping(ctx context.Context, alert *core.Alert, proposedRootCause string) (core.VerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return core.VerificationResult{Accepted: true}, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func (s *scriptedInvestigator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func seed(t *testing.T, s *store.Store, fingerprint, rootCause string, labels map[string]string) *core.Alert {
	t.Helper()
	_, err := s.Upsert(context.Background(), &core.Alert{
		Fingerprint: fingerprint,
		Status:      core.StatusFiring,
		Labels:      labels,
	}, "source-a")
	require.NoError(t, err)
	require.NoError(t, s.SetEnrichment(fingerprint, &core.Enrichment{Status: core.EnrichmentOK, RootCause: rootCause}))
	alert, _ := s.Get(fingerprint)
	return alert
}

func TestProcessCreatesNewGroupForUnseenRootCause(t *testing.T) {
	s := store.New(nil, nil)
	alert := seed(t, s, "fp1", "OOMKilled", map[string]string{"alertname": "PodCrash"})
	g := grouping.New(s, &scriptedInvestigator{}, nil, grouping.Config{}, nil, nil)

	group, err := g.Process(context.Background(), alert)
	require.NoError(t, err)
	assert.Equal(t, "OOMKilled", group.RootCause)
	assert.Equal(t, []string{"fp1"}, group.Members)
}

func TestProcessAdmitsOnAcceptedVerification(t *testing.T) {
	s := store.New(nil, nil)
	inv := &scriptedInvestigator{}
	g := grouping.New(s, inv, nil, grouping.Config{}, nil, nil)

	first := seed(t, s, "fp1", "OOMKilled", map[string]string{"alertname": "PodCrash", "namespace": "checkout"})
	group1, err := g.Process(context.Background(), first)
	require.NoError(t, err)

	second := seed(t, s, "fp2", "OOMKilled", map[string]string{"alertname": "PodCrash", "namespace": "billing"})
	group2, err := g.Process(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, group1.ID, group2.ID, "accepted verification joins the existing group")
	assert.Equal(t, 1, inv.callCount())
}

func TestProcessOpensNewGroupOnRejectedVerification(t *testing.T) {
	s := store.New(nil, nil)
	inv := &scriptedInvestigator{results: []core.VerificationResult{{Accepted: false, Reason: "unrelated"}}}
	g := grouping.New(s, inv, nil, grouping.Config{}, nil, nil)

	first := seed(t, s, "fp1", "OOMKilled", map[string]string{"alertname": "PodCrash"})
	group1, err := g.Process(context.Background(), first)
	require.NoError(t, err)

	second := seed(t, s, "fp2", "OOMKilled", map[string]string{"alertname": "PodCrash"})
	group2, err := g.Process(context.Background(), second)
	require.NoError(t, err)

	assert.NotEqual(t, group1.ID, group2.ID, "a rejected verification must not join the alert to the existing group")
	assert.Equal(t, "OOMKilled", group2.RootCause)
}

func TestRuleInducedAfterThresholdMembers(t *testing.T) {
	s := store.New(nil, nil)
	inv := &scriptedInvestigator{}
	g := grouping.New(s, inv, nil, grouping.Config{InductionThreshold: 2, PromotionThreshold: 100}, nil, nil)

	for i, fp := range []string{"fp1", "fp2", "fp3"} {
		_ = i
		alert := seed(t, s, fp, "OOMKilled", map[string]string{"alertname": "PodCrash", "team": "sre"})
		_, err := g.Process(context.Background(), alert)
		require.NoError(t, err)
	}

	groups := g.List()
	require.Len(t, groups, 1)
	assert.NotEmpty(t, groups[0].RuleID, "a rule should be induced once membership reaches the threshold")
}

func TestRulePromotedAfterConsecutiveVerifications(t *testing.T) {
	s := store.New(nil, nil)
	inv := &scriptedInvestigator{}
	g := grouping.New(s, inv, nil, grouping.Config{InductionThreshold: 1, PromotionThreshold: 2}, nil, nil)

	seedFP := func(fp string) *core.Alert {
		return seed(t, s, fp, "OOMKilled", map[string]string{"alertname": "PodCrash"})
	}

	_, err := g.Process(context.Background(), seedFP("fp1"))
	require.NoError(t, err)
	_, err = g.Process(context.Background(), seedFP("fp2"))
	require.NoError(t, err)
	// fp2's admission induces the rule (threshold 1) but the rule itself
	// starts at 0 verifications; fp3/fp4 drive it to promotion.
	_, err = g.Process(context.Background(), seedFP("fp3"))
	require.NoError(t, err)
	callsBeforePromotion := inv.callCount()

	_, err = g.Process(context.Background(), seedFP("fp4"))
	require.NoError(t, err)

	// Once trusted, a further alert with the matching labels should take
	// the fast path and not call VerifyGrouping again.
	before := inv.callCount()
	_, err = g.Process(context.Background(), seedFP("fp5"))
	require.NoError(t, err)
	assert.Equal(t, before, inv.callCount(), "a trusted rule must not invoke the investigator")
	assert.Greater(t, inv.callCount(), 0)
	_ = callsBeforePromotion
}

func TestRuleRetiredOnRejectedVerificationAfterInduction(t *testing.T) {
	s := store.New(nil, nil)
	inv := &scriptedInvestigator{}
	g := grouping.New(s, inv, nil, grouping.Config{InductionThreshold: 1, PromotionThreshold: 100}, nil, nil)

	seedFP := func(fp string) *core.Alert {
		return seed(t, s, fp, "OOMKilled", map[string]string{"alertname": "PodCrash"})
	}

	_, err := g.Process(context.Background(), seedFP("fp1"))
	require.NoError(t, err)
	_, err = g.Process(context.Background(), seedFP("fp2")) // induces candidate rule
	require.NoError(t, err)

	inv.mu.Lock()
	inv.results = append(inv.results, core.VerificationResult{Accepted: false})
	inv.mu.Unlock()

	_, err = g.Process(context.Background(), seedFP("fp3"))
	require.NoError(t, err)

	var sawRetiredRule bool
	for _, rule := range g.Rules() {
		if rule.State == core.RuleRetired {
			sawRetiredRule = true
		}
	}
	assert.True(t, sawRetiredRule)
}
