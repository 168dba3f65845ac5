package alertwire_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/alertwire"
	"github.com/holmesproxy/alert-core/internal/core"
)

func TestNormalizeDropsMissingFingerprint(t *testing.T) {
	_, ok := alertwire.Normalize(nil, alertwire.Alert{
		Status:   "firing",
		Labels:   map[string]string{"alertname": "PodCrash"},
		StartsAt: time.Now(),
	})
	assert.False(t, ok)
}

func TestNormalizeMapsFields(t *testing.T) {
	now := time.Now()
	ends := now.Add(time.Hour)
	a, ok := alertwire.Normalize(nil, alertwire.Alert{
		Status:       "resolved",
		Labels:       map[string]string{"alertname": "PodCrash"},
		Annotations:  map[string]string{"summary": "crashed"},
		StartsAt:     now,
		EndsAt:       ends,
		GeneratorURL: "http://prom/graph",
		Fingerprint:  "fp1",
	})
	require.True(t, ok)
	assert.Equal(t, "fp1", a.Fingerprint)
	assert.Equal(t, core.StatusResolved, a.Status)
	require.NotNil(t, a.EndsAt)
	assert.True(t, a.EndsAt.Equal(ends))
}

func TestNormalizeDefaultsToFiringForUnknownStatus(t *testing.T) {
	a, ok := alertwire.Normalize(nil, alertwire.Alert{
		Status:      "pending",
		Labels:      map[string]string{"alertname": "X"},
		StartsAt:    time.Now(),
		Fingerprint: "fp2",
	})
	require.True(t, ok)
	assert.Equal(t, core.StatusFiring, a.Status)
}

func TestNormalizeAllSkipsInvalidEntries(t *testing.T) {
	out := alertwire.NormalizeAll(nil, []alertwire.Alert{
		{Fingerprint: "fp1", Status: "firing", StartsAt: time.Now()},
		{Status: "firing", StartsAt: time.Now()}, // missing fingerprint, dropped
		{Fingerprint: "fp2", Status: "firing", StartsAt: time.Now()},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "fp1", out[0].Fingerprint)
	assert.Equal(t, "fp2", out[1].Fingerprint)
}
