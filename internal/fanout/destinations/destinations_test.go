package destinations_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/fanout/destinations"
)

func testAlert() *core.Alert {
	return &core.Alert{
		Fingerprint: "fp1",
		Status:      core.StatusFiring,
		Labels:      map[string]string{"alertname": "PodCrash"},
		StartsAt:    time.Now(),
	}
}

func TestChatFormatAndDeliver(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest := destinations.NewChat("slack", srv.URL)
	assert.Equal(t, core.DestinationChat, dest.Kind())

	payload, err := dest.Format(testAlert(), &core.Enrichment{RootCause: "OOMKilled"}, &core.Group{ID: "g1", Members: []string{"fp1"}})
	require.NoError(t, err)

	result, err := dest.Deliver(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Contains(t, received["text"], "PodCrash")
}

func TestRelayFormatIncludesRootCauseAndGroup(t *testing.T) {
	dest := destinations.NewRelay("downstream", "http://unused.invalid", nil)
	payload, err := dest.Format(testAlert(), &core.Enrichment{RootCause: "DiskFull", Category: core.CategoryInfrastructure}, &core.Group{ID: "g2"})
	require.NoError(t, err)

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(body), "DiskFull")
	assert.Contains(t, string(body), "g2")
}

func TestWebhookDeliverTransientOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dest := destinations.NewWebhook("generic", srv.URL, nil)
	payload, err := dest.Format(testAlert(), nil, nil)
	require.NoError(t, err)

	result, err := dest.Deliver(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, result.Transient)
	assert.False(t, result.OK)
}

func TestWebhookDeliverPermanentOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	dest := destinations.NewWebhook("generic", srv.URL, nil)
	payload, err := dest.Format(testAlert(), nil, nil)
	require.NoError(t, err)

	result, err := dest.Deliver(context.Background(), payload)
	require.Error(t, err)
	assert.False(t, result.Transient)
	assert.False(t, result.OK)
}

func TestWebhookSendsCustomHeaders(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest := destinations.NewWebhook("generic", srv.URL, map[string]string{"X-Api-Key": "secret"})
	payload, err := dest.Format(testAlert(), nil, nil)
	require.NoError(t, err)

	_, err = dest.Deliver(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "secret", gotHeader)
}

func TestFormatRejectsNilAlert(t *testing.T) {
	chat := destinations.NewChat("slack", "http://unused.invalid")
	_, err := chat.Format(nil, nil, nil)
	assert.Error(t, err)

	relay := destinations.NewRelay("downstream", "http://unused.invalid", nil)
	_, err = relay.Format(nil, nil, nil)
	assert.Error(t, err)

	webhook := destinations.NewWebhook("generic", "http://unused.invalid", nil)
	_, err = webhook.Format(nil, nil, nil)
	assert.Error(t, err)
}
