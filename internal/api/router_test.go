package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/api"
	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/fanout"
	"github.com/holmesproxy/alert-core/internal/grouping"
	"github.com/holmesproxy/alert-core/internal/store"
)

type noopInvestigator struct{}

func (noopInvestigator) Investigate(ctx context.Context, alert *core.Alert) (*core.Enrichment, error) {
	return &core.Enrichment{Status: core.EnrichmentOK}, nil
}

func (noopInvestigator) VerifyGrouping(ctx context.Context, alert *core.Alert, rootCause string) (core.VerificationResult, error) {
	return core.VerificationResult{Accepted: true}, nil
}

func newTestRouter(t *testing.T) (*store.Store, *grouping.Grouper, *api.Config) {
	t.Helper()
	s := store.New(nil, nil)
	g := grouping.New(s, noopInvestigator{}, nil, grouping.Config{}, nil, nil)
	f := fanout.New(fanout.NewRegistry(), fanout.Config{}, nil, nil)
	cfg := &api.Config{Store: s, Groups: g, Rules: g, Fanout: f}
	return s, g, cfg
}

func TestHealthz(t *testing.T) {
	_, _, cfg := newTestRouter(t)
	router := api.NewRouter(*cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAndGetAlert(t *testing.T) {
	s, _, cfg := newTestRouter(t)
	router := api.NewRouter(*cfg)

	_, err := s.Upsert(context.Background(), &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []*core.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts/fp1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetAlertNotFound(t *testing.T) {
	_, _, cfg := newTestRouter(t)
	router := api.NewRouter(*cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListGroupsAndRules(t *testing.T) {
	s, g, cfg := newTestRouter(t)
	router := api.NewRouter(*cfg)

	_, err := s.Upsert(context.Background(), &core.Alert{Fingerprint: "fp1", Status: core.StatusFiring}, "source-a")
	require.NoError(t, err)
	require.NoError(t, s.SetEnrichment("fp1", &core.Enrichment{Status: core.EnrichmentOK, RootCause: "OOMKilled"}))
	alert, _ := s.Get("fp1")
	_, err = g.Process(context.Background(), alert)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var groups []*core.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDestinationFailuresEmptyByDefault(t *testing.T) {
	_, _, cfg := newTestRouter(t)
	router := api.NewRouter(*cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/destinations/slack/failures", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	_, _, cfg := newTestRouter(t)
	router := api.NewRouter(*cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
