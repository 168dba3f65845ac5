// Package webhook implements the WebhookIngress (C4): a POST endpoint
// that accepts an Alertmanager v2 webhook payload, normalizes it via
// alertwire, reconciles it into the Store and emits newly-created or
// re-opened alerts to the EnrichmentQueue, mirroring the Poller's
// reconciliation rule for the push path (§4.4).
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/holmesproxy/alert-core/internal/alertwire"
	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/store"
	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// maxBodyBytes bounds the request body read to avoid an unbounded
// allocation from a hostile or misconfigured upstream.
const maxBodyBytes = 10 << 20 // 10 MiB

// Store is the subset of store.Store the WebhookIngress depends on.
type Store interface {
	Get(fingerprint string) (*core.Alert, bool)
	Upsert(ctx context.Context, alert *core.Alert, sourceID string) (store.UpsertResult, error)
}

// Queue is the subset of the EnrichmentQueue the WebhookIngress depends on.
type Queue interface {
	Submit(ctx context.Context, fingerprint string, priority core.Priority) error
}

// Handler serves POST /webhook/alertmanager.
type Handler struct {
	store   Store
	queue   Queue
	metrics *metrics.WebhookMetrics
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(s Store, q Queue, m *metrics.WebhookMetrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: s, queue: q, metrics: m, logger: logger}
}

// Register mounts the handler on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/webhook/alertmanager", h.ServeHTTP).Methods(http.MethodPost)
}

// response is the JSON body returned for both the 200 and 400 cases.
type response struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	AlertsReceived int    `json:"alerts_received"`
	AlertsAccepted int    `json:"alerts_accepted"`
}

// ServeHTTP implements the decode->validate->normalize->reconcile
// pipeline. A malformed body is the only case that yields a non-2xx
// response (400 bad_request); once the payload parses, every downstream
// failure is logged and absorbed, never surfaced as a 5xx (§4.4).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.reject(w, start, "failed to read request body")
		return
	}
	if h.metrics != nil {
		h.metrics.PayloadSizeBytes.Observe(float64(len(body)))
	}

	var payload alertwire.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.reject(w, start, fmt.Sprintf("malformed webhook payload: %v", err))
		return
	}
	if h.metrics != nil {
		h.metrics.AlertsPerRequest.Observe(float64(len(payload.Alerts)))
	}

	parseStart := time.Now()
	alerts := alertwire.NormalizeAll(h.logger, payload.Alerts)
	h.recordStage("parse", time.Since(parseStart).Seconds())

	sourceID := sourceIDFor(payload)

	reconcileStart := time.Now()
	accepted := h.reconcile(r.Context(), sourceID, alerts)
	h.recordStage("upsert", time.Since(reconcileStart).Seconds())

	// The payload is fully reconciled into the Store before this response
	// is written (§4.4), so a 200 here means processing is done, not
	// merely accepted for later work; 200 is used instead of 202
	// accordingly.
	h.recordRequest("processed", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, response{
		Status:         "processed",
		Message:        fmt.Sprintf("processed %d of %d alerts", accepted, len(payload.Alerts)),
		AlertsReceived: len(payload.Alerts),
		AlertsAccepted: accepted,
	})
}

func (h *Handler) reject(w http.ResponseWriter, start time.Time, message string) {
	h.recordRequest("bad_request", time.Since(start).Seconds())
	writeJSON(w, http.StatusBadRequest, response{Status: "bad_request", Message: message})
}

func (h *Handler) recordRequest(result string, seconds float64) {
	if h.metrics != nil {
		h.metrics.RecordRequest(result, seconds)
	}
}

func (h *Handler) recordStage(stage string, seconds float64) {
	if h.metrics != nil {
		h.metrics.RecordStage(stage, seconds)
	}
}

// reconcile upserts each alert and emits newly-created or
// resolved->firing re-opened alerts to the EnrichmentQueue, matching the
// Poller's reconciliation rule for the push ingestion path.
func (h *Handler) reconcile(ctx context.Context, sourceID string, alerts []*core.Alert) int {
	accepted := 0
	for _, alert := range alerts {
		before, hadBefore := h.store.Get(alert.Fingerprint)

		result, err := h.store.Upsert(ctx, alert, sourceID)
		if err != nil {
			h.logger.Warn("upsert failed", "source", sourceID, "fingerprint", alert.Fingerprint, "error", err)
			continue
		}
		accepted++

		switch result {
		case store.Created:
			h.emit(ctx, alert.Fingerprint)
		case store.Updated:
			if hadBefore && before.Status == core.StatusResolved && alert.Status == core.StatusFiring {
				h.emit(ctx, alert.Fingerprint)
			}
		}
	}
	return accepted
}

func (h *Handler) emit(ctx context.Context, fingerprint string) {
	if err := h.queue.Submit(ctx, fingerprint, core.PriorityNormal); err != nil && !errors.Is(err, core.ErrAlreadyInFlight) {
		h.logger.Warn("enrichment submit failed", "fingerprint", fingerprint, "error", err)
	}
}

// sourceIDFor derives a stable Store source id from the webhook's
// receiver name, so repeated deliveries from the same Alertmanager
// receiver share one dedup namespace regardless of originating IP.
func sourceIDFor(payload alertwire.WebhookPayload) string {
	if payload.Receiver != "" {
		return "webhook:" + payload.Receiver
	}
	return "webhook"
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
