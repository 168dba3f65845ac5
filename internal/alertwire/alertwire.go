// Package alertwire decodes the Alertmanager v2 alert shape shared by
// the Fetcher's GET response and the WebhookIngress's POST payload, and
// normalizes entries into core.Alert.
package alertwire

import (
	"log/slog"
	"time"

	"github.com/holmesproxy/alert-core/internal/core"
)

// Alert is the wire shape of one Alertmanager v2 alert, whether returned
// from GET /api/v2/alerts or embedded in a webhook payload's "alerts".
type Alert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// WebhookPayload is Alertmanager's v2 webhook envelope (§4.4).
type WebhookPayload struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	TruncatedAlerts   int               `json:"truncatedAlerts"`
	Status            string            `json:"status"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Alerts            []Alert           `json:"alerts"`
}

// Normalize converts one wire Alert to a core.Alert. It returns false
// (never an error) when the entry lacks a fingerprint, per I1: the core
// never synthesizes one, it drops the entry with a WARN instead.
func Normalize(logger *slog.Logger, w Alert) (*core.Alert, bool) {
	if w.Fingerprint == "" {
		if logger != nil {
			logger.Warn("dropping alert without fingerprint", "alertname", w.Labels["alertname"])
		}
		return nil, false
	}

	status := core.StatusFiring
	if w.Status == string(core.StatusResolved) {
		status = core.StatusResolved
	}

	var endsAt *time.Time
	if !w.EndsAt.IsZero() {
		e := w.EndsAt
		endsAt = &e
	}

	return &core.Alert{
		Fingerprint:  w.Fingerprint,
		Labels:       w.Labels,
		Annotations:  w.Annotations,
		StartsAt:     w.StartsAt,
		EndsAt:       endsAt,
		UpdatedAt:    time.Now(),
		Status:       status,
		GeneratorURL: w.GeneratorURL,
	}, true
}

// NormalizeAll normalizes a batch, silently skipping entries Normalize
// rejects.
func NormalizeAll(logger *slog.Logger, alerts []Alert) []*core.Alert {
	out := make([]*core.Alert, 0, len(alerts))
	for _, a := range alerts {
		if converted, ok := Normalize(logger, a); ok {
			out = append(out, converted)
		}
	}
	return out
}
