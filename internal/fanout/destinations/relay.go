package destinations

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/holmesproxy/alert-core/internal/core"
)

// relayAlert mirrors the Alertmanager-compatible shape the teacher's
// formatAlertmanager produced, re-grounded on core.Alert's own fields
// rather than the teacher's EnrichedAlert wrapper.
type relayAlert struct {
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       *time.Time        `json:"endsAt,omitempty"`
	Status       string            `json:"status"`
	Fingerprint  string            `json:"fingerprint"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

type relayPayload struct {
	Alert     relayAlert `json:"alert"`
	RootCause string     `json:"root_cause,omitempty"`
	Category  string     `json:"category,omitempty"`
	GroupID   string     `json:"group_id,omitempty"`
}

// Relay is a core.Destination that re-posts the alert, in
// Alertmanager-compatible shape plus root-cause/group annotations, to a
// downstream alert-routing system (e.g. another Alertmanager, an
// incident-management relay).
type Relay struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewRelay creates a Relay destination posting to url. headers is
// applied to every request (e.g. an API key); it may be nil.
func NewRelay(name, url string, headers map[string]string) *Relay {
	return &Relay{
		name:    name,
		url:     url,
		headers: headers,
		client:  newHTTPClient(10 * time.Second),
	}
}

func (r *Relay) Name() string               { return r.name }
func (r *Relay) Kind() core.DestinationKind { return core.DestinationRelay }

func (r *Relay) Format(alert *core.Alert, enrichment *core.Enrichment, group *core.Group) (any, error) {
	if alert == nil {
		return nil, fmt.Errorf("relay: alert is nil")
	}

	payload := relayPayload{
		Alert: relayAlert{
			Labels:       alert.Labels,
			Annotations:  alert.Annotations,
			StartsAt:     alert.StartsAt,
			EndsAt:       alert.EndsAt,
			Status:       string(alert.Status),
			Fingerprint:  alert.Fingerprint,
			GeneratorURL: alert.GeneratorURL,
		},
	}
	if enrichment != nil {
		payload.RootCause = enrichment.RootCause
		payload.Category = string(enrichment.Category)
	}
	if group != nil {
		payload.GroupID = group.ID
	}
	return payload, nil
}

func (r *Relay) Deliver(ctx context.Context, payload any) (core.DeliveryResult, error) {
	body, err := marshal(payload)
	if err != nil {
		return core.DeliveryResult{}, fmt.Errorf("relay: marshal payload: %w", err)
	}

	_, transient, err := postJSON(ctx, r.client, nil, r.url, body, r.headers)
	if err != nil {
		return core.DeliveryResult{OK: false, Transient: transient, Detail: err.Error()}, err
	}
	return core.DeliveryResult{OK: true}, nil
}

var _ core.Destination = (*Relay)(nil)
