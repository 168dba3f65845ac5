package destinations

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/holmesproxy/alert-core/internal/core"
)

// webhookPayload is a raw passthrough of the alert, its enrichment, and
// its group membership, for generic consumers that want the full
// record rather than a target-specific shape (cf. Chat, Relay).
type webhookPayload struct {
	Alert      *core.Alert      `json:"alert"`
	Enrichment *core.Enrichment `json:"enrichment,omitempty"`
	Group      *core.Group      `json:"group,omitempty"`
}

// Webhook is a core.Destination posting the full alert/enrichment/group
// record as-is to an arbitrary HTTP endpoint.
type Webhook struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhook creates a Webhook destination posting to url.
func NewWebhook(name, url string, headers map[string]string) *Webhook {
	return &Webhook{
		name:    name,
		url:     url,
		headers: headers,
		client:  newHTTPClient(10 * time.Second),
	}
}

func (w *Webhook) Name() string               { return w.name }
func (w *Webhook) Kind() core.DestinationKind { return core.DestinationWebhook }

func (w *Webhook) Format(alert *core.Alert, enrichment *core.Enrichment, group *core.Group) (any, error) {
	if alert == nil {
		return nil, fmt.Errorf("webhook: alert is nil")
	}
	return webhookPayload{Alert: alert, Enrichment: enrichment, Group: group}, nil
}

func (w *Webhook) Deliver(ctx context.Context, payload any) (core.DeliveryResult, error) {
	body, err := marshal(payload)
	if err != nil {
		return core.DeliveryResult{}, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	_, transient, err := postJSON(ctx, w.client, nil, w.url, body, w.headers)
	if err != nil {
		return core.DeliveryResult{OK: false, Transient: transient, Detail: err.Error()}, err
	}
	return core.DeliveryResult{OK: true}, nil
}

var _ core.Destination = (*Webhook)(nil)
