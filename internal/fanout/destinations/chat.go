package destinations

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/holmesproxy/alert-core/internal/core"
)

// chatBlock mirrors the minimal subset of Slack's block-kit payload the
// teacher's SlackMessage used (section text + optional context line).
type chatBlock struct {
	Type string         `json:"type"`
	Text *chatBlockText `json:"text,omitempty"`
}

type chatBlockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatPayload struct {
	Text   string      `json:"text"`
	Blocks []chatBlock `json:"blocks"`
}

// Chat is a core.Destination for Slack-compatible incoming webhooks. It
// posts one message per delivered alert; unlike the teacher's
// EnhancedSlackPublisher it does not thread replies by fingerprint,
// since fanout operates on already-grouped alerts rather than individual
// lifecycle updates.
type Chat struct {
	name       string
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewChat creates a Chat destination posting to webhookURL, rate limited
// to one message per second as Slack's incoming webhooks require.
func NewChat(name, webhookURL string) *Chat {
	return &Chat{
		name:       name,
		webhookURL: webhookURL,
		client:     newHTTPClient(10 * time.Second),
		limiter:    rate.NewLimiter(rate.Every(1*time.Second), 1),
	}
}

func (c *Chat) Name() string              { return c.name }
func (c *Chat) Kind() core.DestinationKind { return core.DestinationChat }

func (c *Chat) Format(alert *core.Alert, enrichment *core.Enrichment, group *core.Group) (any, error) {
	if alert == nil {
		return nil, fmt.Errorf("chat: alert is nil")
	}

	statusEmoji := "🔴"
	if alert.Status == core.StatusResolved {
		statusEmoji = "🟢"
	}

	summary := fmt.Sprintf("%s *%s* (%s)", statusEmoji, alert.AlertName(), alert.Status)
	blocks := []chatBlock{
		{Type: "section", Text: &chatBlockText{Type: "mrkdwn", Text: summary}},
	}

	if enrichment != nil && enrichment.RootCause != "" {
		blocks = append(blocks, chatBlock{
			Type: "context",
			Text: &chatBlockText{Type: "mrkdwn", Text: fmt.Sprintf("Root cause: %s (%s)", enrichment.RootCause, enrichment.Category)},
		})
	}
	if group != nil {
		blocks = append(blocks, chatBlock{
			Type: "context",
			Text: &chatBlockText{Type: "mrkdwn", Text: fmt.Sprintf("Group %s, %d member(s)", group.ID, len(group.Members))},
		})
	}

	return chatPayload{Text: summary, Blocks: blocks}, nil
}

func (c *Chat) Deliver(ctx context.Context, payload any) (core.DeliveryResult, error) {
	body, err := marshal(payload)
	if err != nil {
		return core.DeliveryResult{}, fmt.Errorf("chat: marshal payload: %w", err)
	}

	_, transient, err := postJSON(ctx, c.client, c.limiter, c.webhookURL, body, nil)
	if err != nil {
		return core.DeliveryResult{OK: false, Transient: transient, Detail: err.Error()}, err
	}
	return core.DeliveryResult{OK: true}, nil
}

var _ core.Destination = (*Chat)(nil)
