// Package fetcher implements the Fetcher (C1): a pure function over a
// Source descriptor and a Filter that returns a finite,
// non-restartable sequence of alerts in Upstream order. Retries are not
// this layer's concern (they live in the Poller, C3).
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/holmesproxy/alert-core/internal/alertwire"
	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// MatchOp is a label matcher comparison operator.
type MatchOp string

const (
	OpEqual         MatchOp = "="
	OpNotEqual      MatchOp = "!="
	OpRegexMatch    MatchOp = "=~"
	OpRegexNotMatch MatchOp = "!~"
)

// LabelMatcher is one (key, op, value) clause applied client-side after
// decoding, so it behaves identically regardless of whether the
// upstream honors a server-side filter query parameter.
type LabelMatcher struct {
	Key   string
	Op    MatchOp
	Value string
}

// Inclusion controls whether silenced/inhibited alerts are kept.
type Inclusion string

const (
	Include Inclusion = "include"
	Exclude Inclusion = "exclude"
)

// Filter narrows one Fetch call.
type Filter struct {
	OnlyFiring    bool
	MaxAlerts     int // 0 means unbounded
	LabelMatchers []LabelMatcher
	Silenced      Inclusion
	Inhibited     Inclusion
}

// TransportError distinguishes a network/HTTP failure reaching the
// Upstream from any other error Fetch can return.
type TransportError struct {
	SourceID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error reaching source %s: %v", e.SourceID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fetcher drives GET /api/v2/alerts against Alertmanager-shaped
// upstreams.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.FetcherMetrics
}

// New creates a Fetcher. If client is nil, a default http.Client with a
// 10 second timeout is used.
func New(client *http.Client, m *metrics.FetcherMetrics, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{httpClient: client, logger: logger, metrics: m}
}

// Fetch retrieves, normalizes and filters alerts from source. An empty
// result is not an error; only a transport failure is.
func (f *Fetcher) Fetch(ctx context.Context, source core.Source, filter Filter) ([]*core.Alert, error) {
	start := time.Now()

	req, err := f.buildRequest(ctx, source, filter)
	if err != nil {
		return nil, &TransportError{SourceID: source.ID, Err: err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.recordResult(source.ID, "transport_error", start)
		return nil, &TransportError{SourceID: source.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.recordResult(source.ID, "transport_error", start)
		return nil, &TransportError{SourceID: source.ID, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.recordResult(source.ID, "transport_error", start)
		return nil, &TransportError{SourceID: source.ID, Err: err}
	}

	var wire []alertwire.Alert
	if err := json.Unmarshal(body, &wire); err != nil {
		f.recordResult(source.ID, "transport_error", start)
		return nil, &TransportError{SourceID: source.ID, Err: fmt.Errorf("decode response: %w", err)}
	}

	alerts := alertwire.NormalizeAll(f.logger, wire)
	alerts = applyFilter(alerts, filter)

	f.recordResult(source.ID, "ok", start)
	if f.metrics != nil {
		f.metrics.AlertsFetchedTotal.WithLabelValues(source.ID).Add(float64(len(alerts)))
	}
	return alerts, nil
}

func (f *Fetcher) buildRequest(ctx context.Context, source core.Source, filter Filter) (*http.Request, error) {
	u, err := url.Parse(source.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	q.Set("active", "true")
	if filter.Silenced == Exclude {
		q.Set("silenced", "false")
	}
	if filter.Inhibited == Exclude {
		q.Set("inhibited", "false")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func applyFilter(alerts []*core.Alert, filter Filter) []*core.Alert {
	out := make([]*core.Alert, 0, len(alerts))
	for _, a := range alerts {
		if filter.OnlyFiring && a.Status != core.StatusFiring {
			continue
		}
		if !matchesLabels(a, filter.LabelMatchers) {
			continue
		}
		out = append(out, a)
		if filter.MaxAlerts > 0 && len(out) >= filter.MaxAlerts {
			break
		}
	}
	return out
}

func matchesLabels(a *core.Alert, matchers []LabelMatcher) bool {
	for _, m := range matchers {
		value := a.Labels[m.Key]
		if !matchOne(value, m) {
			return false
		}
	}
	return true
}

func matchOne(value string, m LabelMatcher) bool {
	switch m.Op {
	case OpEqual:
		return value == m.Value
	case OpNotEqual:
		return value != m.Value
	case OpRegexMatch:
		re, err := regexp.Compile(m.Value)
		return err == nil && re.MatchString(value)
	case OpRegexNotMatch:
		re, err := regexp.Compile(m.Value)
		return err == nil && !re.MatchString(value)
	default:
		return true
	}
}

func (f *Fetcher) recordResult(sourceID, result string, start time.Time) {
	if f.metrics == nil {
		return
	}
	f.metrics.FetchTotal.WithLabelValues(sourceID, result).Inc()
	f.metrics.FetchDuration.WithLabelValues(sourceID).Observe(time.Since(start).Seconds())
}
