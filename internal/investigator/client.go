// Package investigator implements core.Investigator against an external
// root-cause analysis service, grounded on the teacher's
// internal/infrastructure/llm HTTPLLMClient: retrying HTTP client plus a
// circuit breaker, repurposed from "classify severity" to "investigate
// root cause" / "verify grouping".
package investigator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/resilience"
	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// Config holds HTTPInvestigator tuning parameters.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Breaker    BreakerConfig
}

// DefaultConfig returns sensible Config defaults.
func DefaultConfig() Config {
	return Config{
		Model:      "openai/gpt-4o",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 1 * time.Second,
		Breaker:    DefaultBreakerConfig(),
	}
}

type wireAlert struct {
	Fingerprint string            `json:"fingerprint"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Status      string            `json:"status"`
}

func toWireAlert(a *core.Alert) wireAlert {
	return wireAlert{
		Fingerprint: a.Fingerprint,
		Labels:      a.Labels,
		Annotations: a.Annotations,
		Status:      string(a.Status),
	}
}

type investigateRequest struct {
	Alert wireAlert `json:"alert"`
	Model string    `json:"model"`
}

type investigateResponse struct {
	Status    string          `json:"status"`
	RootCause string          `json:"root_cause"`
	Category  string          `json:"category"`
	Evidence  []core.Evidence `json:"evidence"`
	Error     string          `json:"error,omitempty"`
}

type verifyRequest struct {
	Alert             wireAlert `json:"alert"`
	ProposedRootCause string    `json:"proposed_root_cause"`
	Model             string    `json:"model"`
}

type verifyResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// HTTPInvestigator implements core.Investigator over HTTP, with a
// circuit breaker and bounded retries guarding every call.
type HTTPInvestigator struct {
	cfg          Config
	client       *http.Client
	breaker      *CircuitBreaker
	metrics      *metrics.InvestigatorMetrics
	retryMetrics *metrics.RetryMetrics // may be nil
	logger       *slog.Logger
}

// New creates an HTTPInvestigator. retryMetrics may be nil to disable
// per-attempt retry metrics.
func New(cfg Config, m *metrics.InvestigatorMetrics, retryMetrics *metrics.RetryMetrics, logger *slog.Logger) *HTTPInvestigator {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPInvestigator{
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.Timeout},
		breaker:      NewCircuitBreaker(cfg.Breaker, m, logger),
		metrics:      m,
		retryMetrics: retryMetrics,
		logger:       logger.With("component", "investigator"),
	}
}

var _ core.Investigator = (*HTTPInvestigator)(nil)

// Investigate runs a root-cause analysis for alert.
func (c *HTTPInvestigator) Investigate(ctx context.Context, alert *core.Alert) (*core.Enrichment, error) {
	start := time.Now()
	req := investigateRequest{Alert: toWireAlert(alert), Model: c.cfg.Model}

	var resp investigateResponse
	err := c.callWithRetry(ctx, "investigate", "/investigate", req, &resp)
	c.recordCall("investigate", err, start)
	if err != nil {
		return &core.Enrichment{Status: core.EnrichmentFailed, Error: err.Error()}, err
	}
	if resp.Error != "" {
		return &core.Enrichment{Status: core.EnrichmentFailed, Error: resp.Error}, fmt.Errorf("investigator: %s", resp.Error)
	}

	return &core.Enrichment{
		Status:    core.EnrichmentOK,
		RootCause: resp.RootCause,
		Category:  core.Category(resp.Category),
		Evidence:  resp.Evidence,
		Latency:   time.Since(start),
	}, nil
}

// VerifyGrouping asks whether alert genuinely shares proposedRootCause.
func (c *HTTPInvestigator) VerifyGrouping(ctx context.Context, alert *core.Alert, proposedRootCause string) (core.VerificationResult, error) {
	start := time.Now()
	req := verifyRequest{Alert: toWireAlert(alert), ProposedRootCause: proposedRootCause, Model: c.cfg.Model}

	var resp verifyResponse
	err := c.callWithRetry(ctx, "verify_grouping", "/verify-grouping", req, &resp)
	c.recordCall("verify_grouping", err, start)
	if err != nil {
		return core.VerificationResult{}, err
	}
	return core.VerificationResult{Accepted: resp.Accepted, Reason: resp.Reason}, nil
}

// breakerOpenOrPermanent stops resilience.WithRetry from burning attempts
// once the breaker trips or the error is a non-retryable HTTP response.
type breakerOpenOrPermanent struct{}

func (breakerOpenOrPermanent) IsRetryable(err error) bool {
	return !errors.Is(err, ErrBreakerOpen) && isRetryable(err)
}

func (c *HTTPInvestigator) callWithRetry(ctx context.Context, operation, path string, body any, out any) error {
	policy := &resilience.RetryPolicy{
		MaxRetries:    c.cfg.MaxRetries,
		BaseDelay:     c.cfg.RetryDelay,
		MaxDelay:      c.cfg.RetryDelay * (1 << uint(max(c.cfg.MaxRetries, 0))),
		Multiplier:    2.0,
		ErrorChecker:  breakerOpenOrPermanent{},
		Logger:        c.logger,
		Metrics:       c.retryMetrics,
		OperationName: operation,
	}

	err := resilience.WithRetry(ctx, policy, func() error {
		return c.breaker.Call(ctx, func(ctx context.Context) error {
			return c.doRequest(ctx, path, body, out)
		})
	})
	if err != nil {
		return fmt.Errorf("investigator %s failed: %w", operation, err)
	}
	return nil
}

func (c *HTTPInvestigator) doRequest(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &httpTransportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *HTTPInvestigator) recordCall(operation string, err error, start time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordCall(operation, result, time.Since(start).Seconds())
	}
}
