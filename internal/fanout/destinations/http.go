// Package destinations provides concrete core.Destination implementations
// for the three kinds DestinationFanout recognizes: chat, relay, webhook.
// Each builds its own HTTP client with newHTTPClient, grounded on the
// teacher's HTTPSlackWebhookClient (TLS floor, connection pooling); only
// Chat adds a 1 req/sec rate limiter.
// Retry and backoff live in fanout.Fanout; a Deliver call here makes exactly
// one HTTP request and classifies the outcome for the caller's retry loop.
package destinations

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

// postJSON posts body as JSON to url and classifies the result. A 2xx
// response is success. 429, 5xx and a failure to complete the request
// (connection refused, timeout) are transient. Everything else (other
// 4xx, a request that cannot be built, a rate-limiter wait cut short) is
// a permanent failure, since the caller's retry loop would just repeat
// the same mistake.
func postJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, url string, body []byte, headers map[string]string) (string, bool, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", false, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return string(respBody), false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, fmt.Errorf("transient response: %s", resp.Status)
	default:
		return "", false, fmt.Errorf("permanent response: %s: %s", resp.Status, string(respBody))
	}
}

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
