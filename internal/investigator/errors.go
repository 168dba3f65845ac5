package investigator

import (
	"errors"
	"fmt"
)

// HTTPError represents a non-200 response from the Investigator service.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("investigator: HTTP %d: %s", e.StatusCode, e.Message)
}

// httpTransportError wraps a network-level failure (connection refused,
// timeout, DNS) distinctly from a well-formed HTTP error response.
type httpTransportError struct{ err error }

func (e *httpTransportError) Error() string { return fmt.Sprintf("investigator: transport: %v", e.err) }
func (e *httpTransportError) Unwrap() error { return e.err }

// isRetryable classifies whether callWithRetry should attempt again,
// grounded on the teacher's IsRetryableError: 429 and 5xx responses and
// any transport-level failure are retryable; other 4xx responses are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 {
			return true
		}
		return httpErr.StatusCode >= 500
	}
	var transportErr *httpTransportError
	return errors.As(err, &transportErr)
}
