package core

import "errors"

// Sentinel errors forming the error taxonomy of §7. TransportError and
// InvestigatorFailure are reported as values carried on the Enrichment or
// returned to a caller; InternalInvariantViolation is the one kind that
// panics (no task loop recovers it).
var (
	// ErrAlertNotFound is returned by Store.SetEnrichment/SetGroupID when
	// no alert exists for a fingerprint.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrFingerprintMissing marks an Upstream/webhook alert dropped for
	// lacking a fingerprint (never synthesized, per I1).
	ErrFingerprintMissing = errors.New("alert fingerprint missing")

	// ErrSourceUnavailable wraps a TransportError reaching an Upstream.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrBadRequest marks a malformed webhook payload (§4.4).
	ErrBadRequest = errors.New("bad request")

	// ErrAlreadyInFlight is returned by Submit when it targets a
	// fingerprint already queued or being enriched (I3/P8); the Poller and
	// WebhookIngress treat it as a no-op rather than a failure.
	ErrAlreadyInFlight = errors.New("enrichment already in flight")

	// ErrGroupNotFound is returned when a referenced Group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrRuleNotFound is returned when a referenced Rule does not exist.
	ErrRuleNotFound = errors.New("rule not found")
)

// InvariantViolation marks a breach of I1-I6: a defect in the
// implementation, never an expected runtime outcome. It is raised with
// panic rather than returned. No task loop (Poller tick, worker
// iteration, Grouper call) recovers that panic, so it ends the process
// (§7).
type InvariantViolation struct {
	Invariant string // e.g. "I3"
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation " + e.Invariant + ": " + e.Detail
}
