package investigator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/holmesproxy/alert-core/pkg/metrics"
)

// ErrBreakerOpen is returned when the circuit breaker is open and a call
// is rejected fail-fast without reaching the Investigator.
var ErrBreakerOpen = errors.New("investigator circuit breaker is open")

// breakerState is the state of a CircuitBreaker.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type callResult struct {
	timestamp time.Time
	success   bool
}

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	MaxFailures      int
	ResetTimeout     time.Duration
	FailureThreshold float64 // failure rate (0-1) within TimeWindow that forces open
	TimeWindow       time.Duration
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns production defaults, grounded on the
// teacher's DefaultCircuitBreakerConfig.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		FailureThreshold: 0.5,
		TimeWindow:       60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker guards calls to the Investigator so a failing external
// service fails fast instead of piling up blocked goroutines. Adapted
// from the teacher's llm.CircuitBreaker: same consecutive-failure /
// sliding-window-rate state machine, trimmed of the slow-call-as-failure
// rule (the Investigator already has its own per-call timeout upstream).
type CircuitBreaker struct {
	cfg BreakerConfig

	mu              sync.Mutex
	state           breakerState
	consecutiveFail int
	lastStateChange time.Time
	halfOpenCalls   int
	results         []callResult

	metrics *metrics.InvestigatorMetrics
	logger  *slog.Logger
}

// NewCircuitBreaker creates a CircuitBreaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig, m *metrics.InvestigatorMetrics, logger *slog.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg = DefaultBreakerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		cfg:             cfg,
		state:           breakerClosed,
		lastStateChange: time.Now(),
		results:         make([]callResult, 0, 32),
		metrics:         m,
		logger:          logger,
	}
}

// Call runs op through the breaker, returning ErrBreakerOpen without
// invoking op if the breaker is currently open.
func (cb *CircuitBreaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := op(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerOpen:
		if time.Since(cb.lastStateChange) >= cb.cfg.ResetTimeout {
			cb.transition(breakerHalfOpen)
			return nil
		}
		if cb.metrics != nil {
			cb.metrics.BreakerRejected.Inc()
		}
		return ErrBreakerOpen
	case breakerHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			if cb.metrics != nil {
				cb.metrics.BreakerRejected.Inc()
			}
			return ErrBreakerOpen
		}
		cb.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	success := err == nil
	cb.results = append(cb.results, callResult{timestamp: now, success: success})
	cb.pruneOld(now)

	if success {
		cb.consecutiveFail = 0
	} else {
		cb.consecutiveFail++
		cb.logger.Warn("investigator call failed", "error", err, "consecutive_failures", cb.consecutiveFail)
	}

	switch cb.state {
	case breakerClosed:
		if cb.shouldOpen() {
			cb.transition(breakerOpen)
		}
	case breakerHalfOpen:
		if success {
			cb.transition(breakerClosed)
		} else {
			cb.transition(breakerOpen)
		}
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.consecutiveFail >= cb.cfg.MaxFailures {
		return true
	}
	if len(cb.results) < cb.cfg.MaxFailures {
		return false
	}
	failures := 0
	for _, r := range cb.results {
		if !r.success {
			failures++
		}
	}
	return float64(failures)/float64(len(cb.results)) >= cb.cfg.FailureThreshold
}

func (cb *CircuitBreaker) pruneOld(now time.Time) {
	cutoff := now.Add(-cb.cfg.TimeWindow)
	firstValid := 0
	for i, r := range cb.results {
		if r.timestamp.After(cutoff) {
			firstValid = i
			break
		}
		firstValid = i + 1
	}
	if firstValid > 0 {
		cb.results = cb.results[firstValid:]
	}
}

func (cb *CircuitBreaker) transition(to breakerState) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
	if to == breakerClosed {
		cb.consecutiveFail = 0
		cb.results = cb.results[:0]
	}
	cb.logger.Info("investigator circuit breaker transition", "from", from, "to", to)
	if cb.metrics != nil {
		cb.metrics.BreakerStateChange.WithLabelValues(from.String(), to.String()).Inc()
		cb.metrics.BreakerState.Set(float64(to))
	}
}

// State returns the breaker's current state, for tests and the admin API.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
