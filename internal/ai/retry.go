package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// RetryConfig bounds outbound oracle calls. A hung or flapping API is a
// handler-level failure, never a kernel-level hang.
type RetryConfig struct {
	MaxRetries        int           // attempts beyond the first (default 3)
	InitialBackoff    time.Duration // default 1s
	MaxBackoff        time.Duration // default 30s
	BackoffMultiplier float64       // default 2.0
	Timeout           time.Duration // per-attempt timeout (default 60s)

	FailureThreshold int           // failures before the breaker opens (default 5)
	SuccessThreshold int           // half-open successes before closing (default 2)
	OpenTimeout      time.Duration // how long the breaker stays open (default 30s)

	MaxConcurrentCalls int // concurrent API calls (default 3)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		Timeout:            60 * time.Second,
		FailureThreshold:   5,
		SuccessThreshold:   2,
		OpenTimeout:        30 * time.Second,
		MaxConcurrentCalls: 3,
	}
}

// withDefaults fills every zero field from DefaultRetryConfig, so a
// caller can override a single knob without restating the rest.
func (r RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if r.MaxRetries == 0 {
		r.MaxRetries = def.MaxRetries
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = def.InitialBackoff
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = def.MaxBackoff
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = def.BackoffMultiplier
	}
	if r.Timeout == 0 {
		r.Timeout = def.Timeout
	}
	if r.FailureThreshold == 0 {
		r.FailureThreshold = def.FailureThreshold
	}
	if r.SuccessThreshold == 0 {
		r.SuccessThreshold = def.SuccessThreshold
	}
	if r.OpenTimeout == 0 {
		r.OpenTimeout = def.OpenTimeout
	}
	if r.MaxConcurrentCalls == 0 {
		r.MaxConcurrentCalls = def.MaxConcurrentCalls
	}
	return r
}

// ErrAPICircuitOpen is returned while the API circuit breaker is open.
// Distinct from the per-source repair circuit breaker in internal/health.
var ErrAPICircuitOpen = errors.New("oracle circuit breaker is open")

// CircuitState is the breaker's state.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // requests pass through
	CircuitOpen                         // failing fast
	CircuitHalfOpen                     // probing for recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker fails oracle calls fast after repeated API failures so
// the orchestrator loop keeps moving.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			return nil
		}
		return ErrAPICircuitOpen
	case CircuitHalfOpen:
		return nil
	default:
		return ErrAPICircuitOpen
	}
}

// RecordSuccess notes a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

// RecordFailure notes a failed request. Any half-open failure reopens
// the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = CircuitOpen
			fmt.Fprintf(os.Stderr, "[oracle] circuit breaker opened (failures=%d, reopen in %v)\n",
				cb.failureCount, cb.openTimeout)
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// retryWithBackoff runs fn with exponential backoff, the breaker, and
// the concurrency cap.
func (o *Oracle) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire oracle slot for %s: %w", operation, err)
		}
		defer o.sem.Release(1)
	}

	var lastErr error
	backoff := o.retry.InitialBackoff

	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if o.breaker != nil {
			if err := o.breaker.Allow(); err != nil {
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if o.breaker != nil {
				o.breaker.RecordSuccess()
			}
			return nil
		}
		lastErr = err

		if o.breaker != nil && isRetriableError(err) {
			o.breaker.RecordFailure()
		}
		if !isRetriableError(err) {
			return err
		}
		if attempt == o.retry.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w", operation, ctx.Err())
		}

		fmt.Printf("[oracle] %s failed (attempt %d/%d), retrying in %v: %v\n",
			operation, attempt+1, o.retry.MaxRetries+1, backoff, err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * o.retry.BackoffMultiplier)
			if backoff > o.retry.MaxBackoff {
				backoff = o.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s failed during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, o.retry.MaxRetries+1, lastErr)
}

// isRetriableError classifies transient API failures. Rate limits and
// 5xx responses retry; other 4xx responses do not.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "overloaded"):
		return true
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "network"):
		return true
	}
	return false
}
