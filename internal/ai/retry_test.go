package ai

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		assert.NoError(t, cb.Allow())
	}
	cb.RecordFailure()

	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrAPICircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// First allow after the open timeout transitions to half-open.
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.State(), "one success is not enough to close")
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestIsRetriableError(t *testing.T) {
	retriable := []error{
		errors.New("429 Too Many Requests"),
		errors.New("rate limit exceeded"),
		errors.New("503 Service Unavailable"),
		errors.New("api overloaded"),
		errors.New("connection refused"),
		errors.New("dial timeout"),
	}
	for _, err := range retriable {
		assert.True(t, isRetriableError(err), "%v should be retriable", err)
	}

	permanent := []error{
		errors.New("401 Unauthorized"),
		errors.New("invalid request body"),
	}
	for _, err := range permanent {
		assert.False(t, isRetriableError(err), "%v should not be retriable", err)
	}
	assert.False(t, isRetriableError(nil))
}

func TestRetryConfigWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultRetryConfig(), RetryConfig{}.withDefaults())

	// A single overridden knob keeps its value; everything else fills in.
	custom := RetryConfig{Timeout: 5 * time.Second}.withDefaults()
	assert.Equal(t, 5*time.Second, custom.Timeout)
	assert.Equal(t, 3, custom.MaxRetries)
	assert.Equal(t, 3, custom.MaxConcurrentCalls)
}

func TestNewOraclePreservesConfiguredTimeout(t *testing.T) {
	o, err := NewOracle(&Config{
		APIKey: "test-key",
		Retry:  RetryConfig{Timeout: 5 * time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, o.retry.Timeout)
	assert.NotNil(t, o.breaker)
	assert.NotNil(t, o.sem)
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", CircuitClosed.String())
	assert.Equal(t, "OPEN", CircuitOpen.String())
	assert.Equal(t, "HALF_OPEN", CircuitHalfOpen.String())
}
