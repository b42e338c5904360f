package types

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when a repair is attempted while the
// per-source daily fix budget is exhausted.
var ErrCircuitOpen = errors.New("fix circuit breaker is open")

// ErrSourceDead is returned when a repair is attempted on a source that
// was manually marked DEAD.
var ErrSourceDead = errors.New("source is marked dead")

// StoreError wraps a persistence-layer failure. It is fatal to the
// current operation; the orchestrator backs off and retries on the next
// loop iteration instead of crashing.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a StoreError for operation op.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is (or wraps) a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// ValidationError indicates a staged candidate failed parse, compile, or
// structural checks. It always aborts the healing pipeline and is never
// retried within the same invocation.
type ValidationError struct {
	Stage  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed at %s: %s", e.Stage, e.Reason)
}

// TransientError marks a network or timeout failure during a fetch or
// oracle call. Handlers may retry these a small fixed number of times
// with backoff; the kernel itself never retries.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
