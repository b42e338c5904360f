package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskValidate(t *testing.T) {
	good := &Task{Type: TaskRefresh, Target: "src", MaxRetries: 3}
	assert.NoError(t, good.Validate())

	assert.Error(t, (&Task{Type: TaskRefresh, MaxRetries: 3}).Validate())
	assert.Error(t, (&Task{Type: "BOGUS", Target: "src"}).Validate())
	assert.Error(t, (&Task{Type: TaskAcquire, Target: "x", MaxRetries: -1}).Validate())
}

func TestTaskStateTerminal(t *testing.T) {
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskInProgress.IsTerminal())
}

func TestSourceHealthPredicates(t *testing.T) {
	assert.True(t, (&SourceHealth{State: SourceActive}).IsHealthy())
	assert.False(t, (&SourceHealth{State: SourceDegraded}).IsHealthy())

	assert.True(t, (&SourceHealth{State: SourceDegraded}).NeedsFix())
	assert.True(t, (&SourceHealth{State: SourceQuarantined}).NeedsFix())
	assert.False(t, (&SourceHealth{State: SourceDead}).NeedsFix())
	assert.False(t, (&SourceHealth{State: SourceActive}).NeedsFix())
}

func TestBlueprintValidate(t *testing.T) {
	bp := &Blueprint{SourceName: "s", URL: "https://x", Fields: []string{"a"}}
	assert.NoError(t, bp.Validate())

	assert.Error(t, (&Blueprint{URL: "https://x", Fields: []string{"a"}}).Validate())
	assert.Error(t, (&Blueprint{SourceName: "s", Fields: []string{"a"}}).Validate())
	assert.Error(t, (&Blueprint{SourceName: "s", URL: "https://x"}).Validate())
}

func TestStoreErrorWrapping(t *testing.T) {
	base := errors.New("disk full")
	err := NewStoreError("enqueue", base)

	assert.True(t, IsStoreError(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "enqueue")

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsStoreError(wrapped))

	assert.Nil(t, NewStoreError("noop", nil))
	assert.False(t, IsStoreError(errors.New("plain")))
}

func TestTransientError(t *testing.T) {
	base := errors.New("connection reset")
	err := &TransientError{Err: base}

	assert.True(t, IsTransient(err))
	assert.True(t, IsTransient(fmt.Errorf("fetch: %w", err)))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsTransient(base))
}
