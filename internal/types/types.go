// Package types defines the shared data model for the forager kernel.
// It is imported by every other package and must stay dependency-free.
package types

import (
	"fmt"
	"time"
)

// Task is a persisted unit of work in the queue.
type Task struct {
	ID           int64      `json:"id"`
	Type         TaskType   `json:"type"`
	Target       string     `json:"target"` // URL for ACQUIRE, source name otherwise
	State        TaskState  `json:"state"`
	Priority     int        `json:"priority"` // higher runs sooner
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
}

// Validate checks the task has usable field values before insert.
func (t *Task) Validate() error {
	if t.Target == "" {
		return fmt.Errorf("target is required")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid task type: %s", t.Type)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

// TaskType categorizes what the orchestrator should do with a task.
type TaskType string

const (
	TaskAcquire TaskType = "ACQUIRE" // analyze a URL and build a new source
	TaskRepair  TaskType = "REPAIR"  // run the healing pipeline on a source
	TaskRefresh TaskType = "REFRESH" // fetch and parse an existing source
)

// IsValid checks if the task type value is valid.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskAcquire, TaskRepair, TaskRefresh:
		return true
	}
	return false
}

// TaskState is the lifecycle state of a task. Transitions are monotonic:
// PENDING → IN_PROGRESS → {COMPLETED, FAILED}. Terminal states are never
// reopened; retries create new tasks.
type TaskState string

const (
	TaskPending    TaskState = "PENDING"
	TaskInProgress TaskState = "IN_PROGRESS"
	TaskCompleted  TaskState = "COMPLETED"
	TaskFailed     TaskState = "FAILED"
)

// IsValid checks if the task state value is valid.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the state permits no further transitions.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// SourceState is the health state of a tracked source.
//
// ACTIVE → DEGRADED → QUARANTINED follow automatically from consecutive
// failures. DEAD is manual-only: it is never entered or left by the
// automated transitions, including a recorded success.
type SourceState string

const (
	SourceActive      SourceState = "ACTIVE"
	SourceDegraded    SourceState = "DEGRADED"
	SourceQuarantined SourceState = "QUARANTINED"
	SourceDead        SourceState = "DEAD"
)

// IsValid checks if the source state value is valid.
func (s SourceState) IsValid() bool {
	switch s {
	case SourceActive, SourceDegraded, SourceQuarantined, SourceDead:
		return true
	}
	return false
}

// SourceHealth is the per-source health record.
type SourceHealth struct {
	SourceName          string      `json:"source_name"`
	State               SourceState `json:"state"`
	LastSuccessAt       *time.Time  `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time  `json:"last_failure_at,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	SuccessCount        int         `json:"success_count"`
	FailureCount        int         `json:"failure_count"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	FixAttemptsToday    int         `json:"fix_attempts_today"`
	FixAttemptsResetAt  *time.Time  `json:"fix_attempts_reset_at,omitempty"`
	QuarantineUntil     *time.Time  `json:"quarantine_until,omitempty"`
	LastContentHash     string      `json:"last_content_hash,omitempty"`
}

// IsHealthy reports whether the source is ACTIVE.
func (h *SourceHealth) IsHealthy() bool {
	return h.State == SourceActive
}

// NeedsFix reports whether the source is a candidate for automated repair.
func (h *SourceHealth) NeedsFix() bool {
	return h.State == SourceDegraded || h.State == SourceQuarantined
}

// FixRecord is one append-only audit row per healing pipeline outcome.
type FixRecord struct {
	ID           int64     `json:"id"`
	SourceName   string    `json:"source_name"`
	Stage        string    `json:"stage"` // pipeline stage reached
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RootCause    string    `json:"root_cause,omitempty"`
	PatchSummary string    `json:"patch_summary,omitempty"`
	Success      bool      `json:"success"`
	CreatedAt    time.Time `json:"created_at"`
}

// Lesson is a generalized diagnostic insight distilled from a past
// successful repair. Rows are append-only; only success_count mutates.
type Lesson struct {
	ID                 int64     `json:"id"`
	ErrorType          string    `json:"error_type"`
	DomainPattern      string    `json:"domain_pattern"`
	SymptomDescription string    `json:"symptom_description"`
	FixStrategy        string    `json:"fix_strategy"`
	SuccessCount       int       `json:"success_count"`
	CreatedAt          time.Time `json:"created_at"`
}

// Blueprint is the analyzer's structured description of how to extract
// data from a source.
type Blueprint struct {
	SourceName string            `json:"source_name"`
	URL        string            `json:"url"`
	Strategy   string            `json:"strategy"` // e.g. "html_table", "json_api"
	Fields     []string          `json:"fields"`
	Selectors  map[string]string `json:"selectors,omitempty"`
}

// Validate checks the blueprint is complete enough to build from.
func (b *Blueprint) Validate() error {
	if b.SourceName == "" {
		return fmt.Errorf("source_name is required")
	}
	if b.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(b.Fields) == 0 {
		return fmt.Errorf("at least one field is required")
	}
	return nil
}

// DiagnosisContext is everything the collect stage could assemble about
// a failure. Missing pieces stay zero-valued: collection fails open.
type DiagnosisContext struct {
	SourceName       string `json:"source_name"`
	ErrorType        string `json:"error_type"`
	ErrorMessage     string `json:"error_message"`
	FailureStreak    int    `json:"failure_streak"`
	FixAttemptsToday int    `json:"fix_attempts_today"`
	IsQuarantined    bool   `json:"is_quarantined"`
	CurrentCode      string `json:"current_code,omitempty"`
	PreviousHash     string `json:"previous_hash,omitempty"`
	ContentChanged   bool   `json:"content_changed"`
}

// Diagnosis is the oracle's structured verdict on a failure.
type Diagnosis struct {
	SourceName   string  `json:"source_name"`
	ErrorType    string  `json:"error_type"`
	RootCause    string  `json:"root_cause"`
	SuggestedFix string  `json:"suggested_fix"`
	Confidence   float64 `json:"confidence"`   // 0.0 - 1.0
	FixStrategy  string  `json:"fix_strategy"` // "patch" or "rebuild"
}

// Entity is one extracted record produced by a source plugin's parse step.
type Entity map[string]string
