// Package storage defines the persistence interface for the forager
// kernel: the task queue, source health records, and the fix audit
// trail with its lesson knowledge base.
package storage

import (
	"context"
	"time"

	"forager/internal/types"
)

// Storage is the persistence boundary. All durable state lives behind
// this interface; callers operate on per-call in-memory views and must
// not cache mutable records across calls.
type Storage interface {
	TaskQueue
	HealthStore
	FixStore

	Close() error
}

// TaskQueue provides the persisted priority queue with the
// claim/complete protocol.
type TaskQueue interface {
	// EnqueueTask inserts a PENDING task and returns it with its
	// assigned ID and created_at stamp.
	EnqueueTask(ctx context.Context, taskType types.TaskType, target string, priority, maxRetries int) (*types.Task, error)

	// ClaimNextTask atomically transitions the highest-priority PENDING
	// task (ties broken by earliest created_at) to IN_PROGRESS and
	// stamps started_at. Returns (nil, nil) when no PENDING task
	// exists. Two concurrent claimers never receive the same task.
	ClaimNextTask(ctx context.Context) (*types.Task, error)

	// CompleteTask transitions an IN_PROGRESS task to COMPLETED or
	// FAILED, stamps completed_at, and on FAILED increments retry_count
	// and records errMsg. An unknown id is a logged no-op.
	CompleteTask(ctx context.Context, id int64, state types.TaskState, errMsg string) error

	// ReapStaleTasks handles crash recovery: IN_PROGRESS tasks whose
	// started_at is older than maxAge become FAILED with a synthetic
	// error; younger IN_PROGRESS tasks are reset to PENDING. Returns
	// how many rows were touched.
	ReapStaleTasks(ctx context.Context, maxAge time.Duration) (int, error)

	// PendingTaskForTarget reports whether a PENDING task of the given
	// type already exists for target (used to avoid duplicate repairs).
	PendingTaskForTarget(ctx context.Context, taskType types.TaskType, target string) (bool, error)

	// PendingCount returns the number of PENDING tasks.
	PendingCount(ctx context.Context) (int, error)

	// RecentTasks returns up to limit tasks ordered newest first.
	RecentTasks(ctx context.Context, limit int) ([]*types.Task, error)

	// GetTask returns the task by id, or (nil, nil) if absent.
	GetTask(ctx context.Context, id int64) (*types.Task, error)
}

// HealthStore persists per-source health records. Records are created
// lazily on first reference; updates are last-writer-wins, acceptable
// because one coordinating loop mutates them.
type HealthStore interface {
	// GetSourceHealth returns the record for name, or (nil, nil) if the
	// source has never been referenced.
	GetSourceHealth(ctx context.Context, name string) (*types.SourceHealth, error)

	// PutSourceHealth upserts the full record keyed by source_name,
	// creating it if absent.
	PutSourceHealth(ctx context.Context, h *types.SourceHealth) error

	// ListSourceHealth returns all records ordered by source name,
	// optionally filtered to the given states.
	ListSourceHealth(ctx context.Context, states ...types.SourceState) ([]*types.SourceHealth, error)
}

// FixStore persists the append-only fix audit trail and the lesson
// knowledge base.
type FixStore interface {
	// AppendFixRecord inserts one audit row. Rows are never mutated.
	AppendFixRecord(ctx context.Context, r *types.FixRecord) error

	// RecentFixRecords returns up to limit rows newest first, optionally
	// filtered by source name ("" means all sources).
	RecentFixRecords(ctx context.Context, source string, limit int) ([]*types.FixRecord, error)

	// AppendLesson inserts a new lesson row.
	AppendLesson(ctx context.Context, l *types.Lesson) error

	// MatchLessons returns up to limit lessons whose error_type equals
	// errorType or whose domain_pattern contains pattern, ranked by
	// success_count descending.
	MatchLessons(ctx context.Context, errorType, pattern string, limit int) ([]*types.Lesson, error)

	// ReinforceLesson increments success_count on an existing lesson.
	ReinforceLesson(ctx context.Context, id int64) error
}
