package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"forager/internal/types"
)

const taskColumns = "id, task_type, target, state, priority, created_at, started_at, completed_at, error_message, retry_count, max_retries"

// EnqueueTask inserts a PENDING task.
func (s *Store) EnqueueTask(ctx context.Context, taskType types.TaskType, target string, priority, maxRetries int) (*types.Task, error) {
	task := &types.Task{
		Type:       taskType,
		Target:     target,
		State:      types.TaskPending,
		Priority:   priority,
		MaxRetries: maxRetries,
	}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_type, target, state, priority, created_at, max_retries)
		VALUES (?, ?, ?, ?, ?, ?)
	`, taskType, target, types.TaskPending, priority, now, maxRetries)
	if err != nil {
		return nil, types.NewStoreError("enqueue", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, types.NewStoreError("enqueue", err)
	}
	task.ID = id
	task.CreatedAt = now
	return task, nil
}

// ClaimNextTask atomically claims the best PENDING task.
//
// The claim is a single conditional UPDATE constrained by current state,
// so two concurrent claimers can never win the same row: the loser's
// inner SELECT either finds a different task or nothing at all.
func (s *Store) ClaimNextTask(ctx context.Context) (*types.Task, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET state = ?, started_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE state = ?
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)
		AND state = ?
		RETURNING `+taskColumns,
		types.TaskInProgress, now, types.TaskPending, types.TaskPending)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewStoreError("claim", err)
	}
	return task, nil
}

// CompleteTask finalizes an IN_PROGRESS task. Unknown ids are a logged
// no-op so a crashed handler's late completion cannot fail the loop.
func (s *Store) CompleteTask(ctx context.Context, id int64, state types.TaskState, errMsg string) error {
	if !state.IsTerminal() {
		return fmt.Errorf("complete requires a terminal state, got %s", state)
	}

	retryBump := 0
	if state == types.TaskFailed {
		retryBump = 1
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = ?, completed_at = ?, error_message = ?, retry_count = retry_count + ?
		WHERE id = ? AND state = ?
	`, state, time.Now().UTC(), nullString(errMsg), retryBump, id, types.TaskInProgress)
	if err != nil {
		return types.NewStoreError("complete", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return types.NewStoreError("complete", err)
	}
	if affected == 0 {
		fmt.Fprintf(os.Stderr, "warning: complete on task %d had no effect (missing or not in progress)\n", id)
	}
	return nil
}

// ReapStaleTasks recovers from a crash: very old IN_PROGRESS tasks are
// failed with a synthetic error, recent ones are returned to PENDING so
// the loop can re-claim them.
func (s *Store) ReapStaleTasks(ctx context.Context, maxAge time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-maxAge)

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = ?, completed_at = ?, error_message = ?
		WHERE state = ? AND started_at < ?
	`, types.TaskFailed, now, fmt.Sprintf("stale task (started > %v ago)", maxAge), types.TaskInProgress, cutoff)
	if err != nil {
		return 0, types.NewStoreError("reap", err)
	}
	failed, err := res.RowsAffected()
	if err != nil {
		return 0, types.NewStoreError("reap", err)
	}

	res, err = s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = ?, started_at = NULL
		WHERE state = ?
	`, types.TaskPending, types.TaskInProgress)
	if err != nil {
		return 0, types.NewStoreError("reap", err)
	}
	reset, err := res.RowsAffected()
	if err != nil {
		return 0, types.NewStoreError("reap", err)
	}

	return int(failed + reset), nil
}

// PendingTaskForTarget reports whether a matching PENDING task exists.
func (s *Store) PendingTaskForTarget(ctx context.Context, taskType types.TaskType, target string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE state = ? AND task_type = ? AND target = ?
	`, types.TaskPending, taskType, target).Scan(&n)
	if err != nil {
		return false, types.NewStoreError("pending_for_target", err)
	}
	return n > 0, nil
}

// PendingCount returns the number of PENDING tasks.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE state = ?`, types.TaskPending).Scan(&n)
	if err != nil {
		return 0, types.NewStoreError("pending_count", err)
	}
	return n, nil
}

// RecentTasks returns up to limit tasks ordered newest first.
func (s *Store) RecentTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, types.NewStoreError("recent_tasks", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, types.NewStoreError("recent_tasks", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTask returns the task by id, or (nil, nil) if absent.
func (s *Store) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewStoreError("get_task", err)
	}
	return task, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*types.Task, error) {
	var t types.Task
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString

	err := sc.Scan(
		&t.ID, &t.Type, &t.Target, &t.State, &t.Priority,
		&t.CreatedAt, &startedAt, &completedAt, &errMsg,
		&t.RetryCount, &t.MaxRetries,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		t.ErrorMessage = errMsg.String
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
