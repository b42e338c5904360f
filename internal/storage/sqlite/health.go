package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"forager/internal/types"
)

const healthColumns = `source_name, state, last_success_at, last_failure_at, last_error,
	success_count, failure_count, consecutive_failures,
	fix_attempts_today, fix_attempts_reset_at, quarantine_until, last_content_hash`

// GetSourceHealth returns the record for name, or (nil, nil) if the
// source has never been referenced.
func (s *Store) GetSourceHealth(ctx context.Context, name string) (*types.SourceHealth, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+healthColumns+` FROM source_health WHERE source_name = ?`, name)
	h, err := scanHealth(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewStoreError("get_health", err)
	}
	return h, nil
}

// PutSourceHealth upserts the full record. Last-writer-wins is
// acceptable: only the coordinating loop mutates health rows.
func (s *Store) PutSourceHealth(ctx context.Context, h *types.SourceHealth) error {
	if !h.State.IsValid() {
		return types.NewStoreError("put_health", &types.ValidationError{Stage: "store", Reason: "invalid source state " + string(h.State)})
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_health (`+healthColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_name) DO UPDATE SET
			state = excluded.state,
			last_success_at = excluded.last_success_at,
			last_failure_at = excluded.last_failure_at,
			last_error = excluded.last_error,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			consecutive_failures = excluded.consecutive_failures,
			fix_attempts_today = excluded.fix_attempts_today,
			fix_attempts_reset_at = excluded.fix_attempts_reset_at,
			quarantine_until = excluded.quarantine_until,
			last_content_hash = excluded.last_content_hash
	`,
		h.SourceName, h.State, nullTime(h.LastSuccessAt), nullTime(h.LastFailureAt),
		nullString(h.LastError), h.SuccessCount, h.FailureCount, h.ConsecutiveFailures,
		h.FixAttemptsToday, nullTime(h.FixAttemptsResetAt), nullTime(h.QuarantineUntil),
		nullString(h.LastContentHash),
	)
	if err != nil {
		return types.NewStoreError("put_health", err)
	}
	return nil
}

// ListSourceHealth returns all records ordered by source name,
// optionally filtered to the given states.
func (s *Store) ListSourceHealth(ctx context.Context, states ...types.SourceState) ([]*types.SourceHealth, error) {
	query := `SELECT ` + healthColumns + ` FROM source_health`
	var args []any
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, st := range states {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY source_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewStoreError("list_health", err)
	}
	defer rows.Close()

	var out []*types.SourceHealth
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, types.NewStoreError("list_health", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHealth(sc scanner) (*types.SourceHealth, error) {
	var h types.SourceHealth
	var lastSuccess, lastFailure, resetAt, quarantineUntil sql.NullTime
	var lastError, contentHash sql.NullString

	err := sc.Scan(
		&h.SourceName, &h.State, &lastSuccess, &lastFailure, &lastError,
		&h.SuccessCount, &h.FailureCount, &h.ConsecutiveFailures,
		&h.FixAttemptsToday, &resetAt, &quarantineUntil, &contentHash,
	)
	if err != nil {
		return nil, err
	}

	if lastSuccess.Valid {
		h.LastSuccessAt = &lastSuccess.Time
	}
	if lastFailure.Valid {
		h.LastFailureAt = &lastFailure.Time
	}
	if resetAt.Valid {
		h.FixAttemptsResetAt = &resetAt.Time
	}
	if quarantineUntil.Valid {
		h.QuarantineUntil = &quarantineUntil.Time
	}
	if lastError.Valid {
		h.LastError = lastError.String
	}
	if contentHash.Valid {
		h.LastContentHash = contentHash.String
	}
	return &h, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
