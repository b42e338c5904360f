package sqlite

import (
	"context"
	"time"

	"forager/internal/types"
)

// AppendFixRecord inserts one audit row. The table has no UPDATE path;
// rows are never mutated after insert.
func (s *Store) AppendFixRecord(ctx context.Context, r *types.FixRecord) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fix_history (source_name, stage, error_type, error_message, root_cause, patch_summary, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SourceName, r.Stage, r.ErrorType, nullString(r.ErrorMessage),
		nullString(r.RootCause), nullString(r.PatchSummary), r.Success, now)
	if err != nil {
		return types.NewStoreError("append_fix", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	r.CreatedAt = now
	return nil
}

// RecentFixRecords returns up to limit rows newest first. An empty
// source returns records for all sources.
func (s *Store) RecentFixRecords(ctx context.Context, source string, limit int) ([]*types.FixRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, source_name, stage, error_type,
		       COALESCE(error_message, ''), COALESCE(root_cause, ''), COALESCE(patch_summary, ''),
		       success, created_at
		FROM fix_history`
	var args []any
	if source != "" {
		query += ` WHERE source_name = ?`
		args = append(args, source)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewStoreError("recent_fixes", err)
	}
	defer rows.Close()

	var out []*types.FixRecord
	for rows.Next() {
		var r types.FixRecord
		if err := rows.Scan(&r.ID, &r.SourceName, &r.Stage, &r.ErrorType,
			&r.ErrorMessage, &r.RootCause, &r.PatchSummary, &r.Success, &r.CreatedAt); err != nil {
			return nil, types.NewStoreError("recent_fixes", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// AppendLesson inserts a new lesson row.
func (s *Store) AppendLesson(ctx context.Context, l *types.Lesson) error {
	now := time.Now().UTC()
	if l.SuccessCount == 0 {
		l.SuccessCount = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lessons (error_type, domain_pattern, symptom_description, fix_strategy, success_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ErrorType, l.DomainPattern, l.SymptomDescription, l.FixStrategy, l.SuccessCount, now)
	if err != nil {
		return types.NewStoreError("append_lesson", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	l.CreatedAt = now
	return nil
}

// MatchLessons is the heuristic knowledge-base lookup used during
// diagnosis: exact error-kind match OR substring match against the
// domain pattern, best-proven lessons first.
func (s *Store) MatchLessons(ctx context.Context, errorType, pattern string, limit int) ([]*types.Lesson, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, error_type, domain_pattern, symptom_description, fix_strategy, success_count, created_at
		FROM lessons
		WHERE error_type = ? OR (? != '' AND domain_pattern LIKE '%' || ? || '%')
		ORDER BY success_count DESC, created_at DESC
		LIMIT ?
	`, errorType, pattern, pattern, limit)
	if err != nil {
		return nil, types.NewStoreError("match_lessons", err)
	}
	defer rows.Close()

	var out []*types.Lesson
	for rows.Next() {
		var l types.Lesson
		if err := rows.Scan(&l.ID, &l.ErrorType, &l.DomainPattern, &l.SymptomDescription,
			&l.FixStrategy, &l.SuccessCount, &l.CreatedAt); err != nil {
			return nil, types.NewStoreError("match_lessons", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// ReinforceLesson increments success_count on an existing lesson.
func (s *Store) ReinforceLesson(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE lessons SET success_count = success_count + 1 WHERE id = ?`, id)
	if err != nil {
		return types.NewStoreError("reinforce_lesson", err)
	}
	return nil
}
