package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examdesk/internal/model"
)

const attemptColumns = `id, student_name, grade, variant, started_at, submitted_at, duration_sec,
	score, total, answers_mcq, answers_match, meta`

// CreateAttempt inserts a new in-progress attempt.
func (s *Store) CreateAttempt(ctx context.Context, a model.Attempt) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO attempts (id, student_name, grade, variant, started_at) VALUES (?, ?, ?, ?, ?)`),
		a.ID, a.StudentName, a.Grade, string(a.Variant), a.StartedAt.UTC(),
	)
	return err
}

// GetAttempt returns an attempt by ID, or nil if it does not exist.
func (s *Store) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`), id)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SetShuffleMapping stores the permutation shown for an attempt. The write
// only happens while the attempt has no meta yet and is not submitted; it
// reports whether this call stored the mapping.
func (s *Store) SetShuffleMapping(ctx context.Context, id string, perm model.Permutation) (bool, error) {
	meta, err := json.Marshal(model.AttemptMeta{ShuffleMapping: perm})
	if err != nil {
		return false, fmt.Errorf("marshal meta: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE attempts SET meta = ? WHERE id = ? AND meta IS NULL AND submitted_at IS NULL`),
		string(meta), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SubmitAttempt writes the graded fields of an attempt in one statement.
// It reports false without writing anything when the attempt was already
// submitted (or does not exist).
func (s *Store) SubmitAttempt(ctx context.Context, id string, sub model.Submission) (bool, error) {
	mcq, err := json.Marshal(sub.AnswersMCQ)
	if err != nil {
		return false, fmt.Errorf("marshal mcq answers: %w", err)
	}
	match, err := json.Marshal(sub.AnswersMatch)
	if err != nil {
		return false, fmt.Errorf("marshal match answers: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE attempts
		 SET submitted_at = ?, duration_sec = ?, score = ?, total = ?, answers_mcq = ?, answers_match = ?
		 WHERE id = ? AND submitted_at IS NULL`),
		sub.SubmittedAt.UTC(), sub.DurationSec, sub.Score, sub.Total, string(mcq), string(match), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListAttempts returns attempts matching f, newest first.
func (s *Store) ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE 1=1`
	var args []any
	if f.Grade != "" {
		query += ` AND grade = ?`
		args = append(args, f.Grade)
	}
	if f.Variant != "" {
		query += ` AND variant = ?`
		args = append(args, string(f.Variant))
	}
	if f.DateFrom != nil {
		query += ` AND started_at >= ?`
		args = append(args, f.DateFrom.UTC())
	}
	if f.DateTo != nil {
		query += ` AND started_at <= ?`
		args = append(args, f.DateTo.UTC())
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(sc scanner) (*model.Attempt, error) {
	var (
		a                model.Attempt
		variant          string
		startedAt        time.Time
		submittedAt      sql.NullTime
		duration         sql.NullInt64
		score            sql.NullInt64
		total            sql.NullInt64
		mcq, match, meta sql.NullString
	)
	err := sc.Scan(&a.ID, &a.StudentName, &a.Grade, &variant, &startedAt, &submittedAt,
		&duration, &score, &total, &mcq, &match, &meta)
	if err != nil {
		return nil, err
	}
	a.Variant = model.Variant(variant)
	a.StartedAt = startedAt
	if submittedAt.Valid {
		t := submittedAt.Time
		a.SubmittedAt = &t
	}
	a.DurationSec = intPtr(duration)
	a.Score = intPtr(score)
	a.Total = intPtr(total)

	if mcq.Valid && mcq.String != "" {
		if err := json.Unmarshal([]byte(mcq.String), &a.AnswersMCQ); err != nil {
			return nil, fmt.Errorf("decode answers_mcq of %s: %w", a.ID, err)
		}
	}
	if match.Valid && match.String != "" {
		if err := json.Unmarshal([]byte(match.String), &a.AnswersMatch); err != nil {
			return nil, fmt.Errorf("decode answers_match of %s: %w", a.ID, err)
		}
	}
	if meta.Valid && meta.String != "" {
		var m model.AttemptMeta
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("decode meta of %s: %w", a.ID, err)
		}
		a.Meta = &m
	}
	return &a, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
