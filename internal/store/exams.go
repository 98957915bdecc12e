package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examdesk/internal/model"
)

// ErrExamExists is returned when an active exam already covers a (grade, variant).
var ErrExamExists = errors.New("active exam already exists for grade and variant")

const examColumns = `id, grade, variant, sections_public, answer_key, active, created_at, updated_at`

// CreateExam inserts an active exam. It fails with ErrExamExists if another
// active exam has the same grade and variant.
func (s *Store) CreateExam(ctx context.Context, e model.Exam) error {
	content, key, err := marshalExam(e)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM exams WHERE grade = ? AND variant = ? AND active = ?`),
		e.Grade, string(e.Variant), true,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrExamExists
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO exams (id, grade, variant, sections_public, answer_key, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Grade, string(e.Variant), content, key, true, now, now,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateExam replaces the content and answer key of an exam. It reports
// whether an exam with that ID exists.
func (s *Store) UpdateExam(ctx context.Context, e model.Exam) (bool, error) {
	content, key, err := marshalExam(e)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE exams SET sections_public = ?, answer_key = ?, updated_at = ? WHERE id = ?`),
		content, key, time.Now().UTC(), e.ID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeactivateExam hides an exam from students and admin listings.
func (s *Store) DeactivateExam(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE exams SET active = ?, updated_at = ? WHERE id = ?`),
		false, time.Now().UTC(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetExam returns an exam by ID, or nil if it does not exist.
func (s *Store) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+examColumns+` FROM exams WHERE id = ?`), id)
	e, err := scanExam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ActiveExam returns the active exam for a grade and variant, or nil.
func (s *Store) ActiveExam(ctx context.Context, grade string, variant model.Variant) (*model.Exam, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+examColumns+` FROM exams WHERE grade = ? AND variant = ? AND active = ?
		 ORDER BY updated_at DESC LIMIT 1`),
		grade, string(variant), true,
	)
	e, err := scanExam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListExams returns active exams, optionally filtered by grade and variant.
func (s *Store) ListExams(ctx context.Context, grade string, variant model.Variant) ([]model.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams WHERE active = ?`
	args := []any{true}
	if grade != "" {
		query += ` AND grade = ?`
		args = append(args, grade)
	}
	if variant != "" {
		query += ` AND variant = ?`
		args = append(args, string(variant))
	}
	query += ` ORDER BY grade, variant`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

func marshalExam(e model.Exam) (string, string, error) {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return "", "", fmt.Errorf("marshal sections: %w", err)
	}
	key, err := json.Marshal(e.Key)
	if err != nil {
		return "", "", fmt.Errorf("marshal answer key: %w", err)
	}
	return string(content), string(key), nil
}

func scanExam(sc scanner) (*model.Exam, error) {
	var (
		e            model.Exam
		variant      string
		content, key string
	)
	err := sc.Scan(&e.ID, &e.Grade, &variant, &content, &key, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Variant = model.Variant(variant)
	if err := json.Unmarshal([]byte(content), &e.Content); err != nil {
		return nil, fmt.Errorf("decode sections of exam %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(key), &e.Key); err != nil {
		return nil, fmt.Errorf("decode answer key of exam %s: %w", e.ID, err)
	}
	return &e, nil
}
