package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/examdesk/internal/model"
)

// ExportData loads the attempts matching f together with the answer key of
// every (grade, variant) they reference. The active exam's key wins; an
// attempt whose exam was deactivated later falls back to the most recently
// updated one.
func (s *Store) ExportData(ctx context.Context, f model.AttemptFilter) (model.ExportData, error) {
	attempts, err := s.ListAttempts(ctx, f)
	if err != nil {
		return model.ExportData{}, fmt.Errorf("list attempts: %w", err)
	}

	keys := make(map[model.ExamKey]model.AnswerKey)
	for _, a := range attempts {
		ek := a.ExamKey()
		if _, ok := keys[ek]; ok {
			continue
		}
		key, found, err := s.answerKey(ctx, ek)
		if err != nil {
			return model.ExportData{}, fmt.Errorf("load key for grade %s variant %s: %w", ek.Grade, ek.Variant, err)
		}
		if found {
			keys[ek] = key
		}
	}
	return model.ExportData{Attempts: attempts, Keys: keys}, nil
}

func (s *Store) answerKey(ctx context.Context, ek model.ExamKey) (model.AnswerKey, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT answer_key FROM exams WHERE grade = ? AND variant = ?
		 ORDER BY active DESC, updated_at DESC LIMIT 1`),
		ek.Grade, string(ek.Variant),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.AnswerKey{}, false, nil
	}
	if err != nil {
		return model.AnswerKey{}, false, err
	}
	var key model.AnswerKey
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return model.AnswerKey{}, false, fmt.Errorf("decode answer key: %w", err)
	}
	return key, true, nil
}
