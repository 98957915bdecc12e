// Package exam runs the attempt lifecycle (start, fetch, submit) and the
// admin-side exam catalog on top of the store.
package exam

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/examdesk/internal/grading"
	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/shuffle"
	"github.com/pavelanni/examdesk/internal/store"
)

// AttemptCreator is the insert-only surface the start flow needs. In
// production it is backed by the restricted public credential.
type AttemptCreator interface {
	CreateAttempt(ctx context.Context, a model.Attempt) error
}

// AttemptStore reads and updates attempts with the service credential.
type AttemptStore interface {
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	SetShuffleMapping(ctx context.Context, id string, perm model.Permutation) (bool, error)
	SubmitAttempt(ctx context.Context, id string, sub model.Submission) (bool, error)
}

// ExamSource looks up the active exam of a grade and variant. It returns
// nil when there is none.
type ExamSource interface {
	ActiveExam(ctx context.Context, grade string, variant model.Variant) (*model.Exam, error)
}

// Options tune a Service. The zero value is ready for production use.
type Options struct {
	AllowedGrades []string
	Now           func() time.Time
	// Rand drives the matching shuffle. It is not safe for concurrent use;
	// nil uses the global source.
	Rand *rand.Rand
}

// Service implements the attempt lifecycle.
type Service struct {
	creator  AttemptCreator
	attempts AttemptStore
	exams    ExamSource
	validate *validator.Validate
	now      func() time.Time
	rnd      *rand.Rand
}

// NewService creates a Service.
func NewService(creator AttemptCreator, attempts AttemptStore, exams ExamSource, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		creator:  creator,
		attempts: attempts,
		exams:    exams,
		validate: newValidator(opts.AllowedGrades),
		now:      now,
		rnd:      opts.Rand,
	}
}

// StartRequest is the student's start form.
type StartRequest struct {
	Name    string `validate:"required,max=200"`
	Grade   string `validate:"required,grade"`
	Variant string `validate:"required,variant"`
}

// Start validates the request, checks that an exam is available and creates
// an in-progress attempt. It returns the new attempt ID.
func (s *Service) Start(ctx context.Context, req StartRequest) (string, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Grade = strings.TrimSpace(req.Grade)
	req.Variant = strings.TrimSpace(req.Variant)
	if err := s.validate.Struct(req); err != nil {
		return "", validationError(err)
	}

	variant := model.Variant(req.Variant)
	ex, err := s.exams.ActiveExam(ctx, req.Grade, variant)
	if err != nil {
		return "", store.Classify("look up exam", err)
	}
	if ex == nil {
		return "", model.NotFound("ExamNotFound", "no exam is available for this grade and variant")
	}

	a := model.Attempt{
		ID:          uuid.NewString(),
		StudentName: req.Name,
		Grade:       req.Grade,
		Variant:     variant,
		StartedAt:   s.now().UTC(),
	}
	if err := s.creator.CreateAttempt(ctx, a); err != nil {
		slog.Error("failed to create attempt", "grade", a.Grade, "variant", a.Variant, "error", err)
		return "", store.Classify("create attempt", err)
	}
	slog.Info("attempt started", "attempt_id", a.ID, "grade", a.Grade, "variant", a.Variant)
	return a.ID, nil
}

// FetchExam returns the student view of an attempt. The answer key is never
// part of the view. The matching column is shuffled on the first fetch and
// the permutation is stored; later fetches reuse it.
func (s *Service) FetchExam(ctx context.Context, attemptID string) (*model.ExamView, error) {
	if err := s.validate.Var(attemptID, "required,uuid"); err != nil {
		return nil, model.Validation("InvalidAttemptID", "attempt id is malformed")
	}
	a, ex, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	content := model.ExamContent{MCQ: ex.Content.MCQ}
	if m := ex.Content.Matching; m != nil {
		perm, err := s.mapping(ctx, a, m.Right)
		if err != nil {
			return nil, err
		}
		right := shuffle.Apply(m.Right, perm)
		if len(perm) == 0 {
			// submitted before any fetch, so positions are canonical indices
			right = slices.Clone(m.Right)
		}
		content.Matching = &model.MatchingSection{
			Left:  m.Left,
			Right: right,
		}
	}

	return &model.ExamView{
		AttemptID:   a.ID,
		StudentName: a.StudentName,
		Grade:       a.Grade,
		Variant:     a.Variant,
		Sections:    content,
		DurationSec: int(model.ExamDuration / time.Second),
		Submitted:   a.Status() == model.StatusSubmitted,
	}, nil
}

// mapping returns the stored permutation of a, generating and storing one
// when the attempt has none yet. If another request stores first, its
// permutation wins. A submitted attempt is never written to; without a
// stored permutation it returns nil.
func (s *Service) mapping(ctx context.Context, a *model.Attempt, right []string) (model.Permutation, error) {
	if a.Meta != nil || a.Status() == model.StatusSubmitted {
		return a.ShuffleMapping(), nil
	}
	_, perm := shuffle.Present(right, s.rnd)
	stored, err := s.attempts.SetShuffleMapping(ctx, a.ID, perm)
	if err != nil {
		return nil, store.Classify("store shuffle mapping", err)
	}
	if stored {
		return perm, nil
	}
	current, err := s.attempts.GetAttempt(ctx, a.ID)
	if err != nil {
		return nil, store.Classify("read attempt", err)
	}
	if current == nil {
		return nil, model.NotFound("AttemptNotFound", "attempt not found")
	}
	return current.ShuffleMapping(), nil
}

// SubmitRequest carries a student's answers.
type SubmitRequest struct {
	AttemptID    string             `validate:"required,uuid"`
	AnswersMCQ   model.MCQAnswers   `validate:"max=500,dive,keys,required,max=16,endkeys,max=16"`
	AnswersMatch model.MatchAnswers `validate:"max=500,dive,keys,required,max=16,endkeys,gte=0"`
	// ClientStartedAt is the client's start time in Unix milliseconds.
	ClientStartedAt *int64
}

// SubmitResult is the outcome of a submission.
type SubmitResult struct {
	AttemptID        string `json:"attemptId"`
	Score            int    `json:"score"`
	Total            int    `json:"total"`
	Percent          int    `json:"percent"`
	Band             string `json:"band"`
	DurationSec      int    `json:"durationSec"`
	AlreadySubmitted bool   `json:"alreadySubmitted"`
}

// Submit grades and records an attempt. Submitting an attempt twice does not
// change it; the second call returns the stored result with
// AlreadySubmitted set. Late submissions are accepted.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	a, err := s.attempt(ctx, req.AttemptID)
	if err != nil {
		return nil, err
	}
	if a.Status() == model.StatusSubmitted {
		return priorResult(a), nil
	}
	ex, err := s.exam(ctx, a)
	if err != nil {
		return nil, err
	}

	res := grading.Grade(req.AnswersMCQ, req.AnswersMatch, a.ShuffleMapping(), ex.Key)
	now := s.now().UTC()
	sub := model.Submission{
		SubmittedAt:  now,
		DurationSec:  duration(now, a.StartedAt, req.ClientStartedAt),
		Score:        res.Score,
		Total:        res.Total,
		AnswersMCQ:   req.AnswersMCQ,
		AnswersMatch: req.AnswersMatch,
	}
	if sub.AnswersMCQ == nil {
		sub.AnswersMCQ = model.MCQAnswers{}
	}
	if sub.AnswersMatch == nil {
		sub.AnswersMatch = model.MatchAnswers{}
	}

	written, err := s.attempts.SubmitAttempt(ctx, a.ID, sub)
	if err != nil {
		slog.Error("failed to submit attempt", "attempt_id", a.ID, "error", err)
		return nil, store.Classify("submit attempt", err)
	}
	if !written {
		// Lost a race with a concurrent submit of the same attempt.
		current, err := s.attempt(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if current.Status() != model.StatusSubmitted {
			return nil, model.Persistence("submit attempt", nil)
		}
		return priorResult(current), nil
	}

	slog.Info("attempt submitted",
		"attempt_id", a.ID,
		"score", res.Score,
		"total", res.Total,
		"duration_sec", sub.DurationSec,
	)
	pct := grading.Percent(res.Score, res.Total)
	return &SubmitResult{
		AttemptID:   a.ID,
		Score:       res.Score,
		Total:       res.Total,
		Percent:     pct,
		Band:        grading.Band(pct),
		DurationSec: sub.DurationSec,
	}, nil
}

func (s *Service) load(ctx context.Context, attemptID string) (*model.Attempt, *model.Exam, error) {
	a, err := s.attempt(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	ex, err := s.exam(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	return a, ex, nil
}

func (s *Service) attempt(ctx context.Context, id string) (*model.Attempt, error) {
	a, err := s.attempts.GetAttempt(ctx, id)
	if err != nil {
		return nil, store.Classify("read attempt", err)
	}
	if a == nil {
		return nil, model.NotFound("AttemptNotFound", "attempt not found")
	}
	return a, nil
}

func (s *Service) exam(ctx context.Context, a *model.Attempt) (*model.Exam, error) {
	ex, err := s.exams.ActiveExam(ctx, a.Grade, a.Variant)
	if err != nil {
		return nil, store.Classify("look up exam", err)
	}
	if ex == nil {
		return nil, model.NotFound("ExamNotFound", "no exam is available for this grade and variant")
	}
	return ex, nil
}

// duration is the elapsed whole seconds since the client's start time, or
// since the server start time when the client value is missing or in the
// future.
func duration(now, startedAt time.Time, clientStartedAtMs *int64) int {
	if clientStartedAtMs != nil {
		d := now.UnixMilli() - *clientStartedAtMs
		if d >= 0 {
			return int(d / 1000)
		}
	}
	d := now.Sub(startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func priorResult(a *model.Attempt) *SubmitResult {
	res := &SubmitResult{AttemptID: a.ID, AlreadySubmitted: true}
	if a.Score != nil {
		res.Score = *a.Score
	}
	if a.Total != nil {
		res.Total = *a.Total
	}
	if a.DurationSec != nil {
		res.DurationSec = *a.DurationSec
	}
	res.Percent = grading.Percent(res.Score, res.Total)
	res.Band = grading.Band(res.Percent)
	return res
}
