package model

import (
	"context"
	"time"
)

// ExamDuration is the countdown every attempt gets on the client.
const ExamDuration = 20 * time.Minute

// DefaultTotal is the denominator used when an answer key has no keyed items.
const DefaultTotal = 20

// Variant is one of the two parallel question sets of a grade.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantA || v == VariantB
}

// AttemptStatus represents where an attempt is in its lifecycle.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
)

// Options holds the four choices of a single-choice item.
type Options struct {
	A string `json:"A" yaml:"A"`
	B string `json:"B" yaml:"B"`
	C string `json:"C" yaml:"C"`
	D string `json:"D" yaml:"D"`
}

// MCQItem is one single-choice question.
type MCQItem struct {
	Q       string  `json:"q" yaml:"q"`
	Options Options `json:"options" yaml:"options"`
}

// MatchingSection pairs left prompts with right answer texts.
// Right is stored in canonical (authoring) order.
type MatchingSection struct {
	Left  []string `json:"left" yaml:"left"`
	Right []string `json:"right" yaml:"right"`
}

// ExamContent is the student-visible part of an exam.
type ExamContent struct {
	MCQ      []MCQItem        `json:"mcq" yaml:"mcq"`
	Matching *MatchingSection `json:"matching,omitempty" yaml:"matching,omitempty"`
}

// AnswerKey is the grading oracle of an exam. It never leaves the server.
type AnswerKey struct {
	MCQKey   map[string]string `json:"mcqKey" yaml:"mcqKey"`
	MatchKey map[string]int    `json:"matchKey,omitempty" yaml:"matchKey,omitempty"`
}

// Exam is the stored exam for one (grade, variant).
type Exam struct {
	ID        string      `json:"id"`
	Grade     string      `json:"grade"`
	Variant   Variant     `json:"variant"`
	Content   ExamContent `json:"sections_public"`
	Key       AnswerKey   `json:"answer_key"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ExamKey identifies the exam an attempt is taken against.
type ExamKey struct {
	Grade   string
	Variant Variant
}

// Permutation maps shuffled positions to canonical indices: entry p-1 holds
// the canonical 1-based index of the item displayed at shuffled position p.
type Permutation []int

// AttemptMeta is the opaque per-attempt bag persisted with the attempt.
type AttemptMeta struct {
	ShuffleMapping Permutation `json:"shuffleMapping,omitempty"`
}

// Attempt is one student's exam session.
type Attempt struct {
	ID           string       `json:"id"`
	StudentName  string       `json:"student_name"`
	Grade        string       `json:"grade"`
	Variant      Variant      `json:"variant"`
	StartedAt    time.Time    `json:"started_at"`
	SubmittedAt  *time.Time   `json:"submitted_at,omitempty"`
	DurationSec  *int         `json:"duration_sec,omitempty"`
	Score        *int         `json:"score,omitempty"`
	Total        *int         `json:"total,omitempty"`
	AnswersMCQ   MCQAnswers   `json:"answers_mcq,omitempty"`
	AnswersMatch MatchAnswers `json:"answers_match,omitempty"`
	Meta         *AttemptMeta `json:"meta,omitempty"`
}

// Status derives the lifecycle state from the submission timestamp.
func (a Attempt) Status() AttemptStatus {
	if a.SubmittedAt != nil {
		return StatusSubmitted
	}
	return StatusInProgress
}

// ExamKey returns the (grade, variant) pair of the attempt.
func (a Attempt) ExamKey() ExamKey {
	return ExamKey{Grade: a.Grade, Variant: a.Variant}
}

// ShuffleMapping returns the stored permutation, or nil if none was written.
func (a Attempt) ShuffleMapping() Permutation {
	if a.Meta == nil {
		return nil
	}
	return a.Meta.ShuffleMapping
}

// Submission holds the fields written once when an attempt is submitted.
type Submission struct {
	SubmittedAt  time.Time
	DurationSec  int
	Score        int
	Total        int
	AnswersMCQ   MCQAnswers
	AnswersMatch MatchAnswers
}

// ExamView is what the student client receives for an attempt.
// It deliberately has no answer key field.
type ExamView struct {
	AttemptID   string      `json:"attemptId"`
	StudentName string      `json:"studentName"`
	Grade       string      `json:"grade"`
	Variant     Variant     `json:"variant"`
	Sections    ExamContent `json:"sections"`
	DurationSec int         `json:"durationSec"`
	Submitted   bool        `json:"submitted"`
}

// AttemptFilter narrows attempt listings. Zero values mean no filtering.
type AttemptFilter struct {
	Grade    string
	Variant  Variant
	DateFrom *time.Time
	DateTo   *time.Time
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}
