package model

import "time"

// ExportData is everything a results workbook is built from: the attempts in
// retrieval order and the answer key of each exam they were taken against.
type ExportData struct {
	Attempts []Attempt
	Keys     map[ExamKey]AnswerKey
}

// AttemptSummary is one row of the admin attempt listing.
type AttemptSummary struct {
	ID          string        `json:"id"`
	StudentName string        `json:"student_name"`
	Grade       string        `json:"grade"`
	Variant     Variant       `json:"variant"`
	Status      AttemptStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	DurationSec *int          `json:"duration_sec,omitempty"`
	Score       *int          `json:"score,omitempty"`
	Total       *int          `json:"total,omitempty"`
}

// Summary drops the raw answers and meta of an attempt.
func (a Attempt) Summary() AttemptSummary {
	return AttemptSummary{
		ID:          a.ID,
		StudentName: a.StudentName,
		Grade:       a.Grade,
		Variant:     a.Variant,
		Status:      a.Status(),
		StartedAt:   a.StartedAt,
		SubmittedAt: a.SubmittedAt,
		DurationSec: a.DurationSec,
		Score:       a.Score,
		Total:       a.Total,
	}
}

// AdminSession is a cookie session issued after a successful admin login.
type AdminSession struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
}
