// Package views renders the student pages as templ components. Run
// `templ generate` after editing a .templ file.
package views

import (
	"context"
	"strconv"

	"github.com/a-h/templ"

	"github.com/pavelanni/examdesk/internal/model"
)

var variants = []string{string(model.VariantA), string(model.VariantB)}

// path prefixes p with the base path the app is served under.
func path(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

func matchID(n int) string {
	return "match-" + strconv.Itoa(n)
}

// StartData fills the start form. Locked fixes grade and variant, as when
// the page is opened from a prefilled link.
type StartData struct {
	Name    string
	Grade   string
	Variant string
	Locked  bool
	Grades  []string
	Error   string
}

type option struct {
	Letter string
	Text   string
}

type mcqItem struct {
	Number  int
	Q       string
	Options []option
}

type entry struct {
	Number int
	Text   string
}

type examData struct {
	model.ExamView
	MCQ   []mcqItem
	Left  []entry
	Right []entry
	Count int
}

// ExamPage renders the exam form with its countdown. The page collects the
// answers into the hidden answersMcq and answersMatch fields and submits by
// itself when the countdown reaches zero.
func ExamPage(v model.ExamView) templ.Component {
	return examPage(newExamData(v))
}

func newExamData(v model.ExamView) examData {
	d := examData{ExamView: v}
	for i, item := range v.Sections.MCQ {
		d.MCQ = append(d.MCQ, mcqItem{
			Number: i + 1,
			Q:      item.Q,
			Options: []option{
				{"A", item.Options.A},
				{"B", item.Options.B},
				{"C", item.Options.C},
				{"D", item.Options.D},
			},
		})
	}
	if m := v.Sections.Matching; m != nil {
		d.Left = numbered(m.Left)
		d.Right = numbered(m.Right)
	}
	d.Count = len(d.MCQ) + len(d.Left)
	return d
}

func numbered(items []string) []entry {
	out := make([]entry, len(items))
	for i, text := range items {
		out[i] = entry{Number: i + 1, Text: text}
	}
	return out
}

// MessageData is a titled notice, such as the thank-you or an error page.
type MessageData struct {
	Title   string
	Body    string
	IsError bool
}
