// Package report turns attempts into a results workbook: one sheet per
// grade, one row per attempt and one 1/0 column per keyed question.
package report

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pavelanni/examdesk/internal/grading"
	"github.com/pavelanni/examdesk/internal/model"
)

// Labels are the human-readable texts of a workbook.
type Labels struct {
	Number  string
	Name    string
	Score   string
	Percent string
	Band    string
	// Sheet names the sheet of a grade.
	Sheet func(grade string) string
}

// Message IDs looked up by NewLabels.
const (
	MsgNumber  = "ReportNumber"
	MsgName    = "ReportStudentName"
	MsgScore   = "ReportScore"
	MsgPercent = "ReportPercent"
	MsgBand    = "ReportBand"
	MsgSheet   = "ReportSheet"
)

// NewLabels builds Labels from a translation function. The sheet message
// receives the grade as {{.Grade}}.
func NewLabels(translate func(id string, data map[string]any) string) Labels {
	return Labels{
		Number:  translate(MsgNumber, nil),
		Name:    translate(MsgName, nil),
		Score:   translate(MsgScore, nil),
		Percent: translate(MsgPercent, nil),
		Band:    translate(MsgBand, nil),
		Sheet: func(grade string) string {
			return translate(MsgSheet, map[string]any{"Grade": grade})
		},
	}
}

// DefaultLabels are the English labels.
func DefaultLabels() Labels {
	return Labels{
		Number:  "No.",
		Name:    "Student",
		Score:   "Score",
		Percent: "Percent",
		Band:    "Band",
		Sheet:   func(grade string) string { return "Grade " + grade },
	}
}

// Row is one attempt in a sheet. Nil pointers are blank cells.
type Row struct {
	Seq       int
	AttemptID string
	Name      string
	Variant   model.Variant
	Submitted bool
	Marks     []*int
	Score     *int
	Percent   *int
	Band      string
}

// Sheet holds the rows of one grade.
type Sheet struct {
	Grade     string
	Questions int
	Rows      []Row
}

// Build groups attempts by grade and grades every submitted attempt again
// from its raw answers, the answer key and the stored permutation. Rows keep
// the order of data.Attempts; sheets are ordered by grade.
func Build(data model.ExportData) []Sheet {
	byGrade := make(map[string]*Sheet)
	var grades []string
	for _, a := range data.Attempts {
		sh, ok := byGrade[a.Grade]
		if !ok {
			sh = &Sheet{Grade: a.Grade}
			byGrade[a.Grade] = sh
			grades = append(grades, a.Grade)
		}
		key, hasKey := data.Keys[a.ExamKey()]
		if hasKey {
			sh.Questions = max(sh.Questions, len(key.MCQKey)+len(key.MatchKey))
		}
		sh.Rows = append(sh.Rows, buildRow(len(sh.Rows)+1, a, key, hasKey))
	}

	slices.SortFunc(grades, CompareGrades)
	sheets := make([]Sheet, 0, len(grades))
	for _, g := range grades {
		sh := byGrade[g]
		for i := range sh.Rows {
			for len(sh.Rows[i].Marks) < sh.Questions {
				sh.Rows[i].Marks = append(sh.Rows[i].Marks, nil)
			}
		}
		sheets = append(sheets, *sh)
	}
	return sheets
}

func buildRow(seq int, a model.Attempt, key model.AnswerKey, hasKey bool) Row {
	row := Row{
		Seq:       seq,
		AttemptID: a.ID,
		Name:      a.StudentName,
		Variant:   a.Variant,
		Submitted: a.Status() == model.StatusSubmitted,
	}
	if !row.Submitted {
		return row
	}

	var score, total int
	if hasKey {
		for _, m := range grading.Marks(a.AnswersMCQ, a.AnswersMatch, a.ShuffleMapping(), key) {
			v := 0
			if m.Correct {
				v = 1
				score++
			}
			row.Marks = append(row.Marks, &v)
		}
		total = grading.Total(key)
		if a.Score != nil && *a.Score != score {
			slog.Warn("stored score differs from recomputed score",
				"attempt_id", a.ID, "stored", *a.Score, "recomputed", score)
		}
	} else {
		// Without a key only the stored result is known.
		slog.Warn("no answer key for attempt", "attempt_id", a.ID, "grade", a.Grade, "variant", a.Variant)
		if a.Score != nil {
			score = *a.Score
		}
		total = model.DefaultTotal
		if a.Total != nil && *a.Total > 0 {
			total = *a.Total
		}
	}

	pct := grading.Percent(score, total)
	row.Score = &score
	row.Percent = &pct
	row.Band = grading.Band(pct)
	return row
}

// CompareGrades orders grade labels by their leading number, then by the
// rest of the label: "9" < "10" < "10-1" < "10-2" < "11A".
func CompareGrades(a, b string) int {
	an, arest := splitGrade(a)
	bn, brest := splitGrade(b)
	if an != bn {
		return an - bn
	}
	return strings.Compare(arest, brest)
}

func splitGrade(g string) (int, string) {
	i := strings.IndexFunc(g, func(r rune) bool { return !unicode.IsDigit(r) })
	if i == -1 {
		i = len(g)
	}
	if i == 0 {
		return -1, g
	}
	n, err := strconv.Atoi(g[:i])
	if err != nil {
		return -1, g
	}
	return n, g[i:]
}

// Filename is the download name of a workbook generated at t.
func Filename(t time.Time) string {
	return "results_" + t.Format("2006-01-02") + ".xlsx"
}
