// Package grading scores submitted answers against an answer key.
// Every function here is pure: the same inputs always give the same result.
package grading

import (
	"math"
	"slices"
	"strconv"

	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/shuffle"
)

// Section tells which part of the exam a mark belongs to.
type Section string

const (
	SectionMCQ   Section = "mcq"
	SectionMatch Section = "match"
)

// Mark is the outcome of a single keyed question.
type Mark struct {
	Section  Section
	Question string // question number within its section
	Correct  bool
}

// Result summarizes a graded submission.
type Result struct {
	MCQScore   int `json:"mcqScore"`
	MatchScore int `json:"matchScore"`
	Score      int `json:"score"`
	Total      int `json:"total"`
}

// Marks returns one mark per keyed question: MCQ questions first, then
// matching items, each in question-number order.
func Marks(mcq model.MCQAnswers, match model.MatchAnswers, perm model.Permutation, key model.AnswerKey) []Mark {
	marks := make([]Mark, 0, len(key.MCQKey)+len(key.MatchKey))

	for _, q := range sortedKeys(key.MCQKey) {
		marks = append(marks, Mark{
			Section:  SectionMCQ,
			Question: q,
			Correct:  mcq[q] != "" && mcq[q] == key.MCQKey[q],
		})
	}

	for _, q := range sortedKeys(key.MatchKey) {
		chosen, ok := match[q]
		correct := false
		if ok && chosen > 0 {
			correct = shuffle.Invert(chosen, perm) == key.MatchKey[q]
		}
		marks = append(marks, Mark{Section: SectionMatch, Question: q, Correct: correct})
	}
	return marks
}

// Grade scores a submission. perm is the permutation shown to the student;
// nil means the matching column was not shuffled.
func Grade(mcq model.MCQAnswers, match model.MatchAnswers, perm model.Permutation, key model.AnswerKey) Result {
	var res Result
	for _, m := range Marks(mcq, match, perm, key) {
		if !m.Correct {
			continue
		}
		switch m.Section {
		case SectionMCQ:
			res.MCQScore++
		case SectionMatch:
			res.MatchScore++
		}
	}
	res.Score = res.MCQScore + res.MatchScore
	res.Total = Total(key)
	return res
}

// Total is the number of keyed questions, or model.DefaultTotal when the key
// is empty.
func Total(key model.AnswerKey) int {
	n := len(key.MCQKey) + len(key.MatchKey)
	if n == 0 {
		return model.DefaultTotal
	}
	return n
}

// Percent returns round(score/total*100). A non-positive total yields 0.
func Percent(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(total) * 100))
}

var bands = []struct {
	min  int
	name string
}{
	{90, "I"},
	{80, "II"},
	{70, "III"},
	{60, "IV"},
	{50, "V"},
	{40, "VI"},
	{30, "VII"},
}

// Band maps a percentage to its level, I (best) through VIII.
func Band(percent int) string {
	for _, b := range bands {
		if percent >= b.min {
			return b.name
		}
	}
	return "VIII"
}

// sortedKeys orders question numbers numerically; non-numeric keys follow
// in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareQuestionNumbers)
	return keys
}

// CompareQuestionNumbers orders "2" before "10".
func CompareQuestionNumbers(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai - bi
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
