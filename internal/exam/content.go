package exam

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/shuffle"
)

// ValidateContent checks an exam before it is saved. Every MCQ item needs a
// prompt and four options, every matching answer must be free text, and
// every answer key entry must point at an existing item. Violations are
// content integrity errors. Empty content with an empty key is valid.
func ValidateContent(c model.ExamContent, key model.AnswerKey) error {
	for i, item := range c.MCQ {
		n := i + 1
		if strings.TrimSpace(item.Q) == "" {
			return integrity("IncompleteQuestion", "question %d has no prompt", n)
		}
		for i, text := range []string{item.Options.A, item.Options.B, item.Options.C, item.Options.D} {
			if strings.TrimSpace(text) == "" {
				return integrity("IncompleteQuestion", "question %d has no option %c", n, 'A'+i)
			}
		}
	}

	var left, right int
	if m := c.Matching; m != nil {
		for i, l := range m.Left {
			if strings.TrimSpace(l) == "" {
				return integrity("InvalidMatchingText", "matching prompt %d is blank", i+1)
			}
		}
		for i, r := range m.Right {
			if !shuffle.IsValidMatchingText(r) {
				return integrity("InvalidMatchingText",
					"matching answer %d (%q) must be text, not blank or a bare number", i+1, r)
			}
		}
		left, right = len(m.Left), len(m.Right)
	}

	for _, q := range slices.Sorted(maps.Keys(key.MCQKey)) {
		letter := key.MCQKey[q]
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > len(c.MCQ) {
			return integrity("InvalidAnswerKey", "answer key names question %q, which does not exist", q)
		}
		switch letter {
		case "A", "B", "C", "D":
		default:
			return integrity("InvalidAnswerKey", "answer key for question %s is %q, want A, B, C or D", q, letter)
		}
	}
	for _, q := range slices.Sorted(maps.Keys(key.MatchKey)) {
		idx := key.MatchKey[q]
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > left {
			return integrity("InvalidAnswerKey", "matching key names prompt %q, which does not exist", q)
		}
		if idx < 1 || idx > right {
			return integrity("InvalidAnswerKey", "matching key for prompt %s points at answer %d, which does not exist", q, idx)
		}
	}
	return nil
}

func integrity(code, format string, args ...any) error {
	return model.ContentIntegrity(code, fmt.Sprintf(format, args...))
}
