package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MCQAnswers maps question numbers ("1", "2", ...) to the chosen option letter.
type MCQAnswers map[string]string

// MatchAnswers maps left-item numbers to the shuffled right-hand index the
// student picked. Zero means the answer was present but not a usable number.
type MatchAnswers map[string]int

// UnmarshalJSON accepts an object of strings. Null values are treated as
// unanswered; any other value type is rejected.
func (m *MCQAnswers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("answers must be an object: %w", err)
	}
	out := make(MCQAnswers, len(raw))
	for k, v := range raw {
		if isNull(v) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("answer %q must be a string", k)
		}
		if s == "" {
			continue
		}
		out[k] = s
	}
	*m = out
	return nil
}

// UnmarshalJSON accepts an object whose values are numbers or strings.
// Numeric strings are parsed; other strings are kept as 0 so they score
// nothing. Objects, arrays and booleans are rejected.
func (m *MatchAnswers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("answers must be an object: %w", err)
	}
	out := make(MatchAnswers, len(raw))
	for k, v := range raw {
		if isNull(v) {
			continue
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var anyVal any
		if err := dec.Decode(&anyVal); err != nil {
			return fmt.Errorf("answer %q: %w", k, err)
		}
		switch val := anyVal.(type) {
		case json.Number:
			n = val
		case string:
			if strings.TrimSpace(val) == "" {
				continue
			}
			n = json.Number(strings.TrimSpace(val))
		default:
			return fmt.Errorf("answer %q must be a number", k)
		}
		i, err := strconv.Atoi(n.String())
		if err != nil {
			out[k] = 0
			continue
		}
		out[k] = i
	}
	*m = out
	return nil
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
