package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMCQAnswersUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MCQAnswers
		wantErr bool
	}{
		{"letters", `{"1":"A","2":"C"}`, MCQAnswers{"1": "A", "2": "C"}, false},
		{"null and empty skipped", `{"1":null,"2":"","3":"B"}`, MCQAnswers{"3": "B"}, false},
		{"number rejected", `{"1":1}`, nil, true},
		{"array rejected", `["A"]`, nil, true},
		{"not json", `{"1":`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got MCQAnswers
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("answer %s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestMatchAnswersUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MatchAnswers
		wantErr bool
	}{
		{"numbers", `{"1":2,"2":1}`, MatchAnswers{"1": 2, "2": 1}, false},
		{"numeric strings", `{"1":"3"}`, MatchAnswers{"1": 3}, false},
		{"non-numeric string scores zero", `{"1":"abc"}`, MatchAnswers{"1": 0}, false},
		{"fraction scores zero", `{"1":1.5}`, MatchAnswers{"1": 0}, false},
		{"null skipped", `{"1":null}`, MatchAnswers{}, false},
		{"object rejected", `{"1":{"x":1}}`, nil, true},
		{"bool rejected", `{"1":true}`, nil, true},
		{"top-level string rejected", `"1"`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got MatchAnswers
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("answer %s = %d, want %d", k, got[k], v)
				}
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("load attempt: %w", NotFound("AttemptNotFound", "attempt not found"))

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("not-found error must not match ErrValidation")
	}
	if got := KindOf(err); got != KindNotFound {
		t.Errorf("KindOf = %q, want %q", got, KindNotFound)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}

	cause := errors.New("disk full")
	perr := Persistence("save attempt", cause)
	if !errors.Is(perr, cause) {
		t.Error("persistence error should unwrap to its cause")
	}
}

func TestAttemptStatus(t *testing.T) {
	a := Attempt{ID: "x", StartedAt: time.Now()}
	if a.Status() != StatusInProgress {
		t.Errorf("status = %q, want in_progress", a.Status())
	}
	if a.ShuffleMapping() != nil {
		t.Error("expected nil mapping before first fetch")
	}

	now := time.Now()
	a.SubmittedAt = &now
	a.Meta = &AttemptMeta{ShuffleMapping: Permutation{2, 1}}
	if a.Status() != StatusSubmitted {
		t.Errorf("status = %q, want submitted", a.Status())
	}
	if len(a.ShuffleMapping()) != 2 {
		t.Errorf("mapping = %v", a.ShuffleMapping())
	}
}
