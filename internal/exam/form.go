package exam

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/pavelanni/examdesk/internal/model"
)

// ParseSubmitForm reads the exam page's submit form: attemptId, the answers
// as JSON objects in answersMcq and answersMatch, and the optional
// clientStartedAt in Unix milliseconds. Missing answer fields count as no
// answers.
func ParseSubmitForm(form url.Values) (SubmitRequest, error) {
	req := SubmitRequest{AttemptID: strings.TrimSpace(form.Get("attemptId"))}

	if raw := strings.TrimSpace(form.Get("answersMcq")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.AnswersMCQ); err != nil {
			return req, model.Validation("InvalidAnswers", "answers are malformed")
		}
	}
	if raw := strings.TrimSpace(form.Get("answersMatch")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.AnswersMatch); err != nil {
			return req, model.Validation("InvalidAnswers", "answers are malformed")
		}
	}
	if raw := strings.TrimSpace(form.Get("clientStartedAt")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, model.Validation("InvalidStartTime", "client start time is malformed")
		}
		req.ClientStartedAt = &ms
	}
	return req, nil
}
