package exam

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examdesk/internal/model"
)

var gradePattern = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

// newValidator registers the "grade" and "variant" tags. When allowed is
// non-empty a grade must be one of its entries; otherwise any label made of
// letters, digits, '-' and '_' is accepted.
func newValidator(allowed []string) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("grade", func(fl validator.FieldLevel) bool {
		g := fl.Field().String()
		if len(allowed) > 0 {
			return slices.Contains(allowed, g)
		}
		return gradePattern.MatchString(g)
	})
	_ = v.RegisterValidation("variant", func(fl validator.FieldLevel) bool {
		return model.Variant(fl.Field().String()).Valid()
	})
	return v
}

type fieldError struct {
	code string
	msg  string
}

var fieldErrors = map[string]fieldError{
	"Name":         {"NameRequired", "enter your name"},
	"Grade":        {"InvalidGrade", "choose a valid grade (for example 10 or 10-1)"},
	"Variant":      {"InvalidVariant", "choose variant A or B"},
	"AttemptID":    {"InvalidAttemptID", "attempt id is malformed"},
	"AnswersMCQ":   {"InvalidAnswers", "answers are malformed"},
	"AnswersMatch": {"InvalidAnswers", "answers are malformed"},
}

// validationError converts the first validator failure into a model error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		// map entries are reported as Field[key]
		field, _, _ := strings.Cut(verrs[0].StructField(), "[")
		if fe, ok := fieldErrors[field]; ok {
			return model.Validation(fe.code, fe.msg)
		}
		return model.Validation("InvalidInput", verrs[0].Error())
	}
	return model.Validation("InvalidInput", err.Error())
}
