package exam

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/store"
)

// ExamRepository persists exams.
type ExamRepository interface {
	CreateExam(ctx context.Context, e model.Exam) error
	UpdateExam(ctx context.Context, e model.Exam) (bool, error)
	DeactivateExam(ctx context.Context, id string) (bool, error)
	GetExam(ctx context.Context, id string) (*model.Exam, error)
	ActiveExam(ctx context.Context, grade string, variant model.Variant) (*model.Exam, error)
	ListExams(ctx context.Context, grade string, variant model.Variant) ([]model.Exam, error)
}

// Invalidator drops cached copies of an exam after it changes.
type Invalidator interface {
	Invalidate(ctx context.Context, grade string, variant model.Variant) error
}

// Catalog is the admin side of exam content.
type Catalog struct {
	repo     ExamRepository
	inv      Invalidator
	validate *validator.Validate
}

// NewCatalog creates a Catalog. inv may be nil when no cache is in use.
func NewCatalog(repo ExamRepository, inv Invalidator, allowedGrades []string) *Catalog {
	return &Catalog{repo: repo, inv: inv, validate: newValidator(allowedGrades)}
}

// ExamInput is the body of an exam create or update. Nil fields keep their
// current value on update and default to empty on create.
type ExamInput struct {
	Grade   string             `json:"grade" validate:"required,grade"`
	Variant string             `json:"variant" validate:"required,variant"`
	Content *model.ExamContent `json:"sections_public,omitempty"`
	Key     *model.AnswerKey   `json:"answer_key,omitempty"`
}

// List returns active exams, optionally filtered.
func (c *Catalog) List(ctx context.Context, grade string, variant model.Variant) ([]model.Exam, error) {
	exams, err := c.repo.ListExams(ctx, grade, variant)
	if err != nil {
		return nil, store.Classify("list exams", err)
	}
	return exams, nil
}

// Create adds a new active exam. It fails with a validation error when the
// grade and variant already have an active exam.
func (c *Catalog) Create(ctx context.Context, in ExamInput) (*model.Exam, error) {
	in.Grade = strings.TrimSpace(in.Grade)
	in.Variant = strings.TrimSpace(in.Variant)
	if err := c.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	e := model.Exam{
		ID:      uuid.NewString(),
		Grade:   in.Grade,
		Variant: model.Variant(in.Variant),
		Active:  true,
	}
	if in.Content != nil {
		e.Content = *in.Content
	}
	if in.Key != nil {
		e.Key = *in.Key
	}
	if err := ValidateContent(e.Content, e.Key); err != nil {
		return nil, err
	}

	if err := c.repo.CreateExam(ctx, e); err != nil {
		if errors.Is(err, store.ErrExamExists) {
			return nil, model.Validation("ExamExists", "an active exam already exists for this grade and variant")
		}
		return nil, store.Classify("create exam", err)
	}
	c.invalidate(ctx, e.Grade, e.Variant)
	slog.Info("exam created", "exam_id", e.ID, "grade", e.Grade, "variant", e.Variant)
	return c.get(ctx, e.ID)
}

// Update replaces the content and key of an exam. The new content is checked
// before anything is written.
func (c *Catalog) Update(ctx context.Context, id string, content *model.ExamContent, key *model.AnswerKey) (*model.Exam, error) {
	e, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if content != nil {
		e.Content = *content
	}
	if key != nil {
		e.Key = *key
	}
	if err := ValidateContent(e.Content, e.Key); err != nil {
		return nil, err
	}

	found, err := c.repo.UpdateExam(ctx, *e)
	if err != nil {
		return nil, store.Classify("update exam", err)
	}
	if !found {
		return nil, model.NotFound("ExamNotFound", "exam not found")
	}
	c.invalidate(ctx, e.Grade, e.Variant)
	slog.Info("exam updated", "exam_id", e.ID, "grade", e.Grade, "variant", e.Variant)
	return c.get(ctx, id)
}

// Deactivate hides an exam. Attempts taken against it are kept.
func (c *Catalog) Deactivate(ctx context.Context, id string) error {
	e, err := c.get(ctx, id)
	if err != nil {
		return err
	}
	found, err := c.repo.DeactivateExam(ctx, id)
	if err != nil {
		return store.Classify("deactivate exam", err)
	}
	if !found {
		return model.NotFound("ExamNotFound", "exam not found")
	}
	c.invalidate(ctx, e.Grade, e.Variant)
	slog.Info("exam deactivated", "exam_id", id, "grade", e.Grade, "variant", e.Variant)
	return nil
}

// Check validates in the way Put would, without touching the store.
func (c *Catalog) Check(in ExamInput) error {
	in.Grade = strings.TrimSpace(in.Grade)
	in.Variant = strings.TrimSpace(in.Variant)
	if err := c.validate.Struct(in); err != nil {
		return validationError(err)
	}
	var (
		content model.ExamContent
		key     model.AnswerKey
	)
	if in.Content != nil {
		content = *in.Content
	}
	if in.Key != nil {
		key = *in.Key
	}
	return ValidateContent(content, key)
}

// Put creates the active exam of a grade and variant or replaces the content
// of the existing one. It reports whether a new exam was created.
func (c *Catalog) Put(ctx context.Context, in ExamInput) (*model.Exam, bool, error) {
	in.Grade = strings.TrimSpace(in.Grade)
	in.Variant = strings.TrimSpace(in.Variant)
	if err := c.validate.Struct(in); err != nil {
		return nil, false, validationError(err)
	}
	current, err := c.repo.ActiveExam(ctx, in.Grade, model.Variant(in.Variant))
	if err != nil {
		return nil, false, store.Classify("look up exam", err)
	}
	if current == nil {
		e, err := c.Create(ctx, in)
		return e, err == nil, err
	}
	e, err := c.Update(ctx, current.ID, in.Content, in.Key)
	return e, false, err
}

func (c *Catalog) get(ctx context.Context, id string) (*model.Exam, error) {
	e, err := c.repo.GetExam(ctx, id)
	if err != nil {
		return nil, store.Classify("read exam", err)
	}
	if e == nil {
		return nil, model.NotFound("ExamNotFound", "exam not found")
	}
	return e, nil
}

func (c *Catalog) invalidate(ctx context.Context, grade string, variant model.Variant) {
	if c.inv == nil {
		return
	}
	if err := c.inv.Invalidate(ctx, grade, variant); err != nil {
		slog.Warn("failed to invalidate exam cache", "grade", grade, "variant", variant, "error", err)
	}
}
