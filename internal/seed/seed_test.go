package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/examdesk/internal/exam"
	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/store"
)

const yamlExam = `
grade: 10
variant: A
sections_public:
  mcq:
    - q: "Capital of Mongolia?"
      options: {A: Ulaanbaatar, B: Darkhan, C: Erdenet, D: Khovd}
  matching:
    left: [dog, cat]
    right: [barks, meows]
answer_key:
  mcqKey: {1: A}
  matchKey: {1: 1, 2: 2}
`

const jsonExams = `[
  {"grade": "10-1", "variant": "B",
   "sections_public": {"mcq": [{"q": "2+2", "options": {"A": "3", "B": "4", "C": "5", "D": "6"}}]},
   "answer_key": {"mcqKey": {"1": "B"}}},
  {"grade": 11, "variant": "A", "sections_public": {"mcq": []}, "answer_key": {"mcqKey": {}}}
]`

func newTestImporter(t *testing.T) (*Importer, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:", "")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewImporter(exam.NewCatalog(s, nil, nil), s), s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    string
		want    int
		wantErr bool
	}{
		{"yaml single", "10A.yaml", yamlExam, 1, false},
		{"yaml list", "all.yml", "- grade: 9\n  variant: A\n- grade: 9\n  variant: B\n", 2, false},
		{"json list", "exams.json", jsonExams, 2, false},
		{"json single", "one.json", `{"grade":"12","variant":"A"}`, 1, false},
		{"empty", "none.json", "  ", 0, true},
		{"missing variant", "bad.json", `{"grade":"12"}`, 0, true},
		{"bad json", "bad.json", `{"grade":`, 0, true},
		{"bad label", "bad.json", `{"grade":true,"variant":"A"}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := Parse(tt.file, []byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", defs)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(defs) != tt.want {
				t.Errorf("expected %d definitions, got %d", tt.want, len(defs))
			}
		})
	}
}

func TestParseYAMLValues(t *testing.T) {
	defs, err := Parse("10A.yaml", []byte(yamlExam))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d := defs[0]
	if d.Grade != "10" || d.Variant != "A" {
		t.Errorf("grade/variant = %q/%q", d.Grade, d.Variant)
	}
	if d.Content.MCQ[0].Options.A != "Ulaanbaatar" || d.Content.Matching.Right[1] != "meows" {
		t.Errorf("content = %+v", d.Content)
	}
	if d.Key.MCQKey["1"] != "A" || d.Key.MatchKey["2"] != 2 {
		t.Errorf("key = %+v", d.Key)
	}
}

func TestImportFileSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	im, s := newTestImporter(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "10A.yaml", yamlExam)

	res, err := im.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if res.Created != 1 || res.Skipped {
		t.Errorf("first import = %+v", res)
	}
	e, err := s.ActiveExam(ctx, "10", model.VariantA)
	if err != nil || e == nil {
		t.Fatalf("ActiveExam = %+v, %v", e, err)
	}

	res, err = im.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile again: %v", err)
	}
	if !res.Skipped {
		t.Errorf("unchanged file was not skipped: %+v", res)
	}

	// A changed file replaces the active exam in place.
	changed := writeFile(t, dir, "10A.yaml", yamlExam+"\n# answer key revised\n")
	res, err = im.ImportFile(ctx, changed)
	if err != nil {
		t.Fatalf("ImportFile changed: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 {
		t.Errorf("changed import = %+v", res)
	}
	list, _ := s.ListExams(ctx, "10", "")
	if len(list) != 1 {
		t.Errorf("expected one active exam, got %d", len(list))
	}
}

func TestImportJSONList(t *testing.T) {
	ctx := context.Background()
	im, s := newTestImporter(t)

	res, err := im.Import(ctx, "exams.json", []byte(jsonExams))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Created != 2 {
		t.Errorf("result = %+v", res)
	}
	if e, _ := s.ActiveExam(ctx, "10-1", model.VariantB); e == nil || e.Key.MCQKey["1"] != "B" {
		t.Errorf("exam 10-1/B = %+v", e)
	}
	if e, _ := s.ActiveExam(ctx, "11", model.VariantA); e == nil {
		t.Error("exam 11/A missing")
	}
}

func TestImportRejectsInvalidContent(t *testing.T) {
	ctx := context.Background()
	im, s := newTestImporter(t)
	bad := `{"grade":"12","variant":"A",
	  "sections_public":{"mcq":[],"matching":{"left":["x"],"right":["42"]}},
	  "answer_key":{"mcqKey":{}}}`

	_, err := im.Import(ctx, "12A.json", []byte(bad))
	if !errors.Is(err, model.ErrContentIntegrity) {
		t.Fatalf("Import = %v, want content integrity error", err)
	}
	if e, _ := s.ActiveExam(ctx, "12", model.VariantA); e != nil {
		t.Errorf("invalid exam was stored: %+v", e)
	}
	if h, _ := s.ImportedFileHash(ctx, "12A.json"); h != "" {
		t.Error("failed import was recorded")
	}

	_, err = im.Import(ctx, "broken.json", []byte(`{`))
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Import(broken) = %v, want validation error", err)
	}

	mixed := `[` + strings.Replace(jsonExams[1:len(jsonExams)-1], `"grade": 11`, `"grade": 9`, 1) + `,` + bad + `]`
	_, err = im.Import(ctx, "mixed.json", []byte(mixed))
	if !errors.Is(err, model.ErrContentIntegrity) {
		t.Fatalf("Import(mixed) = %v, want content integrity error", err)
	}
	for _, ek := range []model.ExamKey{{Grade: "10-1", Variant: model.VariantB}, {Grade: "9", Variant: model.VariantA}} {
		if e, _ := s.ActiveExam(ctx, ek.Grade, ek.Variant); e != nil {
			t.Errorf("exam %s/%s from a failed file was stored", ek.Grade, ek.Variant)
		}
	}
	if h, _ := s.ImportedFileHash(ctx, "mixed.json"); h != "" {
		t.Error("failed import was recorded")
	}
}
