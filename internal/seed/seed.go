// Package seed imports exam definitions from JSON or YAML files.
package seed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examdesk/internal/exam"
	"github.com/pavelanni/examdesk/internal/model"
)

// Label is a grade or variant that may be written as a number or a string.
type Label string

// UnmarshalJSON accepts both 10 and "10".
func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = Label(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("label must be a string or number: %s", data)
	}
	*l = Label(n.String())
	return nil
}

// Definition is one exam in an import file.
type Definition struct {
	Grade   Label             `json:"grade" yaml:"grade"`
	Variant Label             `json:"variant" yaml:"variant"`
	Content model.ExamContent `json:"sections_public" yaml:"sections_public"`
	Key     model.AnswerKey   `json:"answer_key" yaml:"answer_key"`
}

// Parse decodes a file holding one definition or a list of them. Files
// named *.yaml or *.yml are YAML; everything else is JSON.
func Parse(name string, data []byte) ([]Definition, error) {
	ext := strings.ToLower(filepath.Ext(name))
	yamlFile := ext == ".yaml" || ext == ".yml"

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s is empty", name)
	}

	var defs []Definition
	if yamlFile {
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			if err := node.Decode(&defs); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		} else {
			var d Definition
			if err := node.Decode(&d); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
			defs = []Definition{d}
		}
	} else if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	} else {
		var d Definition
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		defs = []Definition{d}
	}

	for i, d := range defs {
		if d.Grade == "" || d.Variant == "" {
			return nil, fmt.Errorf("%s: exam %d needs grade and variant", name, i+1)
		}
	}
	return defs, nil
}

// Catalog checks and stores imported exams.
type Catalog interface {
	Check(in exam.ExamInput) error
	Put(ctx context.Context, in exam.ExamInput) (*model.Exam, bool, error)
}

// HashStore remembers which file contents were already imported.
type HashStore interface {
	ImportedFileHash(ctx context.Context, name string) (string, error)
	SetImportedFileHash(ctx context.Context, name, hash string) error
}

// Result summarizes the import of one file.
type Result struct {
	Name    string `json:"name"`
	Skipped bool   `json:"skipped"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
}

// Importer loads definition files into the catalog.
type Importer struct {
	catalog Catalog
	hashes  HashStore
}

// NewImporter creates an Importer.
func NewImporter(catalog Catalog, hashes HashStore) *Importer {
	return &Importer{catalog: catalog, hashes: hashes}
}

// ImportFile imports the file at path.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Name: path}, fmt.Errorf("read %s: %w", path, err)
	}
	return im.Import(ctx, path, data)
}

// Import creates or replaces the exams in data. A file whose content hash
// matches the last import under the same name is skipped. Every exam is
// checked before any is written, so an invalid exam leaves the catalog
// untouched and the file unrecorded.
func (im *Importer) Import(ctx context.Context, name string, data []byte) (Result, error) {
	res := Result{Name: name}
	hash := sha256sum(data)

	stored, err := im.hashes.ImportedFileHash(ctx, name)
	if err != nil {
		return res, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if stored == hash {
		slog.Info("exam file unchanged, skipping", "name", name)
		res.Skipped = true
		return res, nil
	}

	defs, err := Parse(name, data)
	if err != nil {
		return res, model.Validation("InvalidExamFile", err.Error())
	}

	inputs := make([]exam.ExamInput, len(defs))
	for i, d := range defs {
		content, key := d.Content, d.Key
		inputs[i] = exam.ExamInput{
			Grade:   string(d.Grade),
			Variant: string(d.Variant),
			Content: &content,
			Key:     &key,
		}
		if err := im.catalog.Check(inputs[i]); err != nil {
			return res, fmt.Errorf("%s: exam %d (grade %s, variant %s): %w", name, i+1, d.Grade, d.Variant, err)
		}
	}

	for i, in := range inputs {
		_, created, err := im.catalog.Put(ctx, in)
		if err != nil {
			return res, fmt.Errorf("%s: exam %d (grade %s, variant %s): %w", name, i+1, in.Grade, in.Variant, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	if err := im.hashes.SetImportedFileHash(ctx, name, hash); err != nil {
		return res, fmt.Errorf("record import for %s: %w", name, err)
	}
	slog.Info("imported exams", "name", name, "created", res.Created, "updated", res.Updated)
	return res, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
