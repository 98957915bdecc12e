package report

import (
	"context"
	"io"

	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/store"
)

// Source loads the attempts and answer keys of an export.
type Source interface {
	ExportData(ctx context.Context, f model.AttemptFilter) (model.ExportData, error)
}

// Export writes the workbook of all attempts matching f. It returns a
// not-found error, and writes nothing, when no attempt matches.
func Export(ctx context.Context, src Source, f model.AttemptFilter, labels Labels, w io.Writer) error {
	data, err := src.ExportData(ctx, f)
	if err != nil {
		return store.Classify("load export data", err)
	}
	if len(data.Attempts) == 0 {
		return model.NotFound("NoAttempts", "no attempts match the filter")
	}
	return Write(w, Build(data), labels)
}
