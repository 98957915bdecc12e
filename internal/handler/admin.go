package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examdesk/internal/exam"
	appI18n "github.com/pavelanni/examdesk/internal/i18n"
	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/report"
	"github.com/pavelanni/examdesk/internal/store"
)

const (
	maxUploadBytes = 10 << 20
	xlsxType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.Validation("InvalidInput", "request body is too large")
		}
		return model.Validation("InvalidInput", "request body is not valid JSON: "+err.Error())
	}
	return nil
}

// filterValue treats "all" as no filter.
func filterValue(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return ""
	}
	return s
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exams, err := h.catalog.List(r.Context(), filterValue(q.Get("grade")), model.Variant(strings.ToUpper(filterValue(q.Get("variant")))))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var in exam.ExamInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.catalog.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type examUpdate struct {
	Content *model.ExamContent `json:"sections_public"`
	Key     *model.AnswerKey   `json:"answer_key"`
}

func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var in examUpdate
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.catalog.Update(r.Context(), chi.URLParam(r, "examID"), in.Content, in.Key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleDeactivateExam(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Deactivate(r.Context(), chi.URLParam(r, "examID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportExams loads an uploaded JSON or YAML exam file. A file whose
// content was already imported under the same name is skipped.
func (h *Handler) handleImportExams(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, r, model.Validation("InvalidExamFile", "file too large or not a multipart upload"))
		return
	}
	file, header, err := r.FormFile("exams_file")
	if err != nil {
		h.writeError(w, r, model.Validation("InvalidExamFile", "no file uploaded"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, model.Validation("InvalidExamFile", "failed to read file"))
		return
	}
	res, err := h.importer.Import(r.Context(), header.Filename, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("imported exams via admin", "filename", header.Filename,
		"skipped", res.Skipped, "created", res.Created, "updated", res.Updated)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	attempts, err := h.store.ListAttempts(r.Context(), f)
	if err != nil {
		h.writeError(w, r, store.Classify("list attempts", err))
		return
	}
	out := make([]model.AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExport streams the results workbook. The workbook is built in memory
// first so that a failure still produces a JSON error instead of a truncated
// download.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	labels := report.NewLabels(func(id string, data map[string]any) string {
		return appI18n.Td(ctx, id, data)
	})

	var buf bytes.Buffer
	if err := report.Export(ctx, h.store, f, labels, &buf); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(h.now())+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("write export", "error", err)
	}
}

// parseFilter reads grade, variant, dateFrom and dateTo. Dates are
// YYYY-MM-DD or RFC 3339; a bare dateTo covers the whole day.
func parseFilter(r *http.Request) (model.AttemptFilter, error) {
	q := r.URL.Query()
	f := model.AttemptFilter{
		Grade:   filterValue(q.Get("grade")),
		Variant: model.Variant(strings.ToUpper(filterValue(q.Get("variant")))),
	}
	if f.Variant != "" && !f.Variant.Valid() {
		return f, model.Validation("InvalidVariant", "variant must be A or B")
	}
	from, err := parseDate(q.Get("dateFrom"), false)
	if err != nil {
		return f, err
	}
	to, err := parseDate(q.Get("dateTo"), true)
	if err != nil {
		return f, err
	}
	f.DateFrom, f.DateTo = from, to
	return f, nil
}

func parseDate(s string, endOfDay bool) (*time.Time, error) {
	s = filterValue(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, model.Validation("InvalidFilter", "dates must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
