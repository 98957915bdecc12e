package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examdesk/internal/config"
	"github.com/pavelanni/examdesk/internal/exam"
	"github.com/pavelanni/examdesk/internal/handler/views"
	appI18n "github.com/pavelanni/examdesk/internal/i18n"
	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/seed"
)

// ServiceStore is the part of the service-credential store the HTTP layer
// reads directly.
type ServiceStore interface {
	ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, error)
	ExportData(ctx context.Context, f model.AttemptFilter) (model.ExportData, error)
	CreateAdminSession(ctx context.Context) (string, error)
	GetAdminSession(ctx context.Context, token string) (*model.AdminSession, error)
	DeleteAdminSession(ctx context.Context, token string) error
	Ping(ctx context.Context) error
}

// Deps holds everything a Handler serves from.
type Deps struct {
	Service  *exam.Service
	Catalog  *exam.Catalog
	Store    ServiceStore
	Importer *seed.Importer
	Auth     AuthGate
	Config   config.Config
	Now      func() time.Time
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	service  *exam.Service
	catalog  *exam.Catalog
	store    ServiceStore
	importer *seed.Importer
	auth     AuthGate
	config   config.Config
	now      func() time.Time
}

// New creates a new Handler.
func New(d Deps) *Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		service:  d.Service,
		catalog:  d.Catalog,
		store:    d.Store,
		importer: d.Importer,
		auth:     d.Auth,
		config:   d.Config,
		now:      now,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Post("/start", h.handleStart)
	r.Get("/exam/{attemptID}", h.handleExamPage)
	r.Get("/api/exam", h.handleExamAPI)
	r.Post("/submit", h.handleSubmit)
	r.Get("/thanks", h.handleThanks)
	r.Get("/healthz", h.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/auth", h.handleAuthCheck)
		r.Post("/auth", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/api/exams", h.handleListExams)
			r.Post("/api/exams", h.handleCreateExam)
			r.Post("/api/exams/import", h.handleImportExams)
			r.Put("/api/exams/{examID}", h.handleUpdateExam)
			r.Delete("/api/exams/{examID}", h.handleDeactivateExam)
			r.Get("/api/attempts", h.handleListAttempts)
			r.Get("/api/export", h.handleExport)
		})
	})
}

// BasePathMiddleware injects the configured base path into every request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prepends the base path to an absolute route.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch model.KindOf(err) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindContentIntegrity:
		return http.StatusUnprocessableEntity
	case model.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// describe returns the translated message of err, falling back to its
// English message, plus the code and detail worth showing to an admin.
func describe(ctx context.Context, err error) errorResponse {
	var e *model.Error
	if !errors.As(err, &e) {
		return errorResponse{Error: appI18n.T(ctx, "PersistenceFailed"), Code: "PersistenceFailed"}
	}
	resp := errorResponse{Error: e.Message, Code: e.Code}
	if s, ok := appI18n.Lookup(ctx, e.Code); ok {
		resp.Error = s
	}
	switch e.Kind {
	case model.KindContentIntegrity, model.KindConfiguration:
		resp.Detail = e.Message
	}
	return resp
}

func logFailure(r *http.Request, status int, err error) {
	switch {
	case status >= http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	default:
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	logFailure(r, status, err)
	writeJSON(w, status, describe(r.Context(), err))
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	logFailure(r, status, err)
	render(w, r, status, views.MessagePage(views.MessageData{
		Title:   appI18n.T(r.Context(), "ErrorTitle"),
		Body:    describe(r.Context(), err).Error,
		IsError: true,
	}))
}
