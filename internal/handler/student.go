package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examdesk/internal/exam"
	"github.com/pavelanni/examdesk/internal/handler/views"
	appI18n "github.com/pavelanni/examdesk/internal/i18n"
	"github.com/pavelanni/examdesk/internal/model"
)

const maxBodyBytes = 1 << 20

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d := views.StartData{
		Grade:   strings.TrimSpace(q.Get("g")),
		Variant: strings.ToUpper(strings.TrimSpace(q.Get("v"))),
		Grades:  h.config.AllowedGrades,
	}
	d.Locked = d.Grade != "" && model.Variant(d.Variant).Valid()
	render(w, r, http.StatusOK, views.StartPage(d))
}

type startBody struct {
	Name    string `json:"name"`
	Grade   string `json:"grade"`
	Variant string `json:"variant"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if isJSON(r) {
		var body startBody
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		id, err := h.service.Start(r.Context(), exam.StartRequest(body))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"attemptId": id})
		return
	}

	req := exam.StartRequest{
		Name:    r.FormValue("name"),
		Grade:   r.FormValue("grade"),
		Variant: r.FormValue("variant"),
	}
	id, err := h.service.Start(r.Context(), req)
	if err != nil {
		if k := model.KindOf(err); k == model.KindValidation || k == model.KindNotFound {
			// show the form again with what the student typed
			status := statusOf(err)
			logFailure(r, status, err)
			render(w, r, status, views.StartPage(views.StartData{
				Name:    req.Name,
				Grade:   req.Grade,
				Variant: req.Variant,
				Locked:  r.FormValue("locked") == "1",
				Grades:  h.config.AllowedGrades,
				Error:   describe(r.Context(), err).Error,
			}))
			return
		}
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, h.path("/exam/"+url.PathEscape(id)), http.StatusSeeOther)
}

func (h *Handler) handleExamPage(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.FetchExam(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if view.Submitted {
		http.Redirect(w, r, h.path("/thanks?already=1"), http.StatusSeeOther)
		return
	}
	render(w, r, http.StatusOK, views.ExamPage(*view))
}

func (h *Handler) handleExamAPI(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.FetchExam(r.Context(), r.URL.Query().Get("attemptId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submitBody struct {
	AttemptID       string             `json:"attemptId"`
	AnswersMCQ      model.MCQAnswers   `json:"answersMcq"`
	AnswersMatch    model.MatchAnswers `json:"answersMatch"`
	ClientStartedAt *int64             `json:"clientStartedAt"`
}

type submitResponse struct {
	OK               bool `json:"ok"`
	AlreadySubmitted bool `json:"alreadySubmitted"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if isJSON(r) {
		var body submitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, r, model.Validation("InvalidAnswers", "answers are malformed"))
			return
		}
		res, err := h.service.Submit(r.Context(), exam.SubmitRequest(body))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{OK: true, AlreadySubmitted: res.AlreadySubmitted})
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, model.Validation("InvalidAnswers", "form is malformed"))
		return
	}
	req, err := exam.ParseSubmitForm(r.PostForm)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	res, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	target := "/thanks"
	if res.AlreadySubmitted {
		target += "?already=1"
	}
	http.Redirect(w, r, h.path(target), http.StatusSeeOther)
}

func (h *Handler) handleThanks(w http.ResponseWriter, r *http.Request) {
	body := appI18n.T(r.Context(), "ThanksBody")
	if r.URL.Query().Get("already") == "1" {
		body = appI18n.T(r.Context(), "AlreadySubmitted")
	}
	render(w, r, http.StatusOK, views.MessagePage(views.MessageData{
		Title: appI18n.T(r.Context(), "ThanksTitle"),
		Body:  body,
	}))
}

func isJSON(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && ct == "application/json"
}
