package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/examdesk/internal/config"
	"github.com/pavelanni/examdesk/internal/exam"
	appI18n "github.com/pavelanni/examdesk/internal/i18n"
	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/seed"
	"github.com/pavelanni/examdesk/internal/store"
)

const testSecret = "s3cret"

var canonicalRight = []string{"barks", "meows", "moos", "neighs"}

type testEnv struct {
	router http.Handler
	store  *store.Store
	clock  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("init i18n: %v", err)
	}
	st, err := store.New(":memory:", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{store: st, clock: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	now := func() time.Time { return env.clock }

	svc := exam.NewService(st, st, st, exam.Options{Now: now, Rand: rand.New(rand.NewPCG(1, 2))})
	cat := exam.NewCatalog(st, nil, nil)
	gate, err := NewSecretGate(testSecret)
	if err != nil {
		t.Fatalf("NewSecretGate: %v", err)
	}
	h := New(Deps{
		Service:  svc,
		Catalog:  cat,
		Store:    st,
		Importer: seed.NewImporter(cat, st),
		Auth:     gate,
		Config:   config.Config{AdminSecret: testSecret},
		Now:      now,
	})

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)
	env.router = r
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) admin(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.do(req)
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func sampleExam() exam.ExamInput {
	return exam.ExamInput{
		Grade:   "10",
		Variant: "A",
		Content: &model.ExamContent{
			MCQ: []model.MCQItem{
				{Q: "Capital of Mongolia?", Options: model.Options{A: "Ulaanbaatar", B: "Darkhan", C: "Erdenet", D: "Khovd"}},
				{Q: "2+3?", Options: model.Options{A: "4", B: "5", C: "6", D: "7"}},
			},
			Matching: &model.MatchingSection{
				Left:  []string{"dog", "cat", "cow", "horse"},
				Right: canonicalRight,
			},
		},
		Key: &model.AnswerKey{
			MCQKey:   map[string]string{"1": "A", "2": "B"},
			MatchKey: map[string]int{"1": 1, "2": 2, "3": 3, "4": 4},
		},
	}
}

func (e *testEnv) createExam(t *testing.T) model.Exam {
	t.Helper()
	rec := e.admin(t, http.MethodPost, "/admin/api/exams", sampleExam())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create exam: status %d: %s", rec.Code, rec.Body)
	}
	var ex model.Exam
	if err := json.NewDecoder(rec.Body).Decode(&ex); err != nil {
		t.Fatalf("decode exam: %v", err)
	}
	return ex
}

func (e *testEnv) start(t *testing.T, name string) string {
	t.Helper()
	rec := e.do(postForm("/start", url.Values{"name": {name}, "grade": {"10"}, "variant": {"A"}}))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("start: status %d: %s", rec.Code, rec.Body)
	}
	id, ok := strings.CutPrefix(rec.Header().Get("Location"), "/exam/")
	if !ok || id == "" {
		t.Fatalf("start: unexpected Location %q", rec.Header().Get("Location"))
	}
	return id
}

// correctAnswers answers every question correctly for the shuffled view.
func correctAnswers(t *testing.T, view model.ExamView) url.Values {
	t.Helper()
	match := map[string]int{}
	for i, text := range canonicalRight {
		pos := slices.Index(view.Sections.Matching.Right, text)
		if pos < 0 {
			t.Fatalf("matching answer %q missing from view", text)
		}
		match[fmt.Sprint(i+1)] = pos + 1
	}
	mcq, _ := json.Marshal(map[string]string{"1": "A", "2": "B"})
	m, _ := json.Marshal(match)
	return url.Values{"attemptId": {view.AttemptID}, "answersMcq": {string(mcq)}, "answersMatch": {string(m)}}
}

func (e *testEnv) fetch(t *testing.T, id string) model.ExamView {
	t.Helper()
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/exam?attemptId="+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch: status %d: %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "mcqKey") || strings.Contains(rec.Body.String(), "answer_key") {
		t.Fatalf("exam view leaks the answer key: %s", rec.Body)
	}
	var view model.ExamView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func TestStudentFlow(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t)

	id := env.start(t, "Bat")
	startedAt := env.clock

	page := env.do(httptest.NewRequest(http.MethodGet, "/exam/"+id, nil))
	if page.Code != http.StatusOK {
		t.Fatalf("exam page: status %d: %s", page.Code, page.Body)
	}
	for _, want := range []string{"Capital of Mongolia?", `name="attemptId" value="` + id + `"`, "answersMatch"} {
		if !strings.Contains(page.Body.String(), want) {
			t.Errorf("exam page missing %q", want)
		}
	}

	view := env.fetch(t, id)
	form := correctAnswers(t, view)
	form.Set("clientStartedAt", fmt.Sprint(startedAt.UnixMilli()))
	env.clock = startedAt.Add(7*time.Minute + 30*time.Second)

	rec := env.do(postForm("/submit", form))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/thanks" {
		t.Fatalf("submit: status %d, Location %q: %s", rec.Code, rec.Header().Get("Location"), rec.Body)
	}

	a, err := env.store.GetAttempt(t.Context(), id)
	if err != nil || a == nil {
		t.Fatalf("GetAttempt: %v, %v", a, err)
	}
	if a.Score == nil || *a.Score != 6 || a.Total == nil || *a.Total != 6 {
		t.Errorf("score = %v/%v, want 6/6", a.Score, a.Total)
	}
	if a.DurationSec == nil || *a.DurationSec != 450 {
		t.Errorf("duration = %v, want 450", a.DurationSec)
	}

	// a second submit keeps the first result
	again := env.do(postForm("/submit", url.Values{"attemptId": {id}, "answersMcq": {`{"1":"D"}`}}))
	if again.Code != http.StatusSeeOther || again.Header().Get("Location") != "/thanks?already=1" {
		t.Fatalf("resubmit: status %d, Location %q", again.Code, again.Header().Get("Location"))
	}
	a, _ = env.store.GetAttempt(t.Context(), id)
	if *a.Score != 6 {
		t.Errorf("score after resubmit = %d, want 6", *a.Score)
	}

	thanks := env.do(httptest.NewRequest(http.MethodGet, "/thanks?already=1", nil))
	if !strings.Contains(thanks.Body.String(), "already been submitted") {
		t.Errorf("thanks page: %s", thanks.Body)
	}

	// the exam page of a submitted attempt sends the student away
	page = env.do(httptest.NewRequest(http.MethodGet, "/exam/"+id, nil))
	if page.Code != http.StatusSeeOther {
		t.Errorf("exam page after submit: status %d", page.Code)
	}
}

func TestSubmitJSON(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t)
	id := env.start(t, "Saraa")

	body := `{"attemptId":"` + id + `","answersMcq":{"1":"A"},"answersMatch":{"1":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.AlreadySubmitted {
		t.Errorf("response = %+v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{"attemptId":"`+id+`","answersMcq":[1,2]}`))
	req.Header.Set("Content-Type", "application/json")
	rec = env.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed answers: status %d, want 400", rec.Code)
	}
}

func TestStartErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(postForm("/start", url.Values{"name": {" "}, "grade": {"10"}, "variant": {"A"}}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank name: status %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Please enter your name.") {
		t.Errorf("blank name: form should show the error: %s", rec.Body)
	}

	req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(`{"name":"Bat","grade":"10","variant":"A"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = env.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no exam: status %d, want 404", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != "ExamNotFound" {
		t.Errorf("code = %q, want ExamNotFound", resp.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/exam?attemptId=nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad attempt id: status %d, want 400", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/exam/6f1c1a52-7d55-4ad4-9c3e-0b1f1f3b2c11", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown attempt: status %d, want 404", rec.Code)
	}
}

func TestIndexPrefill(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/?g=10&v=a", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `name="locked" value="1"`) || !strings.Contains(body, `name="variant" value="A"`) {
		t.Errorf("prefilled form should lock grade and variant: %s", body)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Contains(rec.Body.String(), `name="locked"`) {
		t.Error("plain form should not be locked")
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no credentials", "/admin/api/exams", "", http.StatusUnauthorized},
		{"wrong bearer", "/admin/api/exams", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "/admin/api/exams", "Bearer " + testSecret, http.StatusOK},
		{"pass query", "/admin/api/exams?pass=" + testSecret, "", http.StatusOK},
		{"auth check ok", "/admin/auth?pass=" + testSecret, "", http.StatusOK},
		{"auth check wrong", "/admin/auth?pass=x", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if rec := env.do(req); rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAdminSessionCookie(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/auth", strings.NewReader(`{"password":"`+testSecret+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || !cookies[0].HttpOnly {
		t.Fatalf("login cookies = %+v", cookies)
	}

	list := httptest.NewRequest(http.MethodGet, "/admin/api/attempts", nil)
	list.AddCookie(cookies[0])
	if rec := env.do(list); rec.Code != http.StatusOK {
		t.Fatalf("with session: status %d", rec.Code)
	}

	logout := httptest.NewRequest(http.MethodPost, "/admin/logout", nil)
	logout.AddCookie(cookies[0])
	if rec := env.do(logout); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d", rec.Code)
	}

	list = httptest.NewRequest(http.MethodGet, "/admin/api/attempts", nil)
	list.AddCookie(cookies[0])
	if rec := env.do(list); rec.Code != http.StatusUnauthorized {
		t.Errorf("after logout: status %d, want 401", rec.Code)
	}

	bad := postForm("/admin/auth", url.Values{"password": {"wrong"}})
	if rec := env.do(bad); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status %d, want 401", rec.Code)
	}
}

func TestAdminExamCRUD(t *testing.T) {
	env := newTestEnv(t)
	ex := env.createExam(t)

	rec := env.admin(t, http.MethodPost, "/admin/api/exams", sampleExam())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate: status %d, want 400", rec.Code)
	}

	numeric := map[string]any{
		"sections_public": model.ExamContent{
			Matching: &model.MatchingSection{Left: []string{"x"}, Right: []string{"42"}},
		},
	}
	rec = env.admin(t, http.MethodPut, "/admin/api/exams/"+ex.ID, numeric)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("numeric matching text: status %d, want 422: %s", rec.Code, rec.Body)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != "InvalidMatchingText" || resp.Detail == "" {
		t.Errorf("error = %+v", resp)
	}

	rec = env.admin(t, http.MethodGet, "/admin/api/exams?grade=10&variant=all", nil)
	var exams []model.Exam
	if err := json.NewDecoder(rec.Body).Decode(&exams); err != nil {
		t.Fatal(err)
	}
	if len(exams) != 1 || len(exams[0].Content.MCQ) != 2 {
		t.Fatalf("list = %+v", exams)
	}

	rec = env.admin(t, http.MethodDelete, "/admin/api/exams/"+ex.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = env.admin(t, http.MethodGet, "/admin/api/exams", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("list after delete = %s", rec.Body)
	}
	rec = env.admin(t, http.MethodPut, "/admin/api/exams/missing", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("update missing: status %d, want 404", rec.Code)
	}
}

func TestAdminImport(t *testing.T) {
	env := newTestEnv(t)
	file := `
grade: "11"
variant: B
sections_public:
  mcq:
    - q: "1+1?"
      options: {A: "1", B: "2", C: "3", D: "4"}
answer_key:
  mcqKey: {"1": "B"}
`
	upload := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("exams_file", "grade11.yaml")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(file))
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/admin/api/exams/import", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+testSecret)
		return env.do(req)
	}

	rec := upload()
	if rec.Code != http.StatusOK {
		t.Fatalf("import: status %d: %s", rec.Code, rec.Body)
	}
	var res seed.Result
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Created != 1 || res.Skipped {
		t.Errorf("first import = %+v", res)
	}

	rec = upload()
	json.NewDecoder(rec.Body).Decode(&res)
	if !res.Skipped {
		t.Errorf("second import = %+v, want skipped", res)
	}
}

func TestAttemptsAndExport(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t)

	rec := env.admin(t, http.MethodGet, "/admin/api/export", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty export: status %d, want 404", rec.Code)
	}

	id := env.start(t, "Bat")
	env.start(t, "Dorj")
	view := env.fetch(t, id)
	if rec := env.do(postForm("/submit", correctAnswers(t, view))); rec.Code != http.StatusSeeOther {
		t.Fatalf("submit: status %d", rec.Code)
	}

	rec = env.admin(t, http.MethodGet, "/admin/api/attempts?grade=all&dateFrom=2026-03-02&dateTo=2026-03-02", nil)
	var attempts []model.AttemptSummary
	if err := json.NewDecoder(rec.Body).Decode(&attempts); err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %+v", attempts)
	}
	rec = env.admin(t, http.MethodGet, "/admin/api/attempts?dateFrom=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status %d, want 400", rec.Code)
	}

	rec = env.admin(t, http.MethodGet, "/admin/api/export?grade=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "results_2026-03-02.xlsx") {
		t.Errorf("Content-Disposition = %q", got)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Grade 10")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	var bat []string
	for _, row := range rows[1:] {
		if row[1] == "Bat" {
			bat = row
		}
	}
	if bat == nil || bat[len(bat)-1] != "I" || bat[len(bat)-2] != "100" {
		t.Errorf("Bat's row = %v", bat)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.Validation("X", "x"), http.StatusBadRequest},
		{model.NotFound("X", "x"), http.StatusNotFound},
		{model.ContentIntegrity("X", "x"), http.StatusUnprocessableEntity},
		{model.Configuration("X", "x", nil), http.StatusServiceUnavailable},
		{model.Persistence("x", nil), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", model.NotFound("X", "x")), http.StatusNotFound},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSecretGate(t *testing.T) {
	long := strings.Repeat("x", 80)
	gate, err := NewSecretGate(long)
	if err != nil {
		t.Fatalf("NewSecretGate: %v", err)
	}
	if !gate.Verify(long) {
		t.Error("Verify(secret) = false")
	}
	if gate.Verify(long[:72] + "yyyyyyyy") {
		t.Error("secrets sharing the first 72 bytes must not match")
	}
	if gate.Verify("") {
		t.Error("Verify(\"\") = true")
	}
	if _, err := NewSecretGate(""); model.KindOf(err) != model.KindConfiguration {
		t.Errorf("NewSecretGate(\"\") error = %v", err)
	}
}
