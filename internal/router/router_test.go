package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/handler"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository/memory"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stemsi/exstem-exam/internal/validator"
)

const password = "secret123"

type testApp struct {
	engine   *gin.Engine
	exam     *model.Exam
	attempts *memory.AttemptStore
	users    map[string]*model.User
	tokens   map[string]string
}

type envelope struct {
	Data       json.RawMessage      `json:"data"`
	Error      *response.ErrorBody  `json:"error"`
	Pagination *response.Pagination `json:"pagination"`
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	validator.Setup()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		GinMode:            gin.TestMode,
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		BcryptCost:         4,
		ViolationThreshold: 3,
		SubmitGrace:        time.Minute,
		SubmitLockTTL:      30 * time.Second,
		CheckpointTTL:      time.Hour,
		LoginMaxAttempts:   5,
		LoginLockout:       time.Minute,
		AuthRateLimit:      100,
	}
	log := zerolog.Nop()

	exams := memory.NewExamStore()
	attempts := memory.NewAttemptStore()
	reports := memory.NewReportStore(attempts)
	users := memory.NewUserStore()

	authService := service.NewAuthService(users, cfg, rdb, log)
	examService := service.NewExamService(exams, attempts, rdb, log)
	attemptService := service.NewAttemptService(examService, attempts, reports, rdb, cfg, log)
	reportService := service.NewReportService(reports, exams, log)
	monitorService := service.NewMonitorService(memory.NewMonitorStore(attempts), reportService, rdb)

	engine := SetupRouter(authService, rdb, &Handlers{
		Auth:      handler.NewAuthHandler(authService, log),
		Exam:      handler.NewExamHandler(examService, attemptService, log),
		Attempt:   handler.NewAttemptHandler(attemptService, log),
		Report:    handler.NewReportHandler(reportService, log),
		StaffExam: handler.NewStaffExamHandler(examService, reportService, log),
		Monitor:   handler.NewMonitorHandler(monitorService, log),
		WS:        handler.NewWSHandler(attemptService, log, nil),
		Health:    handler.NewHealthHandler(nil, rdb, log),
	}, cfg)

	app := &testApp{
		engine:   engine,
		attempts: attempts,
		users:    make(map[string]*model.User),
		tokens:   make(map[string]string),
	}

	ctx := context.Background()
	for _, u := range []struct {
		key  string
		role model.Role
	}{
		{"teacher", model.RoleTeacher},
		{"other", model.RoleTeacher},
		{"student", model.RoleStudent},
	} {
		user, err := authService.CreateUser(ctx, u.key+"@school.test", "User "+u.key, password, u.role)
		if err != nil {
			t.Fatalf("CreateUser %s: %v", u.key, err)
		}
		app.users[u.key] = user
	}

	now := time.Now()
	app.exam = &model.Exam{
		Title:           "Chemistry quiz",
		Subject:         "Chemistry",
		DurationMinutes: 10,
		TotalMarks:      5,
		PassingMarks:    3,
		StartDate:       now.Add(-time.Hour),
		EndDate:         now.Add(time.Hour),
		IsActive:        true,
		MaxAttempts:     1,
		AuthorID:        app.users["teacher"].ID,
	}
	for i := 0; i < 5; i++ {
		app.exam.Questions = append(app.exam.Questions, model.Question{
			Position: i,
			Prompt:   "question",
			Type:     model.QuestionTypeMultipleChoice,
			Points:   1,
			Options:  []model.Option{{Text: "right", IsCorrect: true}, {Text: "wrong"}},
		})
	}
	if err := exams.Create(ctx, app.exam); err != nil {
		t.Fatalf("create exam: %v", err)
	}

	for key := range app.users {
		rec := app.do(t, http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: key + "@school.test", Password: password})
		var login model.LoginResponse
		app.decode(t, rec, http.StatusOK, &login)
		app.tokens[key] = login.Token
	}
	return app
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

// decode checks the status and unmarshals the envelope's data into dst.
func (a *testApp) decode(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, dst any) *envelope {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, wantStatus, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if dst != nil {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return &env
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code response.ErrCode) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, status, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("error = %+v, want %s", env.Error, code)
	}
}

func intp(v int) *int { return &v }

func TestHealthReportsQueues(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["redis"] != "up" || body["postgres"] != "disabled" {
		t.Errorf("health = %v", body)
	}
	if _, ok := body["queue_checkpoints"]; !ok {
		t.Error("missing queue depth")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)

	wantError(t, app.do(t, http.MethodGet, "/api/v1/exams", "", nil), http.StatusUnauthorized, response.ErrTokenRequired)
	wantError(t, app.do(t, http.MethodGet, "/api/v1/staff/exams", app.tokens["student"], nil), http.StatusForbidden, response.ErrStaffAccessOnly)
}

func TestStudentAttemptOverREST(t *testing.T) {
	app := newTestApp(t)
	token := app.tokens["student"]
	examPath := "/api/v1/exams/" + app.exam.ID.String()

	var lobby struct {
		Exams []model.LobbyExam `json:"exams"`
	}
	app.decode(t, app.do(t, http.MethodGet, "/api/v1/exams", token, nil), http.StatusOK, &lobby)
	if len(lobby.Exams) != 1 || lobby.Exams[0].AttemptsRemaining != 1 {
		t.Fatalf("lobby = %+v", lobby.Exams)
	}

	paper := app.do(t, http.MethodGet, examPath, token, nil)
	if paper.Code != http.StatusOK || strings.Contains(paper.Body.String(), "is_correct") {
		t.Fatalf("paper leaks the answer key or failed: %d %s", paper.Code, paper.Body.String())
	}

	rec := app.do(t, http.MethodPost, examPath+"/attempts", token, nil)
	if strings.Contains(rec.Body.String(), "is_correct") {
		t.Fatal("session leaks the answer key")
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	var started struct {
		Session model.AttemptSession `json:"session"`
	}
	app.decode(t, rec, http.StatusCreated, &started)
	attemptPath := "/api/v1/attempts/" + started.Session.AttemptID.String()

	var resumed struct {
		Session model.AttemptSession `json:"session"`
	}
	app.decode(t, app.do(t, http.MethodPost, examPath+"/attempts", token, nil), http.StatusOK, &resumed)
	if !resumed.Session.Resumed || resumed.Session.AttemptID != started.Session.AttemptID {
		t.Fatalf("second start = %+v, want a resume", resumed.Session)
	}

	app.decode(t, app.do(t, http.MethodPut, attemptPath+"/answers/0", token, model.CheckpointRequest{SelectedOption: intp(0)}), http.StatusOK, nil)
	wantError(t, app.do(t, http.MethodPut, attemptPath+"/answers/9", token, model.CheckpointRequest{SelectedOption: intp(0)}), http.StatusUnprocessableEntity, response.ErrIndexOutOfRange)
	wantError(t, app.do(t, http.MethodPut, attemptPath+"/answers/1", token, model.CheckpointRequest{SelectedOption: intp(5)}), http.StatusUnprocessableEntity, response.ErrIndexOutOfRange)

	var status model.ViolationStatus
	app.decode(t, app.do(t, http.MethodPost, attemptPath+"/violations", token, model.ViolationRequest{Kind: model.ViolationWindowBlur}), http.StatusOK, &status)
	if status.Count != 1 || status.ThresholdReached {
		t.Errorf("violation status = %+v", status)
	}
	wantError(t, app.do(t, http.MethodPost, attemptPath+"/violations", token, map[string]string{"kind": "SCREENSHOT"}), http.StatusBadRequest, response.ErrValidation)

	submit := model.SubmitRequest{Answers: []*int{intp(0), intp(0), intp(0), nil, intp(1)}, ElapsedSeconds: 120}
	var result struct {
		Result model.SubmitResult `json:"result"`
	}
	app.decode(t, app.do(t, http.MethodPost, attemptPath+"/submit", token, submit), http.StatusOK, &result)
	if result.Result.Score != 3 || result.Result.Percentage != 60 || !result.Result.Passed {
		t.Fatalf("result = %+v, want 3/5 passed", result.Result)
	}

	var again struct {
		Result model.SubmitResult `json:"result"`
	}
	app.decode(t, app.do(t, http.MethodPost, attemptPath+"/submit", token, submit), http.StatusOK, &again)
	if again.Result.ReportID != result.Result.ReportID {
		t.Errorf("repeat submit created report %s, want %s", again.Result.ReportID, result.Result.ReportID)
	}

	wantError(t, app.do(t, http.MethodPost, examPath+"/attempts", token, nil), http.StatusConflict, response.ErrAttemptsExhausted)

	var mine struct {
		Reports []model.Report `json:"reports"`
	}
	app.decode(t, app.do(t, http.MethodGet, "/api/v1/reports", token, nil), http.StatusOK, &mine)
	if len(mine.Reports) != 1 || mine.Reports[0].IPAddress == "" {
		t.Fatalf("reports = %+v", mine.Reports)
	}
	reportPath := "/api/v1/reports/" + mine.Reports[0].ID.String()
	app.decode(t, app.do(t, http.MethodGet, reportPath, app.tokens["teacher"], nil), http.StatusOK, nil)
}

func TestStaffExamAuthoring(t *testing.T) {
	app := newTestApp(t)
	teacher := app.tokens["teacher"]
	now := time.Now().UTC()

	invalid := model.CreateExamRequest{
		Title:           "Physics",
		Subject:         "Physics",
		DurationMinutes: 30,
		TotalMarks:      10,
		PassingMarks:    5,
		StartDate:       now,
		EndDate:         now.Add(time.Hour),
		Questions: []model.QuestionInput{{
			Prompt:  "g?",
			Type:    model.QuestionTypeMultipleChoice,
			Points:  2,
			Options: []model.OptionInput{{Text: "9.8", IsCorrect: true}, {Text: "3.1"}},
		}},
	}
	rec := app.do(t, http.MethodPost, "/api/v1/staff/exams", teacher, invalid)
	wantError(t, rec, http.StatusUnprocessableEntity, response.ErrValidation)

	valid := invalid
	valid.TotalMarks = 2
	valid.PassingMarks = 1
	var created struct {
		Exam model.Exam `json:"exam"`
	}
	app.decode(t, app.do(t, http.MethodPost, "/api/v1/staff/exams", teacher, valid), http.StatusCreated, &created)
	if created.Exam.AuthorID != app.users["teacher"].ID || len(created.Exam.Questions) != 1 {
		t.Fatalf("created = %+v", created.Exam)
	}
	staffPath := "/api/v1/staff/exams/" + created.Exam.ID.String()

	full := app.do(t, http.MethodGet, staffPath, teacher, nil)
	if !strings.Contains(full.Body.String(), "is_correct") {
		t.Error("staff view should carry the answer key")
	}

	wantError(t, app.do(t, http.MethodDelete, staffPath, app.tokens["other"], nil), http.StatusForbidden, response.ErrNotExamAuthor)

	var list struct {
		Exams []model.Exam `json:"exams"`
	}
	env := app.decode(t, app.do(t, http.MethodGet, "/api/v1/staff/exams", teacher, nil), http.StatusOK, &list)
	if len(list.Exams) != 2 || env.Pagination == nil || env.Pagination.TotalItems != 2 {
		t.Fatalf("staff list = %d exams, pagination %+v", len(list.Exams), env.Pagination)
	}

	app.decode(t, app.do(t, http.MethodDelete, staffPath, teacher, nil), http.StatusOK, nil)
	wantError(t, app.do(t, http.MethodGet, staffPath, teacher, nil), http.StatusNotFound, response.ErrNotFound)
	wantError(t, app.do(t, http.MethodGet, "/api/v1/staff/exams/not-a-uuid", teacher, nil), http.StatusBadRequest, response.ErrInvalidID)
}

func TestAttemptOverWebSocket(t *testing.T) {
	app := newTestApp(t)
	token := app.tokens["student"]

	var started struct {
		Session model.AttemptSession `json:"session"`
	}
	app.decode(t, app.do(t, http.MethodPost, "/api/v1/exams/"+app.exam.ID.String()+"/attempts", token, nil), http.StatusCreated, &started)

	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/attempts/" + started.Session.AttemptID.String() + "/stream?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() map[string]any {
		t.Helper()
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if msg := read(); msg["event"] != "ready" || msg["remaining_seconds"].(float64) <= 0 {
		t.Fatalf("first message = %v", msg)
	}

	conn.WriteJSON(map[string]any{"action": "autosave", "slot": 2, "selected_option": 0})
	if msg := read(); msg["event"] != "saved" || msg["slot"].(float64) != 2 {
		t.Fatalf("autosave reply = %v", msg)
	}

	conn.WriteJSON(map[string]any{"action": "autosave", "slot": 7, "selected_option": 0})
	if msg := read(); msg["event"] != "error" || msg["code"] != string(response.ErrIndexOutOfRange) {
		t.Fatalf("out-of-range reply = %v", msg)
	}

	conn.WriteJSON(map[string]any{"action": "violation", "kind": "FULLSCREEN_EXIT"})
	if msg := read(); msg["event"] != "violation" || msg["count"].(float64) != 1 {
		t.Fatalf("violation reply = %v", msg)
	}

	conn.WriteJSON(map[string]any{"action": "ping"})
	if msg := read(); msg["event"] != "pong" {
		t.Fatalf("ping reply = %v", msg)
	}

	conn.WriteJSON(map[string]any{"action": "submit", "answers": []any{0}, "reason": "CLIENT_DECIDED_TO_STOP"})
	if msg := read(); msg["event"] != "error" || msg["code"] != string(response.ErrValidation) {
		t.Fatalf("bad reason reply = %v", msg)
	}
	conn.WriteJSON(map[string]any{"action": "submit", "elapsed_seconds": 30})
	if msg := read(); msg["event"] != "error" || msg["code"] != string(response.ErrValidation) {
		t.Fatalf("missing answers reply = %v", msg)
	}

	conn.WriteJSON(map[string]any{"action": "submit", "answers": []any{0, 0, 0, 0, 0}, "elapsed_seconds": 30,
		"device_info": strings.Repeat("a", 511) + "é"})
	msg := read()
	if msg["event"] != "submitted" {
		t.Fatalf("submit reply = %v", msg)
	}
	result := msg["result"].(map[string]any)
	if result["score"].(float64) != 5 || result["passed"] != true {
		t.Fatalf("result = %v", result)
	}

	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("stream should close after submit")
	}
}

func TestMonitorStreamsSnapshot(t *testing.T) {
	app := newTestApp(t)

	app.decode(t, app.do(t, http.MethodPost, "/api/v1/exams/"+app.exam.ID.String()+"/attempts", app.tokens["student"], nil), http.StatusCreated, nil)

	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/staff/exams/"+app.exam.ID.String()+"/monitor", nil)
	req.Header.Set("Authorization", "Bearer "+app.tokens["teacher"])
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before snapshot: %v", err)
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev struct {
			Type string               `json:"type"`
			Data service.ExamProgress `json:"data"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &ev); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if ev.Type != "snapshot" || len(ev.Data.Live) != 1 || ev.Data.Live[0].UserID != app.users["student"].ID {
			t.Fatalf("snapshot = %+v", ev)
		}
		return
	}
}

func TestMonitorRejectsOtherTeacher(t *testing.T) {
	app := newTestApp(t)
	path := "/api/v1/staff/exams/" + app.exam.ID.String() + "/monitor"
	wantError(t, app.do(t, http.MethodGet, path, app.tokens["other"], nil), http.StatusForbidden, response.ErrNotExamAuthor)
	wantError(t, app.do(t, http.MethodGet, "/api/v1/staff/exams/"+uuid.NewString()+"/stats", app.tokens["teacher"], nil), http.StatusNotFound, response.ErrNotFound)
}
