package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAPI answers the student routes with canned envelopes.
type fakeAPI struct {
	mu          sync.Mutex
	attemptID   uuid.UUID
	saved       map[int]*int
	submits     int
	failSubmits int
	lastSubmit  model.SubmitRequest
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	r := gin.New()
	r.POST("/api/v1/auth/login", func(c *gin.Context) {
		var req model.LoginRequest
		_ = c.ShouldBindJSON(&req)
		if req.Password != "secret123" {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		response.Success(c, http.StatusOK, model.LoginResponse{Token: "tok", User: model.User{ID: 7, Email: req.Email}})
	})

	authed := r.Group("/api/v1", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer tok" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		}
	})
	authed.POST("/exams/:id/attempts", func(c *gin.Context) {
		paper := model.ExamPaper{ExamID: uuid.MustParse(c.Param("id"))}
		for i := 0; i < 2; i++ {
			paper.Questions = append(paper.Questions, model.QuestionForStudent{
				Position: i,
				Type:     model.QuestionTypeMultipleChoice,
				Points:   1,
				Options:  []model.OptionForStudent{{Text: "a"}, {Text: "b"}},
			})
		}
		response.Success(c, http.StatusCreated, gin.H{"session": model.AttemptSession{
			AttemptID:          f.attemptID,
			Paper:              paper,
			DurationSeconds:    600,
			RemainingSeconds:   600,
			ViolationThreshold: 3,
			Answers:            make([]*int, 2),
		}})
	})
	authed.PUT("/attempts/:id/answers/:slot", func(c *gin.Context) {
		var req model.CheckpointRequest
		_ = c.ShouldBindJSON(&req)
		slot, _ := strconv.Atoi(c.Param("slot"))
		f.mu.Lock()
		f.saved[slot] = req.SelectedOption
		f.mu.Unlock()
		response.Success(c, http.StatusOK, gin.H{})
	})
	authed.POST("/attempts/:id/submit", func(c *gin.Context) {
		var req model.SubmitRequest
		_ = c.ShouldBindJSON(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.submits++
		f.lastSubmit = req
		if f.submits <= f.failSubmits {
			response.Fail(c, http.StatusServiceUnavailable, response.ErrSubmissionFailed)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"result": model.SubmitResult{Score: 1, TotalMarks: 2, Percentage: 50, Passed: true}})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newFake() *fakeAPI {
	return &fakeAPI{attemptID: uuid.New(), saved: make(map[int]*int)}
}

func TestLoginErrorsDecodeEnvelope(t *testing.T) {
	srv := newFake().server(t)
	c := New(srv.URL, nil)

	_, err := c.Login(context.Background(), "s@school.test", "wrong-pass")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != response.ErrInvalidCredentials || apiErr.Retryable() {
		t.Errorf("apiErr = %+v", apiErr)
	}

	if _, err := c.StartAttempt(context.Background(), uuid.New()); !errors.As(err, &apiErr) || apiErr.Code != response.ErrTokenRequired {
		t.Errorf("unauthenticated start err = %v", err)
	}
}

func TestSubmitFailureIsRetryable(t *testing.T) {
	fake := newFake()
	fake.failSubmits = 1
	srv := fake.server(t)
	c := New(srv.URL, nil)
	if _, err := c.Login(context.Background(), "s@school.test", "secret123"); err != nil {
		t.Fatal(err)
	}
	c.SetDeviceInfo("examctl/test")

	_, err := c.Submit(context.Background(), fake.attemptID, &model.SubmitRequest{Answers: []*int{nil, nil}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Retryable() || apiErr.Code != response.ErrSubmissionFailed {
		t.Fatalf("first submit err = %v, want retryable SUBMISSION_FAILED", err)
	}

	res, err := c.Submit(context.Background(), fake.attemptID, &model.SubmitRequest{Answers: []*int{nil, nil}})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Percentage != 50 || fake.lastSubmit.DeviceInfo != "examctl/test" {
		t.Errorf("result = %+v, device = %q", res, fake.lastSubmit.DeviceInfo)
	}
}

func TestRunnerDrivesAttemptThroughClient(t *testing.T) {
	fake := newFake()
	srv := fake.server(t)
	c := New(srv.URL, nil)
	if _, err := c.Login(context.Background(), "s@school.test", "secret123"); err != nil {
		t.Fatal(err)
	}

	views := make(chan session.View, 64)
	runner := session.NewRunner(c, uuid.New(),
		session.WithTicks(make(chan time.Time)),
		session.WithObserver(func(v session.View) { views <- v }),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		res *model.SubmitResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := runner.Run(ctx)
		done <- outcome{res, err}
	}()

	for v := range views {
		if v.State == session.StateActive {
			break
		}
	}
	runner.Select(1)
	runner.RequestSubmit()
	runner.ConfirmSubmit()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		t.Fatal("runner did not finish")
	}
	if out.err != nil || out.res == nil || !out.res.Passed {
		t.Fatalf("Run = %+v, %v", out.res, out.err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.submits != 1 || len(fake.lastSubmit.Answers) != 2 || fake.lastSubmit.Answers[0] == nil || *fake.lastSubmit.Answers[0] != 1 {
		t.Errorf("submitted %+v", fake.lastSubmit)
	}
}
