// Package client talks to the exam API on behalf of a student. It implements
// session.Backend so a terminal or test harness can drive an attempt.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Code == response.ErrSubmissionInProgress || e.Code == response.ErrRateLimitExceeded
}

// Client is safe for concurrent use once logged in.
type Client struct {
	baseURL    string
	http       *http.Client
	token      string
	deviceInfo string
}

// New creates a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// WithToken returns a copy that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// SetDeviceInfo sets the device description sent with submissions.
func (c *Client) SetDeviceInfo(info string) { c.deviceInfo = info }

// Token returns the bearer token in use.
func (c *Client) Token() string { return c.token }

// Login authenticates and keeps the token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var out model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", model.LoginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// Logout ends the current session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
}

// ListExams returns the caller's lobby.
func (c *Client) ListExams(ctx context.Context) ([]model.LobbyExam, error) {
	var out struct {
		Exams []model.LobbyExam `json:"exams"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/exams", nil, &out); err != nil {
		return nil, err
	}
	return out.Exams, nil
}

// ─── session.Backend ─────────────────────────────────────────

func (c *Client) StartAttempt(ctx context.Context, examID uuid.UUID) (*model.AttemptSession, error) {
	var out struct {
		Session model.AttemptSession `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/exams/"+examID.String()+"/attempts", nil, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

func (c *Client) SaveAnswer(ctx context.Context, attemptID uuid.UUID, slot int, option *int) error {
	path := "/api/v1/attempts/" + attemptID.String() + "/answers/" + strconv.Itoa(slot)
	return c.do(ctx, http.MethodPut, path, model.CheckpointRequest{SelectedOption: option}, nil)
}

func (c *Client) ReportViolation(ctx context.Context, attemptID uuid.UUID, kind model.ViolationKind) (*model.ViolationStatus, error) {
	var out model.ViolationStatus
	path := "/api/v1/attempts/" + attemptID.String() + "/violations"
	if err := c.do(ctx, http.MethodPost, path, model.ViolationRequest{Kind: kind}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Submit(ctx context.Context, attemptID uuid.UUID, req *model.SubmitRequest) (*model.SubmitResult, error) {
	body := *req
	if body.DeviceInfo == "" {
		body.DeviceInfo = c.deviceInfo
	}
	var out struct {
		Result model.SubmitResult `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/attempts/"+attemptID.String()+"/submit", body, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// ─── Transport ───────────────────────────────────────────────

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Code: response.ErrInternal}
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: response.ErrInternal}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
