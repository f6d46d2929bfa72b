package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/session"
)

var _ session.Store = (*Client)(nil)

// APIError is a non-2xx reply from the API. It unwraps to the matching
// model error, so callers can use errors.Is(err, model.ErrSessionNotActive).
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d %s", e.Status, e.Code)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return model.ErrUnauthorized
	case e.Code == response.ErrSessionNotActive:
		return model.ErrSessionNotActive
	case e.Code == response.ErrTestNotAvailable:
		return model.ErrTestNotAvailable
	case e.Code == response.ErrInvalidAnswer:
		return model.ErrInvalidAnswer
	case e.Status == http.StatusNotFound:
		return model.ErrNotFound
	case e.Status == http.StatusForbidden:
		return model.ErrForbidden
	default:
		return nil
	}
}

// Client talks to the CBT REST API. Session tokens only ever appear in
// request paths and are never logged.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *Credentials
	log     zerolog.Logger
}

// New creates a client for cfg.APIURL with cfg.RequestTimeout per request.
func New(cfg *config.ClientConfig, creds *Credentials, log zerolog.Logger) *Client {
	return NewWithHTTPClient(cfg.APIURL, &http.Client{Timeout: cfg.RequestTimeout}, creds, log)
}

// NewWithHTTPClient creates a client using hc.
func NewWithHTTPClient(baseURL string, hc *http.Client, creds *Credentials, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    hc,
		creds:   creds,
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

// do sends one request. op names the call in logs in place of the path.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, withoutURL(err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = withoutURL(err)
		c.log.Debug().Err(err).Str("op", op).Msg("Request failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("API call")

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= 300 {
			return c.fail(resp.StatusCode, nil)
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}

	if resp.StatusCode >= 300 {
		return c.fail(resp.StatusCode, env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

func (c *Client) fail(status int, body *response.ErrorBody) error {
	apiErr := &APIError{Status: status}
	if body != nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		apiErr.Fields = body.Fields
	}
	if status == http.StatusUnauthorized {
		c.creds.Clear()
	}
	return apiErr
}

// withoutURL unwraps a *url.Error. Session paths carry the session token,
// so the URL must not reach error strings or logs.
func withoutURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

func sessionPath(token string, suffix string) string {
	return "/sessions/" + url.PathEscape(token) + suffix
}

// ─── Auth ──────────────────────────────────────────────────────────────

// Login authenticates and stores the returned token.
func (c *Client) Login(ctx context.Context, username, password string) (*model.User, error) {
	var res model.LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/auth/login",
		model.LoginRequest{Username: username, Password: password}, &res)
	if err != nil {
		return nil, err
	}
	c.creds.Set(res.Token, &res.User)
	return &res.User, nil
}

// Logout revokes the login on the server and clears local credentials even
// if the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.creds.Clear()
	return c.do(ctx, "logout", http.MethodPost, "/auth/logout", nil, nil)
}

// Me returns the logged-in user's profile.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, "me", http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ─── Tests ─────────────────────────────────────────────────────────────

// ListTests returns the tests available to the caller.
func (c *Client) ListTests(ctx context.Context) ([]model.Test, error) {
	var tests []model.Test
	if err := c.do(ctx, "list_tests", http.MethodGet, "/tests", nil, &tests); err != nil {
		return nil, err
	}
	return tests, nil
}

func (c *Client) GetTest(ctx context.Context, testID int) (*model.Test, error) {
	var t model.Test
	if err := c.do(ctx, "get_test", http.MethodGet, "/tests/"+strconv.Itoa(testID), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) GetQuestions(ctx context.Context, testID int) ([]model.QuestionForStudent, error) {
	var qs []model.QuestionForStudent
	path := "/tests/" + strconv.Itoa(testID) + "/questions"
	if err := c.do(ctx, "get_questions", http.MethodGet, path, nil, &qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// ─── Sessions ──────────────────────────────────────────────────────────

func (c *Client) StartSession(ctx context.Context, testID int) (*model.SessionState, error) {
	var st model.SessionState
	err := c.do(ctx, "start_session", http.MethodPost, "/sessions/start",
		model.StartSessionRequest{TestID: testID}, &st)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetSession returns the session and the server's remaining time.
func (c *Client) GetSession(ctx context.Context, token string) (*model.SessionState, error) {
	var st model.SessionState
	if err := c.do(ctx, "get_session", http.MethodGet, sessionPath(token, ""), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ListAnswers(ctx context.Context, token string) ([]model.UserAnswer, error) {
	var answers []model.UserAnswer
	if err := c.do(ctx, "list_answers", http.MethodGet, sessionPath(token, "/answers"), nil, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, token string, req model.SubmitAnswerRequest) (*model.UserAnswer, error) {
	var a model.UserAnswer
	if err := c.do(ctx, "submit_answer", http.MethodPost, sessionPath(token, "/answers"), req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) UpdateProgress(ctx context.Context, token string, index int) error {
	return c.do(ctx, "update_progress", http.MethodPut, sessionPath(token, "/progress"),
		model.UpdateProgressRequest{CurrentQuestionIndex: &index}, nil)
}

func (c *Client) SubmitSession(ctx context.Context, token string) (*model.TestSession, error) {
	var s model.TestSession
	if err := c.do(ctx, "submit_session", http.MethodPost, sessionPath(token, "/submit"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ─── Results ───────────────────────────────────────────────────────────

func (c *Client) GetResultBySession(ctx context.Context, sessionID int) (*model.TestResult, error) {
	var r model.TestResult
	path := "/results/session/" + strconv.Itoa(sessionID)
	if err := c.do(ctx, "get_result", http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MyResults returns the caller's results, newest first.
func (c *Client) MyResults(ctx context.Context) ([]model.TestResult, error) {
	var rs []model.TestResult
	if err := c.do(ctx, "my_results", http.MethodGet, "/results/my", nil, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}
