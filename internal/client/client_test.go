package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
)

const testToken = "8d2f1e0c9b8a7f6e5d4c3b2a1908f7e6d5c4b3a2918070f6e5d4c3b2a1908f7e"

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response.Response{Data: data})
}

func writeFail(w http.ResponseWriter, status int, code response.ErrCode) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response.Response{
		Error: &response.ErrorBody{Code: code, Message: response.GetMessage(code)},
	})
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *Credentials) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	creds := NewCredentials()
	c := NewWithHTTPClient(srv.URL+"/api/v1", &http.Client{Timeout: 2 * time.Second}, creds, zerolog.Nop())
	return c, creds
}

func TestLoginStoresCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req model.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username != "alice" {
			writeFail(w, http.StatusBadRequest, response.ErrValidation)
			return
		}
		writeData(w, http.StatusOK, model.LoginResponse{Token: "jwt-1", User: model.User{ID: 3, Username: "alice"}})
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer jwt-1" {
			writeFail(w, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		writeData(w, http.StatusOK, model.User{ID: 3, Username: "alice"})
	})
	c, creds := newTestClient(t, mux)
	ctx := context.Background()

	user, err := c.Login(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != 3 || creds.Token() != "jwt-1" || creds.User().Username != "alice" {
		t.Fatalf("credentials not stored: user=%+v token=%q", user, creds.Token())
	}

	me, err := c.Me(ctx)
	if err != nil || me.ID != 3 {
		t.Fatalf("Me = %+v, %v", me, err)
	}
}

func TestUnauthorizedClearsCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tests/5", func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusUnauthorized, response.ErrTokenExpired)
	})
	c, creds := newTestClient(t, mux)
	creds.Set("stale", &model.User{ID: 1})

	_, err := c.GetTest(context.Background(), 5)
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("GetTest = %v, want ErrUnauthorized", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != response.ErrTokenExpired {
		t.Fatalf("error = %#v", err)
	}
	if creds.Valid() || creds.User() != nil {
		t.Fatal("credentials should be cleared on 401")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   response.ErrCode
		want   error
	}{
		{name: "session not active", status: http.StatusConflict, code: response.ErrSessionNotActive, want: model.ErrSessionNotActive},
		{name: "not found", status: http.StatusNotFound, code: response.ErrNotFound, want: model.ErrNotFound},
		{name: "test not available", status: http.StatusForbidden, code: response.ErrTestNotAvailable, want: model.ErrTestNotAvailable},
		{name: "invalid answer", status: http.StatusUnprocessableEntity, code: response.ErrInvalidAnswer, want: model.ErrInvalidAnswer},
		{name: "forbidden", status: http.StatusForbidden, code: response.ErrForbidden, want: model.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /api/v1/sessions/{token}/answers", func(w http.ResponseWriter, r *http.Request) {
				writeFail(w, tt.status, tt.code)
			})
			c, creds := newTestClient(t, mux)
			creds.Set("jwt", nil)

			_, err := c.SubmitAnswer(context.Background(), testToken, model.SubmitAnswerRequest{QuestionID: 1})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !creds.Valid() {
				t.Fatal("only a 401 may clear credentials")
			}
		})
	}
}

func TestServerErrorHasNoSentinel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions/{token}/submit", func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusInternalServerError, response.ErrInternal)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.SubmitSession(context.Background(), testToken)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, model.ErrSessionNotActive) || errors.Is(err, model.ErrNotFound) {
		t.Fatal("500 must not map to a domain error")
	}
}

func TestSessionCalls(t *testing.T) {
	var gotProgress *int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions/start", func(w http.ResponseWriter, r *http.Request) {
		var req model.StartSessionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeData(w, http.StatusCreated, model.SessionState{
			TestSession: model.TestSession{
				ID: 9, TestID: req.TestID, SessionToken: testToken,
				Status: model.SessionStatusInProgress, CurrentQuestionIndex: 1,
			},
			RemainingTimeSeconds: 120,
		})
	})
	mux.HandleFunc("POST /api/v1/sessions/{token}/answers", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("token") != testToken {
			writeFail(w, http.StatusNotFound, response.ErrNotFound)
			return
		}
		var req model.SubmitAnswerRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeData(w, http.StatusOK, model.UserAnswer{ID: 1, SessionID: 9, QuestionID: req.QuestionID, AnswerText: req.AnswerText})
	})
	mux.HandleFunc("PUT /api/v1/sessions/{token}/progress", func(w http.ResponseWriter, r *http.Request) {
		var req model.UpdateProgressRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotProgress = req.CurrentQuestionIndex
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/sessions/{token}/submit", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, model.TestSession{ID: 9, Status: model.SessionStatusSubmitted})
	})
	mux.HandleFunc("GET /api/v1/results/session/9", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, model.TestResult{SessionID: 9, Grade: "A", Percentage: 85})
	})
	c, creds := newTestClient(t, mux)
	creds.Set("jwt", nil)
	ctx := context.Background()

	st, err := c.StartSession(ctx, 4)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if st.TestID != 4 || st.RemainingTimeSeconds != 120 || st.CurrentQuestionIndex != 1 {
		t.Fatalf("session = %+v", st)
	}

	text := "Paris"
	a, err := c.SubmitAnswer(ctx, st.SessionToken, model.SubmitAnswerRequest{QuestionID: 2, AnswerText: &text})
	if err != nil || a.AnswerText == nil || *a.AnswerText != "Paris" {
		t.Fatalf("SubmitAnswer = %+v, %v", a, err)
	}

	if err := c.UpdateProgress(ctx, st.SessionToken, 2); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if gotProgress == nil || *gotProgress != 2 {
		t.Fatalf("progress payload = %v", gotProgress)
	}

	s, err := c.SubmitSession(ctx, st.SessionToken)
	if err != nil || s.Status != model.SessionStatusSubmitted {
		t.Fatalf("SubmitSession = %+v, %v", s, err)
	}

	res, err := c.GetResultBySession(ctx, s.ID)
	if err != nil || res.Grade != "A" {
		t.Fatalf("GetResultBySession = %+v, %v", res, err)
	}
}

func TestLogoutClearsEvenOnFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusInternalServerError, response.ErrInternal)
	})
	c, creds := newTestClient(t, mux)
	creds.Set("jwt", &model.User{ID: 1})

	if err := c.Logout(context.Background()); err == nil {
		t.Fatal("expected server error")
	}
	if creds.Valid() {
		t.Fatal("logout must clear credentials")
	}
}

func TestTransportErrorsOmitSessionToken(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tests := []struct {
		name    string
		baseURL string
	}{
		{"connection refused", closed.URL + "/api/v1"},
		{"malformed base URL", "http://127.0.0.1:1/\x7f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			log := zerolog.New(&logs).Level(zerolog.DebugLevel)
			c := NewWithHTTPClient(tt.baseURL, &http.Client{Timeout: time.Second}, NewCredentials(), log)

			_, err := c.SubmitAnswer(context.Background(), testToken, model.SubmitAnswerRequest{QuestionID: 1})
			if err == nil {
				t.Fatal("expected an error")
			}
			if strings.Contains(err.Error(), testToken) {
				t.Errorf("error carries the session token: %v", err)
			}
			if strings.Contains(logs.String(), testToken) {
				t.Errorf("logs carry the session token: %s", logs.String())
			}
		})
	}
}

func TestTransportErrorKeepsCause(t *testing.T) {
	mux := http.NewServeMux()
	c, _ := newTestClient(t, mux)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.UpdateProgress(ctx, testToken, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("UpdateProgress = %v, want context.Canceled", err)
	}
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("error carries the session token: %v", err)
	}
}
