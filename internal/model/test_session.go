package model

import (
	"fmt"
	"time"
)

// SessionStatus enumerates test session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusSubmitted  SessionStatus = "submitted"
	SessionStatusExpired    SessionStatus = "expired"
)

// IsTerminal reports whether no further mutation of the session is permitted.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusSubmitted || s == SessionStatusExpired || s == SessionStatusCompleted
}

// TestSession is one user's timed attempt at one test. SessionToken is the
// bearer credential for all session operations and must never be logged.
type TestSession struct {
	ID                   int           `json:"id"`
	TestID               int           `json:"test_id"`
	UserID               int           `json:"user_id"`
	SessionToken         string        `json:"session_token"`
	Status               SessionStatus `json:"status"`
	StartedAt            *time.Time    `json:"started_at,omitempty"`
	SubmittedAt          *time.Time    `json:"submitted_at,omitempty"`
	ExpiresAt            time.Time     `json:"expires_at"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// IsExpired reports whether the authoritative expiry has passed at now.
func (s *TestSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsActive reports whether the session accepts answers at now.
func (s *TestSession) IsActive(now time.Time) bool {
	return s.Status == SessionStatusInProgress && !s.IsExpired(now)
}

// RemainingSeconds returns whole seconds left at now, never negative.
func (s *TestSession) RemainingSeconds(now time.Time) int {
	if s.Status.IsTerminal() || s.IsExpired(now) {
		return 0
	}
	return int(s.ExpiresAt.Sub(now) / time.Second)
}

// String omits SessionToken.
func (s *TestSession) String() string {
	return fmt.Sprintf("TestSession{id=%d test=%d user=%d status=%s index=%d token=[redacted]}",
		s.ID, s.TestID, s.UserID, s.Status, s.CurrentQuestionIndex)
}

// SessionState is a TestSession plus the server-computed time left. It is the
// response of start/resume and of session lookups.
type SessionState struct {
	TestSession
	RemainingTimeSeconds int `json:"remaining_time_seconds"`
}

// StartSessionRequest is the payload for starting or resuming a session.
type StartSessionRequest struct {
	TestID int `json:"test_id" binding:"required,min=1"`
}

// UpdateProgressRequest records the last acknowledged question position.
type UpdateProgressRequest struct {
	CurrentQuestionIndex *int `json:"current_question_index" binding:"required,min=0"`
}

// LiveSession is a monitor row for an in-progress session.
type LiveSession struct {
	SessionID            int           `json:"session_id"`
	UserID               int           `json:"user_id"`
	Username             string        `json:"username"`
	FullName             string        `json:"full_name"`
	Status               SessionStatus `json:"status"`
	StartedAt            *time.Time    `json:"started_at,omitempty"`
	ExpiresAt            time.Time     `json:"expires_at"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	AnsweredCount        int64         `json:"answered_count"`
}
