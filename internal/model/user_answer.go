package model

import (
	"strings"
	"time"
)

// UserAnswer is the stored answer for one (session, question) pair.
// IsCorrect and MarksAwarded are server-side only while the session is active.
type UserAnswer struct {
	ID               int       `json:"id"`
	SessionID        int       `json:"session_id"`
	QuestionID       int       `json:"question_id"`
	AnswerText       *string   `json:"answer_text,omitempty"`
	SelectedOptionID *int      `json:"selected_option_id,omitempty"`
	IsCorrect        *bool     `json:"-"`
	MarksAwarded     int       `json:"-"`
	AnsweredAt       time.Time `json:"answered_at"`
}

// HasContent reports whether the answer counts as answered: a selected
// option, or text that is not blank. An explicit empty text is stored but
// does not count.
func (a *UserAnswer) HasContent() bool {
	if a == nil {
		return false
	}
	if a.SelectedOptionID != nil {
		return true
	}
	return a.AnswerText != nil && strings.TrimSpace(*a.AnswerText) != ""
}

// SubmitAnswerRequest is the autosave payload. SelectedOptionID is omitted
// for an unselected choice question; AnswerText is always sent for short answers.
type SubmitAnswerRequest struct {
	QuestionID       int     `json:"question_id" binding:"required,min=1"`
	AnswerText       *string `json:"answer_text,omitempty" binding:"omitempty,max=5000"`
	SelectedOptionID *int    `json:"selected_option_id,omitempty" binding:"omitempty,min=1"`
}
