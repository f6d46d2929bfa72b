package model

import (
	"time"
)

// Test is a timed exam definition. Immutable from the session's point of view.
type Test struct {
	ID              int        `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Instructions    string     `json:"instructions"`
	CreatedBy       int        `json:"created_by"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      int        `json:"total_marks"`
	PassingMarks    int        `json:"passing_marks"`
	IsActive        bool       `json:"is_active"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	QuestionCount   int        `json:"question_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Duration returns the allotted time for one attempt.
func (t *Test) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// DurationSeconds is Duration expressed in whole seconds.
func (t *Test) DurationSeconds() int {
	return int(t.Duration() / time.Second)
}

// IsAvailable reports whether the test can be started at now.
func (t *Test) IsAvailable(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.StartTime != nil && now.Before(*t.StartTime) {
		return false
	}
	if t.EndTime != nil && now.After(*t.EndTime) {
		return false
	}
	return true
}

// CreateTestRequest is the payload for creating a new test.
type CreateTestRequest struct {
	Title           string     `json:"title" binding:"required,min=3,max=255"`
	Description     string     `json:"description" binding:"omitempty,max=2000"`
	Instructions    string     `json:"instructions" binding:"omitempty,max=5000"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,min=1,max=480"`
	TotalMarks      int        `json:"total_marks" binding:"required,min=1"`
	PassingMarks    int        `json:"passing_marks" binding:"min=0,ltefield=TotalMarks"`
	StartTime       *time.Time `json:"start_time" binding:"omitempty"`
	EndTime         *time.Time `json:"end_time" binding:"omitempty,gtfield=StartTime"`
}

// UpdateTestRequest is the payload for updating an existing test.
type UpdateTestRequest struct {
	Title           string     `json:"title" binding:"omitempty,min=3,max=255"`
	Description     *string    `json:"description" binding:"omitempty,max=2000"`
	Instructions    *string    `json:"instructions" binding:"omitempty,max=5000"`
	DurationMinutes int        `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	TotalMarks      int        `json:"total_marks" binding:"omitempty,min=1"`
	PassingMarks    *int       `json:"passing_marks" binding:"omitempty,min=0"`
	StartTime       *time.Time `json:"start_time" binding:"omitempty"`
	EndTime         *time.Time `json:"end_time" binding:"omitempty"`
}
