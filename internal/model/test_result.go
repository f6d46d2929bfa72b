package model

import "time"

// TestResult is the graded outcome of a terminal session.
type TestResult struct {
	ID                int       `json:"id"`
	SessionID         int       `json:"session_id"`
	TestID            int       `json:"test_id"`
	UserID            int       `json:"user_id"`
	TotalQuestions    int       `json:"total_questions"`
	AnsweredQuestions int       `json:"answered_questions"`
	CorrectAnswers    int       `json:"correct_answers"`
	TotalMarks        int       `json:"total_marks"`
	MarksObtained     int       `json:"marks_obtained"`
	Percentage        float64   `json:"percentage"`
	Grade             string    `json:"grade"`
	IsPassed          bool      `json:"is_passed"`
	TimeTakenSeconds  *int      `json:"time_taken_seconds,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
}

// GradeFor maps a percentage onto the letter grade scale.
func GradeFor(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 80:
		return "A"
	case percentage >= 70:
		return "B+"
	case percentage >= 60:
		return "B"
	case percentage >= 50:
		return "C"
	case percentage >= 40:
		return "D"
	default:
		return "F"
	}
}

// TestStatistics aggregates results for one test.
type TestStatistics struct {
	TestID                  int     `json:"test_id"`
	TotalAttempts           int     `json:"total_attempts"`
	CompletedAttempts       int     `json:"completed_attempts"`
	PassedAttempts          int     `json:"passed_attempts"`
	AverageScore            float64 `json:"average_score"`
	HighestScore            float64 `json:"highest_score"`
	LowestScore             float64 `json:"lowest_score"`
	AverageTimeTakenSeconds int     `json:"average_time_taken_seconds"`
}
