package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-cbt/internal/model"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func choiceQuestion() *model.Question {
	return &model.Question{
		ID:           1,
		QuestionType: model.QuestionTypeMultipleChoice,
		Marks:        2,
		Options: []model.QuestionOption{
			{ID: 10, IsCorrect: false},
			{ID: 11, IsCorrect: true},
		},
	}
}

func shortQuestion(caseSensitive bool) *model.Question {
	return &model.Question{
		ID:           2,
		QuestionType: model.QuestionTypeShortAnswer,
		Marks:        3,
		AcceptedAnswers: []model.AcceptedAnswer{
			{AnswerText: "Paris", CaseSensitive: caseSensitive},
		},
	}
}

func TestGradeAnswer(t *testing.T) {
	tests := []struct {
		name      string
		question  *model.Question
		answer    model.UserAnswer
		wantErr   error
		wantOK    bool
		wantMarks int
	}{
		{"correct option", choiceQuestion(), model.UserAnswer{SelectedOptionID: intPtr(11)}, nil, true, 2},
		{"wrong option", choiceQuestion(), model.UserAnswer{SelectedOptionID: intPtr(10)}, nil, false, 0},
		{"no selection", choiceQuestion(), model.UserAnswer{}, nil, false, 0},
		{"foreign option", choiceQuestion(), model.UserAnswer{SelectedOptionID: intPtr(99)}, model.ErrInvalidAnswer, false, 0},
		{"short exact", shortQuestion(false), model.UserAnswer{AnswerText: strPtr("Paris")}, nil, true, 3},
		{"short case folded", shortQuestion(false), model.UserAnswer{AnswerText: strPtr("  pARIS ")}, nil, true, 3},
		{"short case sensitive miss", shortQuestion(true), model.UserAnswer{AnswerText: strPtr("paris")}, nil, false, 0},
		{"short empty", shortQuestion(false), model.UserAnswer{AnswerText: strPtr("")}, nil, false, 0},
		{"short with option", shortQuestion(false), model.UserAnswer{SelectedOptionID: intPtr(10)}, model.ErrInvalidAnswer, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.answer
			err := GradeAnswer(tt.question, &a)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if a.IsCorrect == nil || *a.IsCorrect != tt.wantOK {
				t.Errorf("IsCorrect = %v, want %v", a.IsCorrect, tt.wantOK)
			}
			if a.MarksAwarded != tt.wantMarks {
				t.Errorf("MarksAwarded = %d, want %d", a.MarksAwarded, tt.wantMarks)
			}
		})
	}
}

func TestCalculateResult(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Minute)
	test := &model.Test{ID: 7, TotalMarks: 10, PassingMarks: 5}
	session := &model.TestSession{ID: 3, UserID: 4, StartedAt: &start, SubmittedAt: &end}

	answers := []model.UserAnswer{
		{QuestionID: 1, SelectedOptionID: intPtr(11), IsCorrect: boolPtr(true), MarksAwarded: 4},
		{QuestionID: 2, AnswerText: strPtr("wrong"), IsCorrect: boolPtr(false)},
		{QuestionID: 3, AnswerText: strPtr("   "), IsCorrect: boolPtr(false)},
	}

	res := CalculateResult(test, session, 4, answers, end)

	if res.TotalQuestions != 4 {
		t.Errorf("TotalQuestions = %d, want 4", res.TotalQuestions)
	}
	// Blank text is stored but not counted as answered.
	if res.AnsweredQuestions != 2 {
		t.Errorf("AnsweredQuestions = %d, want 2", res.AnsweredQuestions)
	}
	if res.CorrectAnswers != 1 || res.MarksObtained != 4 {
		t.Errorf("correct/marks = %d/%d, want 1/4", res.CorrectAnswers, res.MarksObtained)
	}
	if res.Percentage != 40 || res.Grade != "D" {
		t.Errorf("percentage/grade = %v/%s, want 40/D", res.Percentage, res.Grade)
	}
	if res.IsPassed {
		t.Error("IsPassed = true, want false")
	}
	if res.TimeTakenSeconds == nil || *res.TimeTakenSeconds != 720 {
		t.Errorf("TimeTakenSeconds = %v, want 720", res.TimeTakenSeconds)
	}
}

func TestGradeFor(t *testing.T) {
	cases := map[float64]string{100: "A+", 90: "A+", 85: "A", 70: "B+", 65: "B", 50: "C", 40: "D", 39.99: "F", 0: "F"}
	for pct, want := range cases {
		if got := model.GradeFor(pct); got != want {
			t.Errorf("GradeFor(%v) = %s, want %s", pct, got, want)
		}
	}
}
