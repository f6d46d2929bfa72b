package service

import (
	"math"
	"strings"
	"time"

	"github.com/stemsi/exstem-cbt/internal/model"
)

// GradeAnswer validates a against q and fills in IsCorrect and MarksAwarded.
// A selected option must belong to q; short-answer questions take no option.
func GradeAnswer(q *model.Question, a *model.UserAnswer) error {
	correct := false

	switch {
	case q.QuestionType.HasOptions():
		if a.SelectedOptionID != nil {
			found := false
			for _, o := range q.Options {
				if o.ID == *a.SelectedOptionID {
					found = true
					correct = o.IsCorrect
					break
				}
			}
			if !found {
				return model.ErrInvalidAnswer
			}
		}
	case q.QuestionType == model.QuestionTypeShortAnswer:
		if a.SelectedOptionID != nil {
			return model.ErrInvalidAnswer
		}
		if a.AnswerText != nil {
			correct = matchesAccepted(*a.AnswerText, q.AcceptedAnswers)
		}
	default:
		return model.ErrInvalidAnswer
	}

	a.IsCorrect = &correct
	a.MarksAwarded = 0
	if correct {
		a.MarksAwarded = q.Marks
	}
	return nil
}

func matchesAccepted(text string, accepted []model.AcceptedAnswer) bool {
	given := strings.TrimSpace(text)
	if given == "" {
		return false
	}
	for _, acc := range accepted {
		want := strings.TrimSpace(acc.AnswerText)
		if acc.CaseSensitive {
			if given == want {
				return true
			}
			continue
		}
		if strings.EqualFold(given, want) {
			return true
		}
	}
	return false
}

// CalculateResult grades a terminal session from its stored answers.
// Percentage is relative to the test's declared total marks.
func CalculateResult(test *model.Test, session *model.TestSession, totalQuestions int, answers []model.UserAnswer, completedAt time.Time) *model.TestResult {
	res := &model.TestResult{
		SessionID:      session.ID,
		TestID:         test.ID,
		UserID:         session.UserID,
		TotalQuestions: totalQuestions,
		TotalMarks:     test.TotalMarks,
		CompletedAt:    completedAt,
	}

	for i := range answers {
		a := &answers[i]
		if a.HasContent() {
			res.AnsweredQuestions++
		}
		if a.IsCorrect != nil && *a.IsCorrect {
			res.CorrectAnswers++
		}
		res.MarksObtained += a.MarksAwarded
	}

	if test.TotalMarks > 0 {
		pct := float64(res.MarksObtained) / float64(test.TotalMarks) * 100
		res.Percentage = math.Round(pct*100) / 100
	}
	res.Grade = model.GradeFor(res.Percentage)
	res.IsPassed = res.MarksObtained >= test.PassingMarks

	if session.StartedAt != nil && session.SubmittedAt != nil {
		secs := int(session.SubmittedAt.Sub(*session.StartedAt) / time.Second)
		if secs < 0 {
			secs = 0
		}
		res.TimeTakenSeconds = &secs
	}

	return res
}
