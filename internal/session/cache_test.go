package session

import (
	"testing"

	"github.com/stemsi/exstem-cbt/internal/model"
)

func TestAnswerCacheLastWriteWins(t *testing.T) {
	c := NewAnswerCache()
	c.Record(1, model.UserAnswer{ID: 10, QuestionID: 1, SelectedOptionID: intPtr(2)})
	c.Record(1, model.UserAnswer{ID: 10, QuestionID: 1, SelectedOptionID: intPtr(3)})

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	got, ok := c.Get(1)
	if !ok || got.SelectedOptionID == nil || *got.SelectedOptionID != 3 {
		t.Fatalf("Get(1) = %+v, %v; want option 3", got, ok)
	}
	if _, ok := c.Get(2); ok {
		t.Fatal("Get(2) should report no answer")
	}
}

func TestAnswerCacheAnswered(t *testing.T) {
	tests := []struct {
		name   string
		answer model.UserAnswer
		want   bool
	}{
		{name: "selected option", answer: model.UserAnswer{SelectedOptionID: intPtr(4)}, want: true},
		{name: "text", answer: model.UserAnswer{AnswerText: strPtr("Paris")}, want: true},
		{name: "explicit empty text", answer: model.UserAnswer{AnswerText: strPtr("")}, want: false},
		{name: "blank text", answer: model.UserAnswer{AnswerText: strPtr("   ")}, want: false},
		{name: "no content", answer: model.UserAnswer{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAnswerCache()
			c.Record(7, tt.answer)
			if got := c.Answered(7); got != tt.want {
				t.Fatalf("Answered = %v, want %v", got, tt.want)
			}
			if c.Len() != 1 {
				t.Fatalf("Len = %d, want 1", c.Len())
			}
		})
	}
}

func TestAnswerCacheReset(t *testing.T) {
	c := NewAnswerCache()
	c.Record(1, model.UserAnswer{AnswerText: strPtr("a")})
	c.Record(2, model.UserAnswer{AnswerText: strPtr("")})
	if c.AnsweredCount() != 1 {
		t.Fatalf("AnsweredCount = %d, want 1", c.AnsweredCount())
	}

	c.Reset()
	if c.Len() != 0 || c.Answered(1) {
		t.Fatal("Reset should drop every entry")
	}
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
