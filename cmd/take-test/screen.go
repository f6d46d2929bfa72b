package main

import (
	"fmt"
	"strings"

	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/session"
)

func printIntro(t *model.Test, total int) {
	fmt.Printf("%s\n%s\n", t.Title, strings.Repeat("=", len(t.Title)))
	if t.Description != "" {
		fmt.Println(t.Description)
	}
	if t.Instructions != "" {
		fmt.Printf("\nInstructions: %s\n", t.Instructions)
	}
	fmt.Printf("\n%d question(s), %d minute(s), %d marks (pass at %d).\n\n",
		total, t.DurationMinutes, t.TotalMarks, t.PassingMarks)
}

func printHelp() {
	fmt.Println(`Commands:
  o <n>       select option n
  a <text>    answer a short-answer question
  n / p       next / previous question (saves the current answer)
  j <n>       jump to question n
  submit      hand in the test
  q           leave without submitting`)
}

func render(s session.Snapshot) {
	if s.Question == nil {
		return
	}
	q := s.Question

	fmt.Printf("\n[%s left]  Question %d/%d  (%d answered)\n", formatRemaining(s.RemainingSeconds), s.Index+1, s.Total, s.AnsweredCount)
	fmt.Println(navigator(s))
	fmt.Printf("\n%s  (%d mark(s))\n", q.QuestionText, q.Marks)

	if q.QuestionType.HasOptions() {
		for i, o := range q.Options {
			mark := " "
			if s.SelectedOptionID != nil && *s.SelectedOptionID == o.ID {
				mark = "x"
			}
			fmt.Printf("  [%s] %d. %s\n", mark, i+1, o.OptionText)
		}
	} else {
		fmt.Printf("  Your answer: %q\n", s.Text)
	}
	fmt.Print("> ")
}

// navigator renders one cell per question: * answered, - not answered,
// and brackets around the current one.
func navigator(s session.Snapshot) string {
	var b strings.Builder
	for i, answered := range s.Answered {
		cell := "-"
		if answered {
			cell = "*"
		}
		if i == s.Index {
			cell = "[" + cell + "]"
		} else {
			cell = " " + cell + " "
		}
		b.WriteString(cell)
	}
	return b.String()
}

// printExpired reports an automatic submit that did not go through.
func printExpired(s session.Snapshot) {
	fmt.Println("\nTime is up, but the test could not be submitted.")
	if s.Err != nil {
		fmt.Printf("Reason: %v\n", s.Err)
	}
	fmt.Print("Type submit to try again.\n> ")
}

func printOutcome(s session.Snapshot) {
	fmt.Println("\nThe test has ended.")
	r := s.Result
	if r == nil {
		if s.Err != nil {
			fmt.Printf("Result not available yet (%v). Check your results later.\n", s.Err)
		}
		return
	}

	verdict := "Not passed"
	if r.IsPassed {
		verdict = "Passed"
	}
	fmt.Printf("Score: %d/%d (%.2f%%)  Grade: %s  %s\n", r.MarksObtained, r.TotalMarks, r.Percentage, r.Grade, verdict)
	fmt.Printf("Answered %d of %d, %d correct.\n", r.AnsweredQuestions, r.TotalQuestions, r.CorrectAnswers)
	if r.TimeTakenSeconds != nil {
		fmt.Printf("Time taken: %s\n", formatRemaining(*r.TimeTakenSeconds))
	}
}
