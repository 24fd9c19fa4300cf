// Package question produces wake-up questions and judges answers.
//
// Service tries a remote generator first and always falls back to the local
// Bank, so callers never see an error and a session always gets a question.
package question

import (
	"context"
	"strings"
	"unicode"

	"quizalarm/internal/alarm"
)

// Request asks for one question of a category in a preferred format.
type Request struct {
	Category alarm.Category `json:"category"`
	Format   alarm.Format   `json:"format"`
}

// Provider is what the alarm session consumes.
type Provider interface {
	Generate(ctx context.Context, req Request) alarm.Question
	Judge(ctx context.Context, q alarm.Question, answer string) bool
}

// JudgeRequest is sent to a remote judge for lenient open-ended matching.
type JudgeRequest struct {
	Question      string `json:"question"`
	CorrectAnswer string `json:"correct_answer"`
	Answer        string `json:"answer"`
}

// Remote is a network-backed generator and judge. Errors are expected.
type Remote interface {
	Generate(ctx context.Context, req Request) (alarm.Question, error)
	Judge(ctx context.Context, req JudgeRequest) (bool, error)
}

// Normalize trims, case-folds and collapses inner whitespace.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace), " ")
}

// JudgeLocal compares without any remote call. Multiple choice matches the
// submitted text against the option flagged correct; open-ended compares
// against CorrectAnswer. Both sides are normalized first.
func JudgeLocal(q alarm.Question, answer string) bool {
	got := Normalize(answer)
	if got == "" {
		return false
	}
	if q.Format == alarm.FormatMultipleChoice {
		if letter, ok := q.OptionByLetter(answer); ok {
			got = Normalize(letter)
		}
		opt, ok := q.CorrectOption()
		return ok && Normalize(opt.Text) == got
	}
	return Normalize(q.CorrectAnswer) == got
}
