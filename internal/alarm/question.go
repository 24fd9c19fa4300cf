package alarm

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidQuestion = errors.New("invalid question")

type Option struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	CorrectAnswer string   `json:"correct_answer"`
	Category      Category `json:"category"`
	Format        Format   `json:"format"`
	Options       []Option `json:"options,omitempty"`
}

// Validate checks the per-format invariant: multiple choice has exactly one
// option flagged correct; open-ended questions carry no options.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidQuestion)
	}
	switch q.Format {
	case FormatMultipleChoice:
		n := 0
		for _, o := range q.Options {
			if o.Correct {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("%w: %d correct options, want 1", ErrInvalidQuestion, n)
		}
	case FormatOpenEnded:
		if len(q.Options) > 0 {
			return fmt.Errorf("%w: open-ended question with options", ErrInvalidQuestion)
		}
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			return fmt.Errorf("%w: empty answer", ErrInvalidQuestion)
		}
	default:
		return fmt.Errorf("%w: format %q", ErrInvalidQuestion, q.Format)
	}
	return nil
}

// CorrectOption returns the option flagged correct.
func (q Question) CorrectOption() (Option, bool) {
	for _, o := range q.Options {
		if o.Correct {
			return o, true
		}
	}
	return Option{}, false
}

// Prompt renders the question for text transports, options lettered A, B, C...
func (q Question) Prompt() string {
	if q.Format != FormatMultipleChoice || len(q.Options) == 0 {
		return q.Text
	}
	var b strings.Builder
	b.WriteString(q.Text)
	for i, o := range q.Options {
		fmt.Fprintf(&b, "\n%c) %s", 'A'+i, o.Text)
	}
	return b.String()
}

// OptionByLetter resolves "B" / "b" to the option text, for chat answers.
func (q Question) OptionByLetter(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 1 || q.Format != FormatMultipleChoice {
		return "", false
	}
	i := int(strings.ToUpper(s)[0]) - 'A'
	if i < 0 || i >= len(q.Options) {
		return "", false
	}
	return q.Options[i].Text, true
}
