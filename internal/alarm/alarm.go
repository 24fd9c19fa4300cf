// Package alarm holds the alarm data model shared by the store, the occurrence
// calculator, the scheduler and the session state machine.
package alarm

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidAlarm    = errors.New("invalid alarm")
	ErrInvalidTime     = errors.New("invalid time of day")
	ErrUnknownCategory = errors.New("unknown question category")
)

// TimeOfDay is the wall-clock part of an alarm. Date components never matter.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

// At returns the time of day of ts.
func At(ts time.Time) TimeOfDay { return TimeOfDay{Hour: ts.Hour(), Minute: ts.Minute()} }

// ParseTimeOfDay accepts "HH:MM" or an RFC3339 timestamp (only its hour and minute are kept).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return At(ts), nil
	}
	hs, ms, ok := strings.Cut(s, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err1 := strconv.Atoi(hs)
	m, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return t, nil
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d:%d", ErrInvalidTime, t.Hour, t.Minute)
	}
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Sound is passed through to the audio collaborator untouched.
type Sound struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var DefaultSound = Sound{ID: "classic", Name: "Classic"}

type Category string

const (
	CategoryMath       Category = "math"
	CategoryTrivia     Category = "trivia"
	CategoryScience    Category = "science"
	CategoryGeography  Category = "geography"
	CategoryVocabulary Category = "vocabulary"
)

// DefaultCategory is used whenever an alarm would otherwise have no categories.
const DefaultCategory = CategoryMath

var Categories = []Category{CategoryMath, CategoryTrivia, CategoryScience, CategoryGeography, CategoryVocabulary}

func (c Category) Valid() bool { return slices.Contains(Categories, c) }

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

type Format string

const (
	FormatOpenEnded      Format = "open_ended"
	FormatMultipleChoice Format = "multiple_choice"
)

func (f Format) Valid() bool { return f == FormatOpenEnded || f == FormatMultipleChoice }

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "open_ended", "openended", "open-ended", "":
		return FormatOpenEnded, nil
	case "mc", "multiple_choice", "multiplechoice", "multiple-choice", "choice":
		return FormatMultipleChoice, nil
	}
	return "", fmt.Errorf("unknown question format %q", s)
}

// Alarm is the persisted record. Time keeps only hour and minute.
type Alarm struct {
	ID             string        `json:"id"`
	Label          string        `json:"label,omitempty"`
	Time           TimeOfDay     `json:"time"`
	Enabled        bool          `json:"enabled"`
	Repeat         RepeatPattern `json:"repeat"`
	Sound          Sound         `json:"sound"`
	QuestionTypes  []Category    `json:"question_types"`
	QuestionFormat Format        `json:"question_format,omitempty"`
	HasOverride    bool          `json:"has_override"`
}

// Clone returns a deep copy.
func (a Alarm) Clone() Alarm {
	a.QuestionTypes = slices.Clone(a.QuestionTypes)
	return a
}

// Normalize dedups categories (keeping first-seen order), restores the default
// category when the set is empty, and fills format and sound defaults.
func (a Alarm) Normalize() Alarm {
	seen := make(map[Category]struct{}, len(a.QuestionTypes))
	out := make([]Category, 0, len(a.QuestionTypes))
	for _, c := range a.QuestionTypes {
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		out = []Category{DefaultCategory}
	}
	a.QuestionTypes = out
	if a.QuestionFormat == "" {
		a.QuestionFormat = FormatOpenEnded
	}
	if a.Sound.ID == "" {
		a.Sound = DefaultSound
	}
	return a
}

func (a Alarm) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidAlarm)
	}
	if !a.Time.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidAlarm, ErrInvalidTime)
	}
	if len(a.QuestionTypes) == 0 {
		return fmt.Errorf("%w: no question types", ErrInvalidAlarm)
	}
	for _, c := range a.QuestionTypes {
		if !c.Valid() {
			return fmt.Errorf("%w: %w: %q", ErrInvalidAlarm, ErrUnknownCategory, c)
		}
	}
	if a.QuestionFormat != "" && !a.QuestionFormat.Valid() {
		return fmt.Errorf("%w: format %q", ErrInvalidAlarm, a.QuestionFormat)
	}
	return nil
}

// WithQuestionTypes replaces the category set. An empty set becomes the default category.
func (a Alarm) WithQuestionTypes(cs ...Category) Alarm {
	a.QuestionTypes = slices.Clone(cs)
	return a.Normalize()
}

// WithoutQuestionType removes c. Removing the last category leaves the default one.
func (a Alarm) WithoutQuestionType(c Category) Alarm {
	out := make([]Category, 0, len(a.QuestionTypes))
	for _, v := range a.QuestionTypes {
		if v != c {
			out = append(out, v)
		}
	}
	a.QuestionTypes = out
	return a.Normalize()
}

// Summary is a one-line description used in logs and chat replies.
func (a Alarm) Summary() string {
	state := "on"
	if !a.Enabled {
		state = "off"
	}
	cats := make([]string, 0, len(a.QuestionTypes))
	for _, c := range a.QuestionTypes {
		cats = append(cats, string(c))
	}
	s := fmt.Sprintf("%s %s [%s] %s (%s)", a.Time, a.Repeat, state, strings.Join(cats, ","), a.ID)
	if a.Label != "" {
		s = a.Label + ": " + s
	}
	return s
}
