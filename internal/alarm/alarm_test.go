package alarm

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestCustomPatternEqualityIgnoresOrder(t *testing.T) {
	t.Parallel()
	a := Custom(Monday, Wednesday)
	b := Custom(Wednesday, Monday, Wednesday)
	if a != b {
		t.Fatalf("Custom(Mon,Wed) != Custom(Wed,Mon): %v vs %v", a, b)
	}
	m := map[RepeatPattern]int{a: 1}
	if m[b] != 1 {
		t.Fatalf("map lookup with reordered days failed")
	}
	if a.Key() != "custom:mon,wed" {
		t.Fatalf("Key = %q", a.Key())
	}
	if a == Custom(Monday) {
		t.Fatalf("different day sets compared equal")
	}
}

func TestPatternDays(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    RepeatPattern
		want []Weekday
	}{
		{name: "once", p: Once, want: nil},
		{name: "daily", p: Daily, want: nil},
		{name: "weekdays", p: Weekdays, want: []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday}},
		{name: "weekends", p: Weekends, want: []Weekday{Sunday, Saturday}},
		{name: "custom", p: Custom(Saturday, Tuesday), want: []Weekday{Tuesday, Saturday}},
		{name: "empty custom", p: Custom(), want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Days(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Days() = %v, want %v", got, tt.want)
			}
		})
	}
	if !Daily.Contains(Thursday) || Once.Contains(Thursday) || Weekends.Contains(Monday) {
		t.Fatalf("Contains mismatch")
	}
}

func TestParseRepeatPattern(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want RepeatPattern
	}{
		{"once", Once},
		{"Daily", Daily},
		{"every day", Daily},
		{"weekdays", Weekdays},
		{"weekend", Weekends},
		{"mon,wed,fri", Custom(Monday, Wednesday, Friday)},
		{"custom:tue,thu", Custom(Tuesday, Thursday)},
		{"custom:", Custom()},
		{"sat sun", Custom(Saturday, Sunday)},
		{"1,7", Custom(Sunday, Saturday)},
	}
	for _, tt := range tests {
		got, err := ParseRepeatPattern(tt.raw)
		if err != nil {
			t.Fatalf("ParseRepeatPattern(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseRepeatPattern(%q) = %v, want %v", tt.raw, got.Key(), tt.want.Key())
		}
	}
	for _, bad := range []string{"", "sometimes", "mon,funday"} {
		if _, err := ParseRepeatPattern(bad); !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("ParseRepeatPattern(%q) err = %v, want ErrInvalidPattern", bad, err)
		}
	}
}

func TestPatternString(t *testing.T) {
	t.Parallel()
	if got := Custom(Wednesday, Monday).String(); got != "Mon, Wed" {
		t.Fatalf("String = %q", got)
	}
	if got := Custom().String(); got != "Never" {
		t.Fatalf("String = %q", got)
	}
}

func TestWeekdayConversion(t *testing.T) {
	t.Parallel()
	for _, w := range AllWeekdays {
		if FromTime(w.Time()) != w {
			t.Fatalf("round trip failed for %v", w)
		}
	}
	if Sunday.Time() != time.Sunday || Saturday.Time() != time.Saturday {
		t.Fatalf("ordinal mapping broken")
	}
	if Sunday.Ordinal() != 1 || Saturday.Ordinal() != 7 {
		t.Fatalf("ordinals broken")
	}
}

func TestAlarmJSONRoundTrip(t *testing.T) {
	t.Parallel()
	in := Alarm{
		ID:             "a1",
		Label:          "gym",
		Time:           TimeOfDay{Hour: 6, Minute: 5},
		Enabled:        true,
		Repeat:         Custom(Thursday, Tuesday),
		Sound:          Sound{ID: "bell", Name: "Bell"},
		QuestionTypes:  []Category{CategoryMath, CategoryTrivia},
		QuestionFormat: FormatMultipleChoice,
		HasOverride:    true,
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Alarm
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v\njson=%s", in, out, b)
	}
}

func TestAlarmDecodeAcceptsLegacyForms(t *testing.T) {
	t.Parallel()
	raw := `{"id":"x","time":"2024-01-02T07:45:00Z","enabled":true,"repeat":"weekdays","sound":{"id":"s","name":"S"},"question_types":["science"],"has_override":false}`
	var a Alarm
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.Time != (TimeOfDay{Hour: 7, Minute: 45}) || a.Repeat != Weekdays {
		t.Fatalf("decoded %+v", a)
	}
}

func TestQuestionTypesNeverEmpty(t *testing.T) {
	t.Parallel()
	a := Alarm{ID: "a", QuestionTypes: []Category{CategoryTrivia}}.Normalize()
	a = a.WithoutQuestionType(CategoryTrivia)
	if !reflect.DeepEqual(a.QuestionTypes, []Category{DefaultCategory}) {
		t.Fatalf("QuestionTypes = %v, want default", a.QuestionTypes)
	}
	a = a.WithQuestionTypes()
	if len(a.QuestionTypes) != 1 {
		t.Fatalf("QuestionTypes = %v", a.QuestionTypes)
	}
	a = a.WithQuestionTypes(CategoryScience, CategoryScience, CategoryGeography)
	if !reflect.DeepEqual(a.QuestionTypes, []Category{CategoryScience, CategoryGeography}) {
		t.Fatalf("QuestionTypes = %v", a.QuestionTypes)
	}
}

func TestAlarmValidate(t *testing.T) {
	t.Parallel()
	ok := Alarm{ID: "a", Time: TimeOfDay{Hour: 7}}.Normalize()
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := ok
	bad.Time = TimeOfDay{Hour: 24}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("err = %v, want ErrInvalidTime", err)
	}
	bad = ok
	bad.QuestionTypes = []Category{"cooking"}
	if err := bad.Validate(); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("err = %v, want ErrUnknownCategory", err)
	}
}

func TestQuestionValidate(t *testing.T) {
	t.Parallel()
	mc := Question{
		Text:   "2+2?",
		Format: FormatMultipleChoice,
		Options: []Option{
			{Text: "3"}, {Text: "4", Correct: true}, {Text: "5"},
		},
	}
	if err := mc.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	mc.Options[0].Correct = true
	if err := mc.Validate(); !errors.Is(err, ErrInvalidQuestion) {
		t.Fatalf("two correct options accepted")
	}
	open := Question{Text: "2+2?", CorrectAnswer: "4", Format: FormatOpenEnded}
	if err := open.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestOptionByLetter(t *testing.T) {
	t.Parallel()
	q := Question{Format: FormatMultipleChoice, Options: []Option{{Text: "red"}, {Text: "blue", Correct: true}}}
	if got, ok := q.OptionByLetter("b"); !ok || got != "blue" {
		t.Fatalf("OptionByLetter(b) = %q, %v", got, ok)
	}
	if _, ok := q.OptionByLetter("c"); ok {
		t.Fatalf("out of range letter accepted")
	}
}
