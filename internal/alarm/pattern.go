package alarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type PatternKind uint8

const (
	KindOnce PatternKind = iota
	KindDaily
	KindWeekdays
	KindWeekends
	KindCustom
)

var kindNames = [...]string{"once", "daily", "weekdays", "weekends", "custom"}

func (k PatternKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("PatternKind(%d)", k)
}

func parseKind(s string) (PatternKind, bool) {
	for i, n := range kindNames {
		if s == n {
			return PatternKind(i), true
		}
	}
	return 0, false
}

// RepeatPattern is Once, Daily, Weekdays, Weekends or Custom(days).
//
// The value is comparable: two Custom patterns with the same day set are == and
// usable as the same map key regardless of the order days were given in.
type RepeatPattern struct {
	kind PatternKind
	days uint8 // bit (w-1) set for each Weekday w; Custom only
}

var (
	Once     = RepeatPattern{kind: KindOnce}
	Daily    = RepeatPattern{kind: KindDaily}
	Weekdays = RepeatPattern{kind: KindWeekdays}
	Weekends = RepeatPattern{kind: KindWeekends}
)

const (
	weekdayMask uint8 = 1<<(Monday-1) | 1<<(Tuesday-1) | 1<<(Wednesday-1) | 1<<(Thursday-1) | 1<<(Friday-1)
	weekendMask uint8 = 1<<(Sunday-1) | 1<<(Saturday-1)
)

// Custom builds a day-set pattern. Invalid days are ignored; duplicates collapse.
// An empty set is valid and never fires.
func Custom(days ...Weekday) RepeatPattern {
	p := RepeatPattern{kind: KindCustom}
	for _, d := range days {
		if d.Valid() {
			p.days |= 1 << (d - 1)
		}
	}
	return p
}

func (p RepeatPattern) Kind() PatternKind { return p.kind }

// DaySet reports whether the pattern is constrained to a set of weekdays.
func (p RepeatPattern) DaySet() bool {
	return p.kind == KindWeekdays || p.kind == KindWeekends || p.kind == KindCustom
}

func (p RepeatPattern) mask() uint8 {
	switch p.kind {
	case KindWeekdays:
		return weekdayMask
	case KindWeekends:
		return weekendMask
	case KindCustom:
		return p.days
	default:
		return 0
	}
}

// Days returns the allowed weekdays in ordinal order, or nil for Once and Daily.
func (p RepeatPattern) Days() []Weekday {
	m := p.mask()
	if m == 0 {
		return nil
	}
	out := make([]Weekday, 0, 7)
	for _, w := range AllWeekdays {
		if m&(1<<(w-1)) != 0 {
			out = append(out, w)
		}
	}
	return out
}

// Contains reports whether w is an allowed day. Daily contains every day, Once none.
func (p RepeatPattern) Contains(w Weekday) bool {
	if !w.Valid() {
		return false
	}
	if p.kind == KindDaily {
		return true
	}
	return p.mask()&(1<<(w-1)) != 0
}

// Key is a canonical text form, stable across day ordering ("custom:mon,wed").
func (p RepeatPattern) Key() string {
	if p.kind != KindCustom {
		return p.kind.String()
	}
	days := p.Days()
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strings.ToLower(d.Short()))
	}
	return "custom:" + strings.Join(parts, ",")
}

// String is the human label.
func (p RepeatPattern) String() string {
	switch p.kind {
	case KindOnce:
		return "Once"
	case KindDaily:
		return "Every day"
	case KindWeekdays:
		return "Weekdays"
	case KindWeekends:
		return "Weekends"
	}
	days := p.Days()
	if len(days) == 0 {
		return "Never"
	}
	if p.days == weekdayMask|weekendMask {
		return "Every day"
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, d.Short())
	}
	return strings.Join(parts, ", ")
}

var ErrInvalidPattern = errors.New("invalid repeat pattern")

// ParseRepeatPattern reads the forms produced by Key plus a bare day list:
// "once", "daily", "weekdays", "weekends", "custom:tue,thu", "mon,wed,fri", "custom:".
func ParseRepeatPattern(s string) (RepeatPattern, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "":
		return RepeatPattern{}, fmt.Errorf("%w: empty", ErrInvalidPattern)
	case "every day", "everyday":
		return Daily, nil
	case "weekday":
		return Weekdays, nil
	case "weekend":
		return Weekends, nil
	case "never", "custom":
		return Custom(), nil
	}
	if k, ok := parseKind(v); ok && k != KindCustom {
		return RepeatPattern{kind: k}, nil
	}
	list := strings.TrimPrefix(v, "custom:")
	days := make([]Weekday, 0, 7)
	for _, part := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ' ' }) {
		d, err := ParseWeekday(part)
		if err != nil {
			return RepeatPattern{}, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		days = append(days, d)
	}
	if len(days) == 0 && !strings.HasPrefix(v, "custom:") {
		return RepeatPattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, s)
	}
	return Custom(days...), nil
}

type patternJSON struct {
	Kind string    `json:"kind"`
	Days []Weekday `json:"days,omitempty"`
}

func (p RepeatPattern) MarshalJSON() ([]byte, error) {
	out := patternJSON{Kind: p.kind.String()}
	if p.kind == KindCustom {
		out.Days = p.Days()
		if out.Days == nil {
			out.Days = []Weekday{}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the object form and the string form of ParseRepeatPattern.
func (p *RepeatPattern) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err == nil {
		v, err := ParseRepeatPattern(raw)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
	var in patternJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	k, ok := parseKind(strings.ToLower(strings.TrimSpace(in.Kind)))
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPattern, in.Kind)
	}
	if k == KindCustom {
		*p = Custom(in.Days...)
		return nil
	}
	*p = RepeatPattern{kind: k}
	return nil
}
