package alarm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekday uses the week-starts-Sunday, 1-based convention: Sunday=1 ... Saturday=7.
type Weekday int

const (
	Sunday Weekday = iota + 1
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [...]string{"", "sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// AllWeekdays lists every day in ordinal order.
var AllWeekdays = []Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

func (w Weekday) Valid() bool { return w >= Sunday && w <= Saturday }

// Ordinal is the 1-based number used in trigger ids.
func (w Weekday) Ordinal() int { return int(w) }

// Time converts to the standard library weekday.
func (w Weekday) Time() time.Weekday { return time.Weekday(int(w) - 1) }

// FromTime converts a standard library weekday.
func FromTime(d time.Weekday) Weekday { return Weekday(int(d) + 1) }

func (w Weekday) String() string {
	if !w.Valid() {
		return "Weekday(" + strconv.Itoa(int(w)) + ")"
	}
	n := weekdayNames[w]
	return strings.ToUpper(n[:1]) + n[1:]
}

// Short is the three-letter display name ("Mon").
func (w Weekday) Short() string {
	s := w.String()
	if !w.Valid() {
		return s
	}
	return s[:3]
}

// ParseWeekday accepts full names, three-letter abbreviations and ordinals (1-7).
func ParseWeekday(s string) (Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("empty weekday")
	}
	if n, err := strconv.Atoi(v); err == nil {
		w := Weekday(n)
		if !w.Valid() {
			return 0, fmt.Errorf("weekday ordinal out of range: %d", n)
		}
		return w, nil
	}
	for i := 1; i < len(weekdayNames); i++ {
		name := weekdayNames[i]
		if v == name || (len(v) >= 3 && strings.HasPrefix(name, v)) {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func (w Weekday) MarshalText() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", int(w))
	}
	return []byte(weekdayNames[w]), nil
}

func (w *Weekday) UnmarshalText(b []byte) error {
	v, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}
