// Package notify defines the notification sink contract used by the scheduler.
//
// A sink accepts triggers that fire either once at a date or on a recurring
// daily/weekly rule, and calls a Handler with the trigger's payload at roughly
// that time. Sinks only support single-weekday recurrence, so day-set patterns
// are fanned out into one trigger per weekday by the scheduler.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quizalarm/internal/alarm"
)

var (
	ErrInvalidTrigger = errors.New("invalid trigger")
	ErrSinkStopped    = errors.New("notification sink stopped")
)

type RuleKind int

const (
	RuleDate RuleKind = iota + 1
	RuleDaily
	RuleWeekly
)

func (k RuleKind) String() string {
	switch k {
	case RuleDate:
		return "date"
	case RuleDaily:
		return "daily"
	case RuleWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// Rule is either a single fire time (RuleDate uses At) or a wall-clock
// recurrence. Recurrences carry the IANA zone their hour and minute are in;
// an empty TZ means the sink's own zone.
type Rule struct {
	Kind    RuleKind      `json:"kind"`
	At      time.Time     `json:"at,omitzero"`
	Weekday alarm.Weekday `json:"weekday,omitempty"`
	Hour    int           `json:"hour"`
	Minute  int           `json:"minute"`
	TZ      string        `json:"tz,omitempty"`
}

func OnDate(at time.Time) Rule { return Rule{Kind: RuleDate, At: at} }

func DailyAt(t alarm.TimeOfDay) Rule {
	return Rule{Kind: RuleDaily, Hour: t.Hour, Minute: t.Minute}
}

func WeeklyAt(w alarm.Weekday, t alarm.TimeOfDay) Rule {
	return Rule{Kind: RuleWeekly, Weekday: w, Hour: t.Hour, Minute: t.Minute}
}

// In pins a recurrence to loc. Date rules already carry their zone in At, and
// time.Local has no portable name, so both are returned unchanged.
func (r Rule) In(loc *time.Location) Rule {
	if r.Kind == RuleDate || loc == nil || loc == time.Local {
		return r
	}
	r.TZ = loc.String()
	return r
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleDate:
		return "at " + r.At.Format(time.RFC3339)
	case RuleDaily:
		return fmt.Sprintf("daily %02d:%02d", r.Hour, r.Minute)
	case RuleWeekly:
		return fmt.Sprintf("%s %02d:%02d", r.Weekday.Short(), r.Hour, r.Minute)
	default:
		return "invalid"
	}
}

func (r Rule) Validate() error {
	switch r.Kind {
	case RuleDate:
		if r.At.IsZero() {
			return fmt.Errorf("%w: date rule without time", ErrInvalidTrigger)
		}
		return nil
	case RuleDaily, RuleWeekly:
		if !(alarm.TimeOfDay{Hour: r.Hour, Minute: r.Minute}).Valid() {
			return fmt.Errorf("%w: %02d:%02d", ErrInvalidTrigger, r.Hour, r.Minute)
		}
		if r.Kind == RuleWeekly && !r.Weekday.Valid() {
			return fmt.Errorf("%w: weekday %d", ErrInvalidTrigger, r.Weekday)
		}
		if r.TZ != "" {
			if _, err := time.LoadLocation(r.TZ); err != nil {
				return fmt.Errorf("%w: tz %q", ErrInvalidTrigger, r.TZ)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: rule kind %d", ErrInvalidTrigger, r.Kind)
	}
}

// Payload is delivered back to the Handler so the due event can be rebuilt.
type Payload struct {
	AlarmID string `json:"alarm_id"`
	Label   string `json:"label,omitempty"`
}

type Trigger struct {
	ID      string  `json:"id"`
	Rule    Rule    `json:"rule"`
	Payload Payload `json:"payload"`
}

func (t Trigger) Validate() error {
	if strings.TrimSpace(t.ID) == "" || t.Payload.AlarmID == "" {
		return fmt.Errorf("%w: id and alarm id are required", ErrInvalidTrigger)
	}
	return t.Rule.Validate()
}

// Handler is invoked when a trigger fires.
type Handler func(ctx context.Context, p Payload) error

// Sink registers and cancels triggers. Schedule replaces any trigger with the
// same id; Cancel of an unknown id is not an error.
type Sink interface {
	Schedule(ctx context.Context, t Trigger) error
	Cancel(ctx context.Context, id string) error
}

// TriggerID is alarmID for single triggers and "{alarmID}-{weekday ordinal}"
// for fanned-out weekly ones.
func TriggerID(alarmID string, w alarm.Weekday) string {
	if w == 0 {
		return alarmID
	}
	return alarmID + "-" + strconv.Itoa(w.Ordinal())
}

// TriggerIDs lists every id an alarm may have registered.
func TriggerIDs(alarmID string) []string {
	ids := make([]string, 0, 1+len(alarm.AllWeekdays))
	ids = append(ids, alarmID)
	for _, w := range alarm.AllWeekdays {
		ids = append(ids, TriggerID(alarmID, w))
	}
	return ids
}
