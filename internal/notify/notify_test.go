package notify

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"quizalarm/internal/alarm"
)

func TestTriggerIDs(t *testing.T) {
	t.Parallel()
	if got := TriggerID("a", 0); got != "a" {
		t.Fatalf("single id = %q", got)
	}
	if got := TriggerID("a", alarm.Saturday); got != "a-7" {
		t.Fatalf("saturday id = %q", got)
	}
	ids := TriggerIDs("a")
	if len(ids) != 8 || ids[0] != "a" || ids[1] != "a-1" || ids[7] != "a-7" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestRuleValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rule Rule
		ok   bool
	}{
		{"date", OnDate(time.Now()), true},
		{"zero date", Rule{Kind: RuleDate}, false},
		{"daily", DailyAt(alarm.TimeOfDay{Hour: 23, Minute: 59}), true},
		{"daily bad minute", Rule{Kind: RuleDaily, Minute: 60}, false},
		{"weekly", WeeklyAt(alarm.Sunday, alarm.TimeOfDay{}), true},
		{"weekly no day", Rule{Kind: RuleWeekly}, false},
		{"unknown kind", Rule{}, false},
		{"daily in zone", Rule{Kind: RuleDaily, Hour: 7, TZ: "Europe/Berlin"}, true},
		{"daily bad zone", Rule{Kind: RuleDaily, Hour: 7, TZ: "Mars/Olympus"}, false},
	}
	for _, tt := range tests {
		err := tt.rule.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidTrigger) {
			t.Errorf("%s: err = %v, want ErrInvalidTrigger", tt.name, err)
		}
	}
}

func TestRuleInPinsRecurrencesOnly(t *testing.T) {
	t.Parallel()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	if got := WeeklyAt(alarm.Monday, alarm.TimeOfDay{Hour: 7}).In(berlin).TZ; got != "Europe/Berlin" {
		t.Fatalf("weekly tz = %q", got)
	}
	if got := DailyAt(alarm.TimeOfDay{Hour: 7}).In(time.Local).TZ; got != "" {
		t.Fatalf("local tz = %q, want empty", got)
	}
	if got := OnDate(time.Now()).In(berlin).TZ; got != "" {
		t.Fatalf("date tz = %q, want empty", got)
	}
}
