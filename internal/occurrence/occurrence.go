// Package occurrence computes when an alarm rings next.
//
// Everything here is a pure function of (alarm, now): no clock reads, no state.
// Candidates are built on now's calendar date in now's location, so the caller
// picks the time zone by choosing the location of now.
package occurrence

import (
	"time"

	"quizalarm/internal/alarm"
	"quizalarm/internal/clock"
)

// scanDays covers today plus a full week, so a single allowed weekday whose
// time already passed today resolves to the same weekday next week.
const scanDays = 8

// Next returns the first instant strictly after now at which a rings.
//
// An alarm whose time equals now exactly is not due; it rolls forward so the
// same check cycle never fires it twice. Once alarms only look at today and
// return false after their time has passed. Custom with no days never fires.
// The Enabled flag is not consulted.
func Next(a alarm.Alarm, now time.Time) (time.Time, bool) {
	today := clock.OnDate(now, a.Time.Hour, a.Time.Minute)

	switch a.Repeat.Kind() {
	case alarm.KindOnce:
		if today.After(now) {
			return today, true
		}
		return time.Time{}, false
	case alarm.KindDaily:
		if today.After(now) {
			return today, true
		}
		return clock.AddDays(today, 1), true
	}

	if len(a.Repeat.Days()) == 0 {
		return time.Time{}, false
	}
	for i := 0; i < scanDays; i++ {
		c := clock.AddDays(today, i)
		if c.After(now) && a.Repeat.Contains(alarm.FromTime(c.Weekday())) {
			return c, true
		}
	}
	return time.Time{}, false
}

// AllowedDays returns the weekdays on which p may ring. Once and Daily allow all.
func AllowedDays(p alarm.RepeatPattern) []alarm.Weekday {
	if !p.DaySet() {
		out := make([]alarm.Weekday, len(alarm.AllWeekdays))
		copy(out, alarm.AllWeekdays)
		return out
	}
	return p.Days()
}

// Due reports whether a has an occurrence within tolerance of now, both edges
// inclusive, and returns that occurrence. Yesterday, today and tomorrow are
// considered so a window straddling midnight still matches.
func Due(a alarm.Alarm, now time.Time, tolerance time.Duration) (time.Time, bool) {
	if tolerance < 0 {
		tolerance = -tolerance
	}
	today := clock.OnDate(now, a.Time.Hour, a.Time.Minute)
	for _, off := range [...]int{0, -1, 1} {
		c := clock.AddDays(today, off)
		if a.Repeat.DaySet() && !a.Repeat.Contains(alarm.FromTime(c.Weekday())) {
			continue
		}
		d := now.Sub(c)
		if d >= -tolerance && d <= tolerance {
			return c, true
		}
	}
	return time.Time{}, false
}

