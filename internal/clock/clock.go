// Package clock wraps wall-clock time and calendar arithmetic behind a small
// interface so alarm computations are reproducible in tests.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current instant.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock. A nil Loc means time.Local.
type System struct {
	Loc *time.Location
}

func (c System) Now() time.Time {
	if c.Loc == nil {
		return time.Now()
	}
	return time.Now().In(c.Loc)
}

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(t time.Time) *Manual { return &Manual{now: t} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// OnDate returns ref's calendar date (in ref's location) at hour:minute:00.
//
// Nonexistent local times (DST gaps) are normalized by time.Date.
func OnDate(ref time.Time, hour, minute int) time.Time {
	y, mo, d := ref.Date()
	return time.Date(y, mo, d, hour, minute, 0, 0, ref.Location())
}

// AddDays moves t by n calendar days keeping the wall-clock hour and minute.
// Unlike t.Add(n*24h) it stays on the same local time across DST changes.
func AddDays(t time.Time, n int) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Fields extracts the calendar fields the alarm engine cares about.
func Fields(t time.Time) (hour, minute int, weekday time.Weekday) {
	return t.Hour(), t.Minute(), t.Weekday()
}
