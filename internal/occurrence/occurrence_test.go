package occurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizalarm/internal/alarm"
)

// 2026-10-20 is a Tuesday.
func tuesdayAt(h, m int) time.Time { return time.Date(2026, 10, 20, h, m, 0, 0, time.UTC) }

func mk(h, m int, p alarm.RepeatPattern) alarm.Alarm {
	return alarm.Alarm{ID: "a", Time: alarm.TimeOfDay{Hour: h, Minute: m}, Enabled: true, Repeat: p}.Normalize()
}

func TestNextOnce(t *testing.T) {
	t.Parallel()
	now := tuesdayAt(10, 0)

	got, ok := Next(mk(11, 0, alarm.Once), now)
	require.True(t, ok)
	assert.Equal(t, tuesdayAt(11, 0), got)

	_, ok = Next(mk(10, 0, alarm.Once), now)
	assert.False(t, ok, "time equal to now is not in the future")

	_, ok = Next(mk(9, 59, alarm.Once), now)
	assert.False(t, ok)
}

func TestNextDailyWithinOneDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 20, 13, 37, 12, 0, time.UTC)
	for h := 0; h < 24; h++ {
		for _, m := range []int{0, 15, 37, 59} {
			got, ok := Next(mk(h, m, alarm.Daily), now)
			require.True(t, ok)
			assert.True(t, got.After(now), "%02d:%02d -> %v", h, m, got)
			assert.LessOrEqual(t, got.Sub(now), 24*time.Hour)
			assert.Equal(t, h, got.Hour())
			assert.Equal(t, m, got.Minute())
			assert.Zero(t, got.Second())
			// Smallest: the same wall time one day earlier must not be in the future.
			assert.False(t, got.AddDate(0, 0, -1).After(now))
		}
	}
}

func TestNextDailyExactBoundaryRollsOver(t *testing.T) {
	t.Parallel()
	now := tuesdayAt(10, 0)
	got, ok := Next(mk(10, 0, alarm.Daily), now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC), got)
}

func TestNextSetPatterns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		now  time.Time
		a    alarm.Alarm
		want time.Time
	}{
		{
			name: "saturday only from tuesday",
			now:  tuesdayAt(10, 0),
			a:    mk(7, 0, alarm.Custom(alarm.Saturday)),
			want: time.Date(2026, 10, 24, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "same weekday later today",
			now:  tuesdayAt(6, 0),
			a:    mk(7, 0, alarm.Custom(alarm.Tuesday)),
			want: tuesdayAt(7, 0),
		},
		{
			name: "same weekday already passed rolls a week",
			now:  tuesdayAt(10, 0),
			a:    mk(7, 0, alarm.Custom(alarm.Tuesday)),
			want: time.Date(2026, 10, 27, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "weekdays from friday evening",
			now:  time.Date(2026, 10, 23, 20, 0, 0, 0, time.UTC),
			a:    mk(7, 0, alarm.Weekdays),
			want: time.Date(2026, 10, 26, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "weekends from tuesday",
			now:  tuesdayAt(10, 0),
			a:    mk(9, 30, alarm.Weekends),
			want: time.Date(2026, 10, 24, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "exact boundary skips today",
			now:  tuesdayAt(7, 0),
			a:    mk(7, 0, alarm.Custom(alarm.Tuesday, alarm.Wednesday)),
			want: time.Date(2026, 10, 21, 7, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Next(tt.a, tt.now)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextEmptyCustomNeverFires(t *testing.T) {
	t.Parallel()
	a := mk(7, 0, alarm.Custom())
	for i := 0; i < 14; i++ {
		_, ok := Next(a, tuesdayAt(0, 0).AddDate(0, 0, i))
		assert.False(t, ok)
	}
}

func TestNextKeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(2026, 3, 7, 8, 0, 0, 0, loc) // Saturday, DST starts Sunday

	got, ok := Next(mk(7, 0, alarm.Daily), now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 8, 7, 0, 0, 0, loc), got)
	assert.Equal(t, 22*time.Hour, got.Sub(now))

	got, ok = Next(mk(7, 0, alarm.Weekdays), now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 9, 7, 0, 0, 0, loc), got)
}

func TestNextIgnoresEnabled(t *testing.T) {
	t.Parallel()
	a := mk(11, 0, alarm.Daily)
	a.Enabled = false
	_, ok := Next(a, tuesdayAt(10, 0))
	assert.True(t, ok)
}

func TestAllowedDays(t *testing.T) {
	t.Parallel()
	assert.Len(t, AllowedDays(alarm.Daily), 7)
	assert.Len(t, AllowedDays(alarm.Once), 7)
	assert.Equal(t, []alarm.Weekday{alarm.Sunday, alarm.Saturday}, AllowedDays(alarm.Weekends))
	assert.Empty(t, AllowedDays(alarm.Custom()))
}

func TestDueToleranceIsInclusive(t *testing.T) {
	t.Parallel()
	a := mk(7, 0, alarm.Daily)
	occ := tuesdayAt(7, 0)

	for _, d := range []time.Duration{-60 * time.Second, 0, 30 * time.Second, 60 * time.Second} {
		got, ok := Due(a, occ.Add(d), time.Minute)
		require.True(t, ok, "offset %v", d)
		assert.Equal(t, occ, got)
	}
	for _, d := range []time.Duration{-61 * time.Second, 61 * time.Second} {
		_, ok := Due(a, occ.Add(d), time.Minute)
		assert.False(t, ok, "offset %v", d)
	}
}

func TestDueAcrossMidnight(t *testing.T) {
	t.Parallel()
	a := mk(23, 59, alarm.Daily)
	now := time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC)
	got, ok := Due(a, now, time.Minute)
	require.True(t, ok)
	assert.Equal(t, tuesdayAt(23, 59), got)

	b := mk(0, 0, alarm.Daily)
	got, ok = Due(b, tuesdayAt(23, 59), time.Minute)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC), got)
}

func TestDueRespectsDaySet(t *testing.T) {
	t.Parallel()
	_, ok := Due(mk(7, 0, alarm.Weekends), tuesdayAt(7, 0), time.Minute)
	assert.False(t, ok)
	_, ok = Due(mk(7, 0, alarm.Custom(alarm.Tuesday)), tuesdayAt(7, 0), time.Minute)
	assert.True(t, ok)
	_, ok = Due(mk(7, 0, alarm.Custom()), tuesdayAt(7, 0), time.Minute)
	assert.False(t, ok)
}
