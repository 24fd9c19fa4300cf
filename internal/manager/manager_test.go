package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizalarm/internal/alarm"
	"quizalarm/internal/alarmstore"
	"quizalarm/internal/clock"
	"quizalarm/internal/notify"
	"quizalarm/internal/question"
	"quizalarm/internal/schedule"
	"quizalarm/internal/session"
	"quizalarm/internal/storage"
	logx "quizalarm/pkg/logx"
)

type fakeSink struct {
	mu     sync.Mutex
	active map[string]notify.Trigger
	fail   bool
}

func (f *fakeSink) Schedule(_ context.Context, t notify.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink offline")
	}
	f.active[t.ID] = t
	return nil
}

func (f *fakeSink) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, id)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

type staticProvider struct{}

func (staticProvider) Generate(_ context.Context, req question.Request) alarm.Question {
	return alarm.Question{ID: "q", Text: "2+2?", CorrectAnswer: "4", Category: req.Category, Format: alarm.FormatOpenEnded}
}

func (staticProvider) Judge(_ context.Context, q alarm.Question, answer string) bool {
	return question.JudgeLocal(q, answer)
}

type recJournal struct {
	mu    sync.Mutex
	audit []storage.AuditEntry
	*memJournal
}

func (j *recJournal) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.audit = append(j.audit, e)
	return nil
}

func (j *recJournal) actions() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.audit {
		out = append(out, e.Action)
	}
	return out
}

type rig struct {
	mgr     *Manager
	sink    *fakeSink
	clock   *clock.Manual
	journal *recJournal
}

// Tuesday 2026-10-20 06:59:40 UTC.
var morning = time.Date(2026, 10, 20, 6, 59, 40, 0, time.UTC)

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		sink:    &fakeSink{active: map[string]notify.Trigger{}},
		clock:   clock.NewManual(morning),
		journal: &recJournal{memJournal: newMemJournal()},
	}
	sched := schedule.New(r.sink, r.clock, logx.Nop(), nil)
	sess := session.New(staticProvider{}, logx.Nop(), nil,
		session.WithClock(r.clock),
		session.WithRunner(func(fn func(context.Context)) { fn(context.Background()) }),
		session.WithResolvedHook(func(res session.Resolution) { r.mgr.OnResolved(res) }),
	)
	r.mgr = New(Config{DueTolerance: time.Minute}, alarmstore.New(nil, logx.Nop(), nil), sched, sess, r.clock, r.journal, logx.Nop(), nil)
	return r
}

func daily(h, m int) alarm.Alarm {
	return alarm.Alarm{Time: alarm.TimeOfDay{Hour: h, Minute: m}, Enabled: true, Repeat: alarm.Daily}
}

func TestAddSchedulesAndComputesNext(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()

	a, err := r.mgr.AddAlarm(ctx, daily(7, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, r.sink.count())

	at, id, ok := r.mgr.NextAlarmTime()
	require.True(t, ok)
	assert.Equal(t, a.ID, id)
	assert.Equal(t, time.Date(2026, 10, 20, 7, 0, 0, 0, time.UTC), at)

	_, err = r.mgr.SetEnabled(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, r.sink.count())
	_, _, ok = r.mgr.NextAlarmTime()
	assert.False(t, ok)
}

func TestAddKeepsAlarmWhenSinkFails(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	r.sink.fail = true
	a, err := r.mgr.AddAlarm(context.Background(), daily(7, 0))
	require.ErrorIs(t, err, ErrNotScheduled)
	_, ok := r.mgr.Alarm(a.ID)
	assert.True(t, ok)
}

func TestCheckPendingFiresOncePerOccurrence(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	a, err := r.mgr.AddAlarm(ctx, daily(7, 0))
	require.NoError(t, err)

	id, ok := r.mgr.CheckPending(ctx)
	require.True(t, ok)
	assert.Equal(t, a.ID, id)
	snap := r.mgr.Session()
	require.Equal(t, session.Active, snap.State)
	require.NotNil(t, snap.Question)

	correct, err := r.mgr.SubmitAnswer(ctx, " 4 ")
	require.NoError(t, err)
	assert.True(t, correct)
	assert.False(t, r.mgr.Session().State == session.Active)

	r.clock.Advance(30 * time.Second)
	_, ok = r.mgr.CheckPending(ctx)
	assert.False(t, ok, "same occurrence must not ring twice")
	assert.False(t, r.mgr.HandleDue(ctx, a.ID))

	r.clock.Advance(24 * time.Hour)
	_, ok = r.mgr.CheckPending(ctx)
	assert.True(t, ok, "next day's occurrence rings")

	assert.Equal(t, []string{ActionAdded, ActionActivated, ActionResolved, ActionActivated}, r.journal.actions())
}

func TestHandleDueIgnoresUnknownDisabledAndBusy(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	assert.False(t, r.mgr.HandleDue(ctx, "ghost"))

	off := daily(7, 0)
	off.Enabled = false
	b, err := r.mgr.AddAlarm(ctx, off)
	require.NoError(t, err)
	assert.False(t, r.mgr.HandleDue(ctx, b.ID))

	a, err := r.mgr.AddAlarm(ctx, daily(7, 0))
	require.NoError(t, err)
	c, err := r.mgr.AddAlarm(ctx, daily(9, 0))
	require.NoError(t, err)
	require.True(t, r.mgr.HandleDue(ctx, a.ID))
	assert.False(t, r.mgr.HandleDue(ctx, c.ID), "one session at a time")
	assert.Equal(t, a.ID, r.mgr.Session().AlarmID)
}

func TestDeleteRingingAlarmEndsSession(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	a, err := r.mgr.AddAlarm(ctx, daily(7, 0))
	require.NoError(t, err)
	require.True(t, r.mgr.Ring(ctx, a.ID))

	require.NoError(t, r.mgr.DeleteAlarm(ctx, a.ID))
	assert.Equal(t, session.Idle, r.mgr.Session().State)
	assert.Equal(t, 0, r.sink.count())
	assert.Empty(t, r.mgr.Alarms())
	assert.ErrorIs(t, r.mgr.DeleteAlarm(ctx, a.ID), alarmstore.ErrNotFound)
}

func TestOverrideRespectsAlarmFlag(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	a, err := r.mgr.AddAlarm(ctx, daily(7, 0))
	require.NoError(t, err)
	require.True(t, r.mgr.Ring(ctx, a.ID))
	assert.ErrorIs(t, r.mgr.Override(ctx), session.ErrOverrideNotAllowed)

	_, err = r.mgr.ModifyAlarm(ctx, a.ID, func(x *alarm.Alarm) { x.HasOverride = true })
	require.NoError(t, err)
	require.NoError(t, r.mgr.Override(ctx))
	assert.Equal(t, session.Idle, r.mgr.Session().State)
}

func TestOnceAnsweredEarlyLeavesNoNextAlarm(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	once := daily(7, 0)
	once.Repeat = alarm.Once
	a, err := r.mgr.AddAlarm(ctx, once)
	require.NoError(t, err)

	_, id, ok := r.mgr.NextAlarmTime()
	require.True(t, ok)
	require.Equal(t, a.ID, id)

	fired, ok := r.mgr.CheckPending(ctx)
	require.True(t, ok)
	require.Equal(t, a.ID, fired)
	correct, err := r.mgr.SubmitAnswer(ctx, "4")
	require.NoError(t, err)
	require.True(t, correct)

	_, _, ok = r.mgr.NextAlarmTime()
	assert.False(t, ok, "answered occurrence is consumed")

	r.clock.Advance(2 * time.Minute)
	_, _, ok = r.mgr.NextAlarmTime()
	assert.False(t, ok)
}

func TestDailyAnsweredEarlyMovesToTomorrow(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	a, err := r.mgr.AddAlarm(ctx, daily(7, 0))
	require.NoError(t, err)
	_, ok := r.mgr.CheckPending(ctx)
	require.True(t, ok)
	_, err = r.mgr.SubmitAnswer(ctx, "4")
	require.NoError(t, err)

	at, id, ok := r.mgr.NextAlarmTime()
	require.True(t, ok)
	assert.Equal(t, a.ID, id)
	assert.Equal(t, time.Date(2026, 10, 21, 7, 0, 0, 0, time.UTC), at)
}

func TestNextAlarmTimeFollowsClockAndEdits(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	a, err := r.mgr.AddAlarm(ctx, daily(7, 0))
	require.NoError(t, err)
	b, err := r.mgr.AddAlarm(ctx, daily(8, 0))
	require.NoError(t, err)

	r.clock.Set(time.Date(2026, 10, 20, 7, 30, 0, 0, time.UTC))
	at, id, ok := r.mgr.NextAlarmTime()
	require.True(t, ok)
	assert.Equal(t, b.ID, id)
	assert.Equal(t, time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC), at)

	_, err = r.mgr.ModifyAlarm(ctx, a.ID, func(x *alarm.Alarm) { x.Time = alarm.TimeOfDay{Hour: 7, Minute: 45} })
	require.NoError(t, err)
	_, id, _ = r.mgr.NextAlarmTime()
	assert.Equal(t, a.ID, id)
}

func TestRingRefusesDisabledAlarm(t *testing.T) {
	t.Parallel()
	r := newRig(t)
	ctx := context.Background()
	off := daily(7, 0)
	off.Enabled = false
	a, err := r.mgr.AddAlarm(ctx, off)
	require.NoError(t, err)

	assert.False(t, r.mgr.Ring(ctx, a.ID))
	assert.Equal(t, session.Idle, r.mgr.Session().State)
	assert.False(t, r.mgr.Ring(ctx, "ghost"))

	_, err = r.mgr.SetEnabled(ctx, a.ID, true)
	require.NoError(t, err)
	assert.True(t, r.mgr.Ring(ctx, a.ID))
}
