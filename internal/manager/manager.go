// Package manager is the single writer for alarm state. It serializes store
// mutations with scheduler updates and routes due events into the session.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quizalarm/internal/alarm"
	"quizalarm/internal/alarmstore"
	"quizalarm/internal/clock"
	"quizalarm/internal/eventbus"
	"quizalarm/internal/occurrence"
	"quizalarm/internal/schedule"
	"quizalarm/internal/session"
	"quizalarm/internal/storage"
	logx "quizalarm/pkg/logx"
)

// ErrNotScheduled wraps sink failures after a mutation was saved. The alarm
// exists and the next Refresh retries the registration.
var ErrNotScheduled = errors.New("alarm saved but not scheduled")

// Audit actions.
const (
	ActionActivated = "alarm.activated"
	ActionResolved  = "alarm.resolved"
	ActionAdded     = "alarm.added"
	ActionUpdated   = "alarm.updated"
	ActionDeleted   = "alarm.deleted"
)

type Config struct {
	// DueTolerance is the pending-check window on each side of an occurrence.
	DueTolerance time.Duration
	// FiredTTL is how long a fired occurrence is remembered.
	FiredTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.DueTolerance <= 0 {
		c.DueTolerance = 60 * time.Second
	}
	if c.FiredTTL <= 0 {
		c.FiredTTL = 2*c.DueTolerance + 10*time.Minute
	}
	return c
}

// Journal is the audit and dedup slice of storage.Store.
type Journal interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

type Manager struct {
	store   *alarmstore.Store
	sched   *schedule.Scheduler
	sess    *session.Session
	clock   clock.Clock
	journal Journal
	log     logx.Logger
	bus     eventbus.Bus

	mu  sync.Mutex
	cfg Config
}

// New wires the coordinator. journal may be nil; fired occurrences are then
// remembered in memory only.
func New(cfg Config, store *alarmstore.Store, sched *schedule.Scheduler, sess *session.Session, clk clock.Clock, journal Journal, log logx.Logger, bus eventbus.Bus) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if journal == nil {
		journal = newMemJournal()
	}
	return &Manager{
		store:   store,
		sched:   sched,
		sess:    sess,
		clock:   clk,
		journal: journal,
		log:     log.With(logx.String("comp", "manager")),
		bus:     bus,
		cfg:     cfg.withDefaults(),
	}
}

func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

// Load reads persisted alarms and registers them all.
func (m *Manager) Load(ctx context.Context) schedule.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Load(ctx)
	return m.sched.Refresh(ctx, m.store.List())
}

func (m *Manager) Refresh(ctx context.Context) schedule.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.Refresh(ctx, m.store.List())
}

func (m *Manager) AddAlarm(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved, err := m.store.Add(ctx, a)
	if err != nil {
		return alarm.Alarm{}, err
	}
	m.audit(ctx, storage.AuditEntry{Action: ActionAdded, AlarmID: saved.ID})
	return saved, m.rescheduleLocked(ctx, saved)
}

// UpdateAlarm replaces the alarm; previous triggers are cancelled before the
// new plan is registered.
func (m *Manager) UpdateAlarm(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved, err := m.store.Update(ctx, a)
	if err != nil {
		return alarm.Alarm{}, err
	}
	m.sess.Sync(saved)
	m.audit(ctx, storage.AuditEntry{Action: ActionUpdated, AlarmID: saved.ID})
	return saved, m.rescheduleLocked(ctx, saved)
}

// ModifyAlarm applies fn to the stored alarm, then reschedules it.
func (m *Manager) ModifyAlarm(ctx context.Context, id string, fn func(*alarm.Alarm)) (alarm.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved, err := m.store.Modify(ctx, id, fn)
	if err != nil {
		return alarm.Alarm{}, err
	}
	m.sess.Sync(saved)
	m.audit(ctx, storage.AuditEntry{Action: ActionUpdated, AlarmID: saved.ID})
	return saved, m.rescheduleLocked(ctx, saved)
}

func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) (alarm.Alarm, error) {
	return m.ModifyAlarm(ctx, id, func(a *alarm.Alarm) { a.Enabled = enabled })
}

// DeleteAlarm cancels the alarm's triggers, removes it and ends its session
// if it is the one ringing.
func (m *Manager) DeleteAlarm(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store.Get(id); !ok {
		return fmt.Errorf("%w: %s", alarmstore.ErrNotFound, id)
	}
	if err := m.sched.Unschedule(ctx, id); err != nil {
		m.log.Warn("cancel triggers failed", logx.String("alarm_id", id), logx.Err(err))
	}
	if _, err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	if m.sess.Snapshot().AlarmID == id {
		_ = m.sess.Cancel(ctx)
	}
	m.audit(ctx, storage.AuditEntry{Action: ActionDeleted, AlarmID: id})
	return nil
}

// HandleDue is the "alarm due" entry point for sink deliveries. Unknown or
// disabled alarms, an already active session and an occurrence that already
// fired are all no-ops reported as false.
func (m *Manager) HandleDue(ctx context.Context, alarmID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store.Get(alarmID)
	if !ok || !a.Enabled {
		m.log.Debug("due event ignored", logx.String("alarm_id", alarmID), logx.Bool("known", ok))
		return false
	}
	now := m.clock.Now()
	at, within := occurrence.Due(a, now, m.cfg.DueTolerance)
	if !within {
		at = now.Truncate(time.Minute)
	}
	return m.fireLocked(ctx, a, at, "sink")
}

// CheckPending activates the first enabled alarm with an occurrence inside
// the tolerance window. Safe to call repeatedly; returns the activated id.
func (m *Manager) CheckPending(ctx context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.Active() {
		return "", false
	}
	now := m.clock.Now()
	for _, a := range m.store.List() {
		if !a.Enabled {
			continue
		}
		at, ok := occurrence.Due(a, now, m.cfg.DueTolerance)
		if ok && m.fireLocked(ctx, a, at, "pending_check") {
			return a.ID, true
		}
	}
	return "", false
}

// Ring activates an alarm immediately, outside of its schedule. Disabled
// alarms are refused like any other activation.
func (m *Manager) Ring(ctx context.Context, alarmID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store.Get(alarmID)
	if !ok || !a.Enabled {
		return false
	}
	if !m.sess.Activate(ctx, a) {
		return false
	}
	m.audit(ctx, storage.AuditEntry{Action: ActionActivated, AlarmID: a.ID, MetaJSON: `{"source":"manual"}`})
	return true
}

func (m *Manager) fireLocked(ctx context.Context, a alarm.Alarm, at time.Time, source string) bool {
	if m.sess.Active() {
		return false
	}
	key := firedKey(a.ID, at)
	if m.firedLocked(ctx, a.ID, at) {
		m.log.Debug("occurrence already fired", logx.String("alarm_id", a.ID), logx.Time("occurrence", at))
		return false
	}
	if !m.sess.Activate(ctx, a) {
		return false
	}
	if err := m.journal.PutDedup(ctx, key, m.clock.Now().Add(m.cfg.FiredTTL)); err != nil {
		m.log.Warn("remember fired occurrence failed", logx.String("alarm_id", a.ID), logx.Err(err))
	}
	m.audit(ctx, storage.AuditEntry{Action: ActionActivated, AlarmID: a.ID, MetaJSON: fmt.Sprintf(`{"source":%q,"occurrence":%q}`, source, at.Format(time.RFC3339))})
	return true
}

// firedLocked reports whether the occurrence at was already activated and is
// still remembered. Lookup errors count as not fired.
func (m *Manager) firedLocked(ctx context.Context, alarmID string, at time.Time) bool {
	until, seen, err := m.journal.GetDedup(ctx, firedKey(alarmID, at))
	if err != nil {
		m.log.Warn("fired lookup failed; continuing", logx.String("alarm_id", alarmID), logx.Err(err))
		return false
	}
	return seen && until.After(m.clock.Now())
}

// OnResolved is the session's resolution hook. It only appends to the
// journal, which has its own lock, so it may run inside a manager call
// (DeleteAlarm).
func (m *Manager) OnResolved(res session.Resolution) {
	m.audit(context.Background(), storage.AuditEntry{
		Action:   ActionResolved,
		AlarmID:  res.AlarmID,
		Outcome:  string(res.Outcome),
		Attempts: len(res.Attempts),
		TookMS:   res.Duration.Milliseconds(),
	})
}

func (m *Manager) SubmitAnswer(ctx context.Context, answer string) (bool, error) {
	return m.sess.SubmitAnswer(ctx, answer)
}

func (m *Manager) Override(ctx context.Context) error { return m.sess.Override(ctx) }

// NextAlarmTime is the earliest upcoming occurrence over the enabled alarms,
// computed from the store at call time. Occurrences that already fired (a
// Once alarm answered before its minute, say) are passed over.
func (m *Manager) NextAlarmTime() (time.Time, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx := context.Background()
	return schedule.NextOf(m.store.List(), m.clock.Now(), func(id string, at time.Time) bool {
		return m.firedLocked(ctx, id, at)
	})
}

func (m *Manager) Alarms() []alarm.Alarm { return m.store.List() }

func (m *Manager) Alarm(id string) (alarm.Alarm, bool) { return m.store.Get(id) }

func (m *Manager) Session() session.Snapshot { return m.sess.Snapshot() }

func (m *Manager) rescheduleLocked(ctx context.Context, a alarm.Alarm) error {
	err := m.sched.Reschedule(ctx, a)
	if err != nil {
		m.log.Warn("alarm left unscheduled", logx.String("alarm_id", a.ID), logx.Err(err))
		eventbus.Publish(m.bus, eventbus.ScheduleError, schedule.Summary{Alarms: 1, Failed: []string{a.ID}})
		return fmt.Errorf("%w: %w", ErrNotScheduled, err)
	}
	return nil
}

func (m *Manager) audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = m.clock.Now()
	}
	if err := m.journal.AppendAudit(ctx, e); err != nil {
		m.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func firedKey(alarmID string, at time.Time) string {
	return fmt.Sprintf("fired:%s:%d", alarmID, at.Unix())
}

// memJournal keeps fired markers in memory and drops audit entries.
type memJournal struct {
	mu    sync.Mutex
	fired map[string]time.Time
}

func newMemJournal() *memJournal { return &memJournal{fired: map[string]time.Time{}} }

func (j *memJournal) AppendAudit(context.Context, storage.AuditEntry) error { return nil }

func (j *memJournal) PutDedup(_ context.Context, key string, until time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for k, u := range j.fired {
		if u.Before(until) && len(j.fired) > 256 {
			delete(j.fired, k)
		}
	}
	j.fired[key] = until
	return nil
}

func (j *memJournal) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	u, ok := j.fired[key]
	return u, ok, nil
}
