// Package alarmstore owns the canonical, ordered list of alarms.
//
// Every mutation is persisted through the Repo. A failed write is logged and
// reported on the bus but never undoes the in-memory change; a failed read
// starts from an empty list.
package alarmstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"quizalarm/internal/alarm"
	"quizalarm/internal/eventbus"
	logx "quizalarm/pkg/logx"
)

var (
	ErrNotFound  = errors.New("alarm not found")
	ErrDuplicate = errors.New("alarm id already exists")
)

// Repo is the persistence slice the store needs. storage.Store satisfies it.
type Repo interface {
	LoadAlarms(ctx context.Context) ([]alarm.Alarm, error)
	SaveAlarms(ctx context.Context, alarms []alarm.Alarm) error
}

type Store struct {
	repo Repo
	log  logx.Logger
	bus  eventbus.Bus

	newID func() string

	wmu sync.Mutex // serializes mutate+persist so saves land in order

	mu     sync.RWMutex
	alarms []alarm.Alarm
}

// New returns an empty store. repo and bus may be nil (memory only, no events).
func New(repo Repo, log logx.Logger, bus eventbus.Bus) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		repo:  repo,
		log:   log.With(logx.String("comp", "alarmstore")),
		bus:   bus,
		newID: uuid.NewString,
	}
}

// Load replaces the in-memory list with the persisted one and returns how many
// alarms were loaded. Records that fail validation or repeat an id are skipped.
func (s *Store) Load(ctx context.Context) int {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	var loaded []alarm.Alarm
	if s.repo != nil {
		var err error
		loaded, err = s.repo.LoadAlarms(ctx)
		if err != nil {
			s.log.Warn("load alarms failed; starting empty", logx.Err(err))
			loaded = nil
		}
	}

	seen := make(map[string]struct{}, len(loaded))
	out := make([]alarm.Alarm, 0, len(loaded))
	for _, a := range loaded {
		a = a.Normalize()
		if err := a.Validate(); err != nil {
			s.log.Warn("skipping invalid alarm record", logx.String("alarm_id", a.ID), logx.Err(err))
			continue
		}
		if _, dup := seen[a.ID]; dup {
			s.log.Warn("skipping duplicate alarm id", logx.String("alarm_id", a.ID))
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}

	s.mu.Lock()
	s.alarms = out
	s.mu.Unlock()
	s.log.Info("alarms loaded", logx.Int("count", len(out)))
	return len(out)
}

// List returns copies in store order.
func (s *Store) List() []alarm.Alarm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alarm.Alarm, len(s.alarms))
	for i, a := range s.alarms {
		out[i] = a.Clone()
	}
	return out
}

func (s *Store) Get(id string) (alarm.Alarm, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.alarms[i].Clone(), true
	}
	return alarm.Alarm{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alarms)
}

// Add assigns an id when a has none, then appends it.
func (s *Store) Add(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if a.ID == "" {
		a.ID = s.newID()
	}
	a = a.Normalize()
	if err := a.Validate(); err != nil {
		return alarm.Alarm{}, err
	}

	s.mu.Lock()
	if s.indexLocked(a.ID) >= 0 {
		s.mu.Unlock()
		return alarm.Alarm{}, fmt.Errorf("%w: %s", ErrDuplicate, a.ID)
	}
	s.alarms = append(s.alarms, a.Clone())
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap)
	eventbus.Publish(s.bus, eventbus.AlarmAdded, a.Clone())
	return a, nil
}

// Update replaces the alarm with the same id, keeping its position.
func (s *Store) Update(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.update(ctx, a)
}

func (s *Store) update(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error) {
	a = a.Normalize()
	if err := a.Validate(); err != nil {
		return alarm.Alarm{}, err
	}
	s.mu.Lock()
	i := s.indexLocked(a.ID)
	if i < 0 {
		s.mu.Unlock()
		return alarm.Alarm{}, fmt.Errorf("%w: %s", ErrNotFound, a.ID)
	}
	s.alarms[i] = a.Clone()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap)
	eventbus.Publish(s.bus, eventbus.AlarmUpdated, a.Clone())
	return a, nil
}

// Modify applies fn to a copy of the stored alarm and stores the result.
func (s *Store) Modify(ctx context.Context, id string, fn func(*alarm.Alarm)) (alarm.Alarm, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	cur, ok := s.Get(id)
	if !ok {
		return alarm.Alarm{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(&cur)
	cur.ID = id
	return s.update(ctx, cur)
}

func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (alarm.Alarm, error) {
	return s.Modify(ctx, id, func(a *alarm.Alarm) { a.Enabled = enabled })
}

// Delete removes the alarm and returns what was removed.
func (s *Store) Delete(ctx context.Context, id string) (alarm.Alarm, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return alarm.Alarm{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := s.alarms[i]
	s.alarms = append(s.alarms[:i:i], s.alarms[i+1:]...)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap)
	eventbus.Publish(s.bus, eventbus.AlarmDeleted, removed.Clone())
	return removed, nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.alarms {
		if s.alarms[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []alarm.Alarm {
	out := make([]alarm.Alarm, len(s.alarms))
	for i, a := range s.alarms {
		out[i] = a.Clone()
	}
	return out
}

func (s *Store) persist(ctx context.Context, snap []alarm.Alarm) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveAlarms(ctx, snap); err != nil {
		s.log.Error("persist alarms failed; keeping in-memory state", logx.Err(err), logx.Int("count", len(snap)))
		eventbus.Publish(s.bus, eventbus.StoreFailed, err.Error())
	}
}
