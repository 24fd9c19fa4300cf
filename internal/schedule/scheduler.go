// Package schedule turns alarms into notification sink registrations and
// tracks the next time any alarm rings.
//
// Everything it holds is derived from the alarm list and can be rebuilt by
// Refresh at any time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"quizalarm/internal/alarm"
	"quizalarm/internal/clock"
	"quizalarm/internal/eventbus"
	"quizalarm/internal/notify"
	"quizalarm/internal/occurrence"
	logx "quizalarm/pkg/logx"
)

// Result summarizes one Refresh.
type Result struct {
	Triggers map[string][]notify.Trigger
	Failed   map[string]error
	Next     time.Time
	HasNext  bool
	// NextAlarmID is the alarm that rings at Next.
	NextAlarmID string
}

// Summary is the bus payload for schedule events.
type Summary struct {
	Alarms      int       `json:"alarms"`
	Triggers    int       `json:"triggers"`
	Failed      []string  `json:"failed,omitempty"`
	Next        time.Time `json:"next,omitzero"`
	NextAlarmID string    `json:"next_alarm_id,omitempty"`
}

type Scheduler struct {
	sink  notify.Sink
	clock clock.Clock
	log   logx.Logger
	bus   eventbus.Bus

	mu         sync.Mutex
	registered map[string][]string
}

func New(sink notify.Sink, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Scheduler{
		sink:       sink,
		clock:      clk,
		log:        log.With(logx.String("comp", "scheduler")),
		bus:        bus,
		registered: map[string][]string{},
	}
}

// Plan returns the triggers a should be registered with at now. Disabled
// alarms, Once alarms whose time has passed and empty day sets plan nothing.
// Recurring rules are pinned to now's location.
func Plan(a alarm.Alarm, now time.Time) []notify.Trigger {
	if !a.Enabled {
		return nil
	}
	payload := notify.Payload{AlarmID: a.ID, Label: a.Label}
	switch a.Repeat.Kind() {
	case alarm.KindOnce:
		at, ok := occurrence.Next(a, now)
		if !ok {
			return nil
		}
		return []notify.Trigger{{ID: notify.TriggerID(a.ID, 0), Rule: notify.OnDate(at), Payload: payload}}
	case alarm.KindDaily:
		return []notify.Trigger{{ID: notify.TriggerID(a.ID, 0), Rule: notify.DailyAt(a.Time).In(now.Location()), Payload: payload}}
	}
	days := a.Repeat.Days()
	out := make([]notify.Trigger, 0, len(days))
	for _, w := range days {
		out = append(out, notify.Trigger{ID: notify.TriggerID(a.ID, w), Rule: notify.WeeklyAt(w, a.Time).In(now.Location()), Payload: payload})
	}
	return out
}

// Refresh re-registers every alarm, cancels triggers of alarms that are gone
// and recomputes the next ring time. Registration failures are collected per
// alarm and retried on the next Refresh.
func (s *Scheduler) Refresh(ctx context.Context, alarms []alarm.Alarm) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	res := Result{Triggers: map[string][]notify.Trigger{}, Failed: map[string]error{}}
	present := make(map[string]struct{}, len(alarms))
	for _, a := range alarms {
		present[a.ID] = struct{}{}
		trs, err := s.rescheduleLocked(ctx, a, now)
		if err != nil {
			res.Failed[a.ID] = err
			s.log.Warn("alarm left unscheduled", logx.String("alarm_id", a.ID), logx.Err(err))
		}
		if len(trs) > 0 {
			res.Triggers[a.ID] = trs
		}
	}
	for id := range s.registered {
		if _, ok := present[id]; !ok {
			if err := s.unscheduleLocked(ctx, id); err != nil {
				s.log.Warn("cancel orphaned triggers failed", logx.String("alarm_id", id), logx.Err(err))
			}
		}
	}

	res.Next, res.NextAlarmID, res.HasNext = NextOf(alarms, now, nil)

	sum := res.Summary(len(alarms))
	if len(res.Failed) > 0 {
		eventbus.Publish(s.bus, eventbus.ScheduleError, sum)
	} else {
		eventbus.Publish(s.bus, eventbus.ScheduleDone, sum)
	}
	s.log.Debug("schedule refreshed", logx.Int("alarms", sum.Alarms), logx.Int("triggers", sum.Triggers), logx.Int("failed", len(sum.Failed)))
	return res
}

// Reschedule cancels a's triggers and registers the current plan.
func (s *Scheduler) Reschedule(ctx context.Context, a alarm.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.rescheduleLocked(ctx, a, s.clock.Now())
	return err
}

// Unschedule cancels every trigger of the alarm.
func (s *Scheduler) Unschedule(ctx context.Context, alarmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unscheduleLocked(ctx, alarmID)
}

// Registered lists the trigger ids currently registered for an alarm.
func (s *Scheduler) Registered(alarmID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.registered[alarmID]...)
}

func (s *Scheduler) rescheduleLocked(ctx context.Context, a alarm.Alarm, now time.Time) ([]notify.Trigger, error) {
	if err := s.unscheduleLocked(ctx, a.ID); err != nil {
		return nil, err
	}
	plan := Plan(a, now)
	var (
		ids  []string
		errs []error
	)
	for _, t := range plan {
		if err := s.sink.Schedule(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", t.ID, err))
			continue
		}
		ids = append(ids, t.ID)
	}
	s.registered[a.ID] = ids
	if len(errs) > 0 {
		return plan, errors.Join(errs...)
	}
	return plan, nil
}

// unscheduleLocked cancels the known ids, or every possible id when this
// process has not registered the alarm yet (for example after a restart).
func (s *Scheduler) unscheduleLocked(ctx context.Context, alarmID string) error {
	ids, known := s.registered[alarmID]
	if !known {
		ids = notify.TriggerIDs(alarmID)
	}
	var errs []error
	for _, id := range ids {
		if err := s.sink.Cancel(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	delete(s.registered, alarmID)
	return nil
}

// NextOf is the earliest occurrence strictly after now over the enabled
// alarms. skip, when set, reports occurrences that were already consumed;
// the search then moves on to the one after.
func NextOf(alarms []alarm.Alarm, now time.Time, skip func(alarmID string, at time.Time) bool) (time.Time, string, bool) {
	var (
		best   time.Time
		bestID string
	)
	for _, a := range alarms {
		if !a.Enabled {
			continue
		}
		at, ok := occurrence.Next(a, now)
		for i := 0; ok && skip != nil && i < 8 && skip(a.ID, at); i++ {
			at, ok = occurrence.Next(a, at)
		}
		if ok && skip != nil && skip(a.ID, at) {
			continue
		}
		if ok && (best.IsZero() || at.Before(best)) {
			best, bestID = at, a.ID
		}
	}
	return best, bestID, !best.IsZero()
}

func (r Result) Summary(alarms int) Summary {
	sum := Summary{Alarms: alarms, Next: r.Next, NextAlarmID: r.NextAlarmID}
	for _, trs := range r.Triggers {
		sum.Triggers += len(trs)
	}
	for id := range r.Failed {
		sum.Failed = append(sum.Failed, id)
	}
	sort.Strings(sum.Failed)
	return sum
}
