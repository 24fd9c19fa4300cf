// Package cronsink is the in-process notification sink. Recurring rules are
// robfig/cron entries; date rules are one-shot timers guarded by a version so
// a replaced or cancelled timer never delivers. Deliveries run on the task
// engine when one is attached.
package cronsink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"quizalarm/internal/notify"
	"quizalarm/internal/task/engine"
	logx "quizalarm/pkg/logx"
)

type Config struct {
	Timezone string
	// DeliveryTimeout bounds one Handler call.
	DeliveryTimeout time.Duration
}

// Enqueuer is the slice of the task engine the sink uses.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type Sink struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	exec    Enqueuer
	handler notify.Handler

	c       *cron.Cron
	loc     *time.Location
	defs    map[string]notify.Trigger
	entries map[string]cron.EntryID

	tmu     sync.Mutex
	timers  map[string]*time.Timer
	onceVer map[string]uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// Entry is a diagnostic view of one registered trigger.
type Entry struct {
	ID   string
	Rule string
	Next time.Time
}

const enqueueWarnThrottle = 5 * time.Second

// New returns a stopped sink. exec may be nil, then handlers run on their own goroutine.
func New(cfg Config, exec Enqueuer, handler notify.Handler, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "cronsink")),
		exec:        exec,
		handler:     handler,
		defs:        map[string]notify.Trigger{},
		entries:     map[string]cron.EntryID{},
		timers:      map[string]*time.Timer{},
		onceVer:     map[string]uint64{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Start begins triggering and registers every trigger scheduled while stopped.
func (s *Sink) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("sink started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))
}

func (s *Sink) startLocked() {
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	s.c = cron.New(cron.WithLocation(s.loc))
	s.entries = map[string]cron.EntryID{}
	for id, t := range s.defs {
		if err := s.registerLocked(t); err != nil {
			s.log.Warn("re-register trigger failed", logx.String("trigger", id), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts triggering. Definitions are kept so Start resumes them.
func (s *Sink) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.tmu.Lock()
	for id, t := range s.timers {
		t.Stop()
		s.onceVer[id]++
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()
	s.log.Info("sink stopped")
}

// Apply swaps the config; a time zone change restarts cron with every
// definition re-registered.
func (s *Sink) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.c.Stop()
	s.startLocked()
	s.log.Info("sink restarted", logx.String("tz", s.loc.String()))
}

func (s *Sink) Schedule(_ context.Context, t notify.Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t.ID)
	s.defs[t.ID] = t
	if s.c == nil {
		return nil
	}
	if err := s.registerLocked(t); err != nil {
		delete(s.defs, t.ID)
		return err
	}
	s.log.Debug("trigger registered", logx.String("trigger", t.ID), logx.String("rule", t.Rule.String()))
	return nil
}

func (s *Sink) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeLocked(id) {
		s.log.Debug("trigger cancelled", logx.String("trigger", id))
	}
	return nil
}

// Registered returns the ids of every known trigger, sorted.
func (s *Sink) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Sink) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for id, t := range s.defs {
		e := Entry{ID: id, Rule: t.Rule.String()}
		switch {
		case t.Rule.Kind == notify.RuleDate:
			e.Next = t.Rule.At
		case s.c != nil:
			e.Next = s.c.Entry(s.entries[id]).Next
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cronSpec(r notify.Rule) (string, error) {
	var spec string
	switch r.Kind {
	case notify.RuleDaily:
		spec = fmt.Sprintf("%d %d * * *", r.Minute, r.Hour)
	case notify.RuleWeekly:
		spec = fmt.Sprintf("%d %d * * %d", r.Minute, r.Hour, int(r.Weekday.Time()))
	default:
		return "", fmt.Errorf("%w: %s has no cron form", notify.ErrInvalidTrigger, r.Kind)
	}
	if r.TZ != "" {
		spec = "CRON_TZ=" + r.TZ + " " + spec
	}
	return spec, nil
}

func (s *Sink) registerLocked(t notify.Trigger) error {
	if t.Rule.Kind == notify.RuleDate {
		s.armTimer(t)
		return nil
	}
	spec, err := cronSpec(t.Rule)
	if err != nil {
		return err
	}
	id, err := s.c.AddFunc(spec, func() { s.deliver(t) })
	if err != nil {
		return fmt.Errorf("cron %q: %w", spec, err)
	}
	s.entries[t.ID] = id
	return nil
}

func (s *Sink) armTimer(t notify.Trigger) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old, ok := s.timers[t.ID]; ok {
		old.Stop()
	}
	ver := s.onceVer[t.ID] + 1
	s.onceVer[t.ID] = ver
	delay := max(time.Until(t.Rule.At), 0)
	s.timers[t.ID] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.onceVer[t.ID] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, t.ID)
		delete(s.onceVer, t.ID)
		s.tmu.Unlock()

		s.mu.Lock()
		if cur, ok := s.defs[t.ID]; ok && cur.Rule == t.Rule {
			delete(s.defs, t.ID)
		}
		s.mu.Unlock()
		s.deliver(t)
	})
}

func (s *Sink) removeLocked(id string) bool {
	_, had := s.defs[id]
	delete(s.defs, id)
	if eid, ok := s.entries[id]; ok {
		if s.c != nil {
			s.c.Remove(eid)
		}
		delete(s.entries, id)
	}
	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if _, ok := s.onceVer[id]; ok {
		s.onceVer[id]++
	}
	s.tmu.Unlock()
	return had
}

func (s *Sink) deliver(t notify.Trigger) {
	if s.handler == nil {
		return
	}
	s.mu.Lock()
	timeout := s.cfg.DeliveryTimeout
	s.mu.Unlock()
	run := func(ctx context.Context) error { return s.handler(ctx, t.Payload) }

	if s.exec == nil {
		go func() {
			ctx, cancel := contextFor(timeout)
			defer cancel()
			if err := run(ctx); err != nil {
				s.log.Warn("delivery failed", logx.String("trigger", t.ID), logx.Err(err))
			}
		}()
		return
	}
	err := s.exec.Enqueue(engine.Task{
		Name:    "deliver",
		Key:     "deliver:" + t.ID,
		Timeout: timeout,
		Run:     run,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
	})
	s.reportEnqueueError(t.ID, err)
}

func contextFor(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}

func (s *Sink) reportEnqueueError(id string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("delivery skipped: previous still running", logx.String("trigger", id))
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[id]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[id] = now
	s.enqMu.Unlock()
	s.log.Warn("delivery enqueue failed", logx.String("trigger", id), logx.Err(err))
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
