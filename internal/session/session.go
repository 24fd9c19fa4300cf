// Package session is the alarm activation state machine.
//
// At most one session is active system-wide. Activation is immediate; the
// question is produced asynchronously and a session may be Active with the
// question still pending. Late question results from a superseded request are
// dropped by comparing a request sequence number.
package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"quizalarm/internal/alarm"
	"quizalarm/internal/clock"
	"quizalarm/internal/eventbus"
	"quizalarm/internal/question"
	logx "quizalarm/pkg/logx"
)

var (
	ErrNotActive          = errors.New("no alarm is ringing")
	ErrQuestionPending    = errors.New("question not ready yet")
	ErrOverrideNotAllowed = errors.New("emergency override is not enabled for this alarm")
	ErrStale              = errors.New("question changed while judging")
)

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Audio is the ringing collaborator.
type Audio interface {
	Play(sound alarm.Sound) error
	Stop()
}

type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeOverride  Outcome = "override"
	OutcomeCancelled Outcome = "cancelled"
)

// Attempt is one wrong answer.
type Attempt struct {
	QuestionID string         `json:"question_id"`
	Category   alarm.Category `json:"category"`
	Answer     string         `json:"answer"`
	At         time.Time      `json:"at"`
}

type Resolution struct {
	AlarmID  string        `json:"alarm_id"`
	Label    string        `json:"label,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Attempts []Attempt     `json:"attempts,omitempty"`
	Started  time.Time     `json:"started"`
	Ended    time.Time     `json:"ended"`
	Duration time.Duration `json:"duration"`
}

type Snapshot struct {
	State       State           `json:"state"`
	AlarmID     string          `json:"alarm_id,omitempty"`
	Label       string          `json:"label,omitempty"`
	HasOverride bool            `json:"has_override"`
	Question    *alarm.Question `json:"question,omitempty"`
	Pending     bool            `json:"pending"`
	Attempts    []Attempt       `json:"attempts,omitempty"`
	Started     time.Time       `json:"started,omitzero"`
}

// Runner executes fn asynchronously. The default is a plain goroutine.
type Runner func(fn func(ctx context.Context))

type Option func(*Session)

func WithAudio(a Audio) Option          { return func(s *Session) { s.audio = a } }
func WithRunner(r Runner) Option        { return func(s *Session) { s.run = r } }
func WithClock(c clock.Clock) Option    { return func(s *Session) { s.clock = c } }
func WithRandom(f question.IntN) Option { return func(s *Session) { s.intn = f } }

// WithQuestionDeadline bounds how long a question may stay pending before the
// local bank fills in. Zero or less turns the fallback off.
func WithQuestionDeadline(d time.Duration) Option { return func(s *Session) { s.deadline = d } }

// WithResolvedHook runs fn after every resolution, outside the session lock.
func WithResolvedHook(fn func(Resolution)) Option { return func(s *Session) { s.onResolved = fn } }

type Session struct {
	provider   question.Provider
	audio      Audio
	run        Runner
	clock      clock.Clock
	intn       question.IntN
	onResolved func(Resolution)
	deadline   time.Duration
	bank       *question.Bank
	log        logx.Logger
	bus        eventbus.Bus

	mu       sync.Mutex
	state    State
	alarm    alarm.Alarm
	question *alarm.Question
	reqSeq   uint64
	attempts []Attempt
	started  time.Time
	fallback *time.Timer
}

const defaultQuestionDeadline = 20 * time.Second

func New(provider question.Provider, log logx.Logger, bus eventbus.Bus, opts ...Option) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Session{
		provider: provider,
		audio:    nopAudio{},
		run:      func(fn func(context.Context)) { go fn(context.Background()) },
		clock:    clock.System{},
		intn:     rand.IntN,
		deadline: defaultQuestionDeadline,
		bank:     question.NewBank(),
		log:      log.With(logx.String("comp", "session")),
		bus:      bus,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Activate starts ringing for a. It returns false without side effects when a
// session is already active or a is disabled.
func (s *Session) Activate(ctx context.Context, a alarm.Alarm) bool {
	if !a.Enabled {
		return false
	}
	a = a.Normalize()
	s.mu.Lock()
	if s.state == Active {
		s.mu.Unlock()
		s.log.Debug("activation ignored; session already active", logx.String("alarm_id", a.ID))
		return false
	}
	s.state = Active
	s.alarm = a.Clone()
	s.question = nil
	s.attempts = nil
	s.started = s.clock.Now()
	if err := s.audio.Play(a.Sound); err != nil {
		s.log.Warn("audio start failed", logx.String("alarm_id", a.ID), logx.Err(err))
	}
	seq, req := s.nextRequestLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("alarm activated", logx.String("alarm_id", a.ID), logx.String("category", string(req.Category)))
	eventbus.Publish(s.bus, eventbus.SessionActivated, snap)
	s.populate(seq, req)
	return true
}

// SubmitAnswer judges answer against the current question. A wrong answer
// keeps the session active and requests a fresh question.
func (s *Session) SubmitAnswer(ctx context.Context, answer string) (bool, error) {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return false, ErrNotActive
	}
	if s.question == nil {
		s.mu.Unlock()
		return false, ErrQuestionPending
	}
	q, seq := *s.question, s.reqSeq
	s.mu.Unlock()

	correct := s.provider.Judge(ctx, q, answer)

	s.mu.Lock()
	if s.state != Active || s.reqSeq != seq {
		s.mu.Unlock()
		return false, ErrStale
	}
	if correct {
		res := s.resolveLocked(OutcomeAnswered)
		s.mu.Unlock()
		s.finish(res)
		return true, nil
	}
	s.attempts = append(s.attempts, Attempt{QuestionID: q.ID, Category: q.Category, Answer: answer, At: s.clock.Now()})
	s.question = nil
	nseq, req := s.nextRequestLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("wrong answer", logx.String("alarm_id", snap.AlarmID), logx.Int("attempts", len(snap.Attempts)))
	eventbus.Publish(s.bus, eventbus.SessionWrong, snap)
	s.populate(nseq, req)
	return false, nil
}

// Override dismisses the alarm without an answer when the alarm allows it.
// The question state does not matter.
func (s *Session) Override(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return ErrNotActive
	}
	if !s.alarm.HasOverride {
		s.mu.Unlock()
		return ErrOverrideNotAllowed
	}
	res := s.resolveLocked(OutcomeOverride)
	s.mu.Unlock()
	s.finish(res)
	return nil
}

// Cancel ends the session unconditionally, for example when its alarm is deleted.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return ErrNotActive
	}
	res := s.resolveLocked(OutcomeCancelled)
	s.mu.Unlock()
	s.finish(res)
	return nil
}

// Sync refreshes the active alarm's settings (override flag, categories)
// after an edit. Other alarms are ignored.
func (s *Session) Sync(a alarm.Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Active && s.alarm.ID == a.ID {
		s.alarm = a.Normalize().Clone()
	}
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Active
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) nextRequestLocked() (uint64, question.Request) {
	s.reqSeq++
	cats := s.alarm.QuestionTypes
	return s.reqSeq, question.Request{
		Category: cats[s.intn(len(cats))],
		Format:   s.alarm.QuestionFormat,
	}
}

func (s *Session) populate(seq uint64, req question.Request) {
	s.armFallback(seq, req)
	s.run(func(ctx context.Context) {
		q := s.provider.Generate(ctx, req)
		if !s.offer(seq, q) {
			s.log.Debug("discarding late question", logx.String("question_id", q.ID))
		}
	})
}

// armFallback starts the deadline for request seq. A runner that drops the
// work can then never leave the session without a question.
func (s *Session) armFallback(seq uint64, req question.Request) {
	if s.deadline <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopFallbackLocked()
	s.fallback = time.AfterFunc(s.deadline, func() {
		q := s.bank.Pick(req.Category, req.Format, s.intn)
		if s.offer(seq, q) {
			s.log.Warn("question generation overdue; using local bank",
				logx.String("category", string(req.Category)), logx.Duration("deadline", s.deadline))
		}
	})
}

// offer installs q when request seq is still the pending one.
func (s *Session) offer(seq uint64, q alarm.Question) bool {
	s.mu.Lock()
	if s.state != Active || s.reqSeq != seq || s.question != nil {
		s.mu.Unlock()
		return false
	}
	s.question = &q
	s.stopFallbackLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	eventbus.Publish(s.bus, eventbus.SessionQuestion, snap)
	return true
}

func (s *Session) stopFallbackLocked() {
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
}

func (s *Session) resolveLocked(o Outcome) Resolution {
	now := s.clock.Now()
	res := Resolution{
		AlarmID:  s.alarm.ID,
		Label:    s.alarm.Label,
		Outcome:  o,
		Attempts: s.attempts,
		Started:  s.started,
		Ended:    now,
		Duration: now.Sub(s.started),
	}
	s.audio.Stop()
	s.stopFallbackLocked()
	s.state = Idle
	s.reqSeq++
	s.alarm = alarm.Alarm{}
	s.question = nil
	s.attempts = nil
	s.started = time.Time{}
	return res
}

func (s *Session) finish(res Resolution) {
	s.log.Info("alarm resolved", logx.String("alarm_id", res.AlarmID), logx.String("outcome", string(res.Outcome)),
		logx.Int("wrong_attempts", len(res.Attempts)), logx.Duration("took", res.Duration))
	eventbus.Publish(s.bus, eventbus.SessionResolved, res)
	if s.onResolved != nil {
		s.onResolved(res)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state}
	if s.state != Active {
		return snap
	}
	snap.AlarmID = s.alarm.ID
	snap.Label = s.alarm.Label
	snap.HasOverride = s.alarm.HasOverride
	snap.Pending = s.question == nil
	snap.Started = s.started
	snap.Attempts = append([]Attempt(nil), s.attempts...)
	if s.question != nil {
		q := *s.question
		q.Options = append([]alarm.Option(nil), q.Options...)
		snap.Question = &q
	}
	return snap
}

type nopAudio struct{}

func (nopAudio) Play(alarm.Sound) error { return nil }
func (nopAudio) Stop()                  {}
