package question

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"quizalarm/internal/alarm"
	logx "quizalarm/pkg/logx"
)

type Config struct {
	// RemoteEnabled turns on the remote generator when one is attached.
	RemoteEnabled bool
	// AIValidation lets the remote judge open-ended answers leniently.
	AIValidation bool
	Timeout      time.Duration
	// RatePerSec limits remote calls; 0 means unlimited.
	RatePerSec float64
	Burst      int
	// BreakerTrip consecutive failures open the breaker for BreakerCooldown.
	// A negative trip disables it.
	BreakerTrip     int
	BreakerCooldown time.Duration
}

// Stats is a diagnostic view.
type Stats struct {
	RemoteEnabled bool
	AIValidation  bool
	RemoteOK      uint64
	RemoteFailed  uint64
	Fallbacks     uint64
	BreakerFails  int
	BreakerOpen   bool
}

// Service is the Provider used by alarm sessions.
type Service struct {
	log  logx.Logger
	bank *Bank
	brk  *breaker
	now  func() time.Time
	intn IntN

	mu      sync.RWMutex
	cfg     Config
	remote  Remote
	limiter *rate.Limiter

	statsMu sync.Mutex
	stats   Stats
}

var _ Provider = (*Service)(nil)

// NewService builds a provider. remote may be nil (bank only).
func NewService(cfg Config, remote Remote, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:  log.With(logx.String("comp", "questions")),
		bank: NewBank(),
		brk:  newBreaker(cfg.BreakerTrip, cfg.BreakerCooldown),
		now:  time.Now,
		intn: rand.IntN,
	}
	s.remote = remote
	s.applyLocked(cfg)
	return s
}

// Apply swaps settings live, including the rate limit and breaker.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
	s.brk.configure(cfg.BreakerTrip, cfg.BreakerCooldown)
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	lim := rate.Inf
	if cfg.RatePerSec > 0 {
		lim = rate.Limit(cfg.RatePerSec)
	}
	burst := max(cfg.Burst, 1)
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(lim, burst)
	} else {
		s.limiter.SetLimit(lim)
		s.limiter.SetBurst(burst)
	}
	s.cfg = cfg
}

// SetRemote replaces the remote source, for example after an API key change.
func (s *Service) SetRemote(r Remote) {
	s.mu.Lock()
	s.remote = r
	s.mu.Unlock()
}

func (s *Service) SetAIValidation(enabled bool) {
	s.mu.Lock()
	s.cfg.AIValidation = enabled
	s.mu.Unlock()
}

// Generate returns a valid question whose Category is req.Category. Remote
// failures of any kind fall back to the bank.
func (s *Service) Generate(ctx context.Context, req Request) alarm.Question {
	if !req.Category.Valid() {
		req.Category = alarm.DefaultCategory
	}
	if !req.Format.Valid() {
		req.Format = alarm.FormatOpenEnded
	}
	if remote, cfg, ok := s.remoteFor(); ok {
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		q, err := remote.Generate(cctx, req)
		cancel()
		if err == nil {
			err = q.Validate()
		}
		s.recordRemote(err)
		if err == nil {
			q.Category = req.Category
			if q.ID == "" {
				q.ID = uuid.NewString()
			}
			return q
		}
		s.log.Debug("remote question failed; using bank", logx.String("category", string(req.Category)), logx.Err(err))
	}
	s.statsMu.Lock()
	s.stats.Fallbacks++
	s.statsMu.Unlock()
	return s.bank.Pick(req.Category, req.Format, s.intn)
}

// Judge is local for multiple choice. Open-ended answers that do not match
// exactly go to the remote judge when AI validation is on, falling back to
// the exact comparison on failure.
func (s *Service) Judge(ctx context.Context, q alarm.Question, answer string) bool {
	exact := JudgeLocal(q, answer)
	if exact || q.Format == alarm.FormatMultipleChoice || Normalize(answer) == "" {
		return exact
	}
	remote, cfg, ok := s.remoteFor()
	if !ok || !cfg.AIValidation {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	correct, err := remote.Judge(cctx, JudgeRequest{Question: q.Text, CorrectAnswer: q.CorrectAnswer, Answer: answer})
	s.recordRemote(err)
	if err != nil {
		s.log.Debug("remote judge failed; exact comparison stands", logx.Err(err))
		return false
	}
	return correct
}

func (s *Service) Stats() Stats {
	s.mu.RLock()
	cfg, hasRemote := s.cfg, s.remote != nil
	s.mu.RUnlock()
	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()
	st.RemoteEnabled = cfg.RemoteEnabled && hasRemote
	st.AIValidation = cfg.AIValidation
	st.BreakerFails, st.BreakerOpen = s.brk.state(s.now())
	return st
}

// remoteFor returns the remote when it is configured, the breaker is closed
// and the limiter has a token.
func (s *Service) remoteFor() (Remote, Config, bool) {
	s.mu.RLock()
	remote, cfg, lim := s.remote, s.cfg, s.limiter
	s.mu.RUnlock()
	if remote == nil || !cfg.RemoteEnabled {
		return nil, cfg, false
	}
	if !s.brk.allow(s.now()) {
		return nil, cfg, false
	}
	if !lim.Allow() {
		s.log.Debug("remote question call rate limited")
		return nil, cfg, false
	}
	return remote, cfg, true
}

func (s *Service) recordRemote(err error) {
	s.brk.record(s.now(), err)
	s.statsMu.Lock()
	if err != nil {
		s.stats.RemoteFailed++
	} else {
		s.stats.RemoteOK++
	}
	s.statsMu.Unlock()
}
