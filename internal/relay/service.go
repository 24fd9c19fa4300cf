// Package relay forwards session activity to a chat.
//
// Messages go through a bounded queue drained by a small worker pool. Each
// send is rate limited and retried with jittered backoff; identical messages
// to the same chat inside the dedup window are suppressed. A full queue drops
// the message instead of blocking the caller, since nothing in the alarm path
// may wait on chat delivery.
package relay

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"quizalarm/internal/eventbus"
	rtsup "quizalarm/internal/runtime/supervisor"
	logx "quizalarm/pkg/logx"
)

var (
	ErrDisabled  = errors.New("relay disabled")
	ErrQueueFull = errors.New("relay queue full")
	ErrStopped   = errors.New("relay stopped")
	ErrNoTarget  = errors.New("relay has no target chat")
)

// Bus event types.
const (
	EventSent    = "relay.sent"
	EventDeduped = "relay.deduped"
	EventDropped = "relay.dropped"
	EventFailed  = "relay.failed"
)

const (
	sendTimeout  = 10 * time.Second
	historyLimit = 100
	dedupLimit   = 1000
)

// Sender delivers text to a chat. The telegram transport implements it.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	Enabled bool
	// ChatID is the default target when a Message has none.
	ChatID        int64
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	return c
}

type Message struct {
	ChatID int64
	Text   string
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	ChatID int64     `json:"chat_id"`
	Text   string    `json:"text"`
}

// Event is the bus payload for relay lifecycle events.
type Event struct {
	ChatID int64  `json:"chat_id"`
	Key    string `json:"key"`
	Error  string `json:"error,omitempty"`
}

type job struct {
	msg Message
	key string
}

type Service struct {
	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	sender    Sender
	queue     chan job
	sup       *rtsup.Supervisor
	accepting bool
	enqueueWG sync.WaitGroup

	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "relay")),
		bus:    bus,
		now:    time.Now,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates limits and the default target. Worker count and queue size
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
}

func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Start launches the workers. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.queue != nil {
		return
	}
	q := make(chan job, s.cfg.QueueSize)
	s.queue = q
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	for i := range s.cfg.Workers {
		s.sup.GoRestart(fmt.Sprintf("relay.worker.%d", i), func(c context.Context) error {
			return s.workerLoop(c, q)
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop refuses new messages, lets the workers drain what is queued and waits
// until ctx ends. Workers still sending at the deadline are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	s.enqueueWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("relay stop deadline reached; dropping undelivered messages", logx.Int("pending", len(q)))
		sup.Cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()
}

// Notify queues msg for delivery. A duplicate inside the dedup window is
// silently accepted.
func (s *Service) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if msg.ChatID == 0 {
		msg.ChatID = s.cfg.ChatID
	}
	if msg.ChatID == 0 {
		s.mu.Unlock()
		return ErrNoTarget
	}
	q, window := s.queue, s.cfg.DedupWindow
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	key := dedupKey(msg)
	if window > 0 && !s.dedupAllow(key, window) {
		eventbus.Publish(s.bus, EventDeduped, Event{ChatID: msg.ChatID, Key: key})
		return nil
	}
	select {
	case q <- job{msg: msg, key: key}:
		return nil
	default:
		s.log.Warn("relay queue full; message dropped", logx.Int64("chat_id", msg.ChatID))
		eventbus.Publish(s.bus, EventDropped, Event{ChatID: msg.ChatID, Key: key, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.send(ctx, j)
		}
	}
}

func (s *Service) send(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sender.SendText(cctx, j.msg.ChatID, j.msg.Text)
		cancel()
		if err == nil {
			s.record(j.msg)
			eventbus.Publish(s.bus, EventSent, Event{ChatID: j.msg.ChatID, Key: j.key})
			return
		}
		lastErr = err
		s.log.Debug("relay send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	s.log.Warn("relay send gave up", logx.Int64("chat_id", j.msg.ChatID), logx.Err(lastErr))
	eventbus.Publish(s.bus, EventFailed, Event{ChatID: j.msg.ChatID, Key: j.key, Error: lastErr.Error()})
}

func (s *Service) record(msg Message) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: s.now(), ChatID: msg.ChatID, Text: msg.Text})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := s.now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)
	if len(s.dedup) > dedupLimit {
		for k, until := range s.dedup {
			if !now.Before(until) {
				delete(s.dedup, k)
			}
		}
	}
	return true
}

func dedupKey(m Message) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s", m.ChatID, m.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
