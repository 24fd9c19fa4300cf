package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizalarm/internal/alarm"
	"quizalarm/internal/eventbus"
	"quizalarm/internal/session"
	logx "quizalarm/pkg/logx"
)

type recSender struct {
	mu    sync.Mutex
	fails int
	sent  []Message
	calls int
}

func (r *recSender) SendText(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fails > 0 {
		r.fails--
		return errors.New("429 too many requests")
	}
	r.sent = append(r.sent, Message{ChatID: chatID, Text: text})
	return nil
}

func (r *recSender) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func fastConfig() Config {
	return Config{
		Enabled:       true,
		ChatID:        7,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func TestNotifyDeliversWithRetryAndDedup(t *testing.T) {
	t.Parallel()
	snd := &recSender{fails: 1}
	s := New(fastConfig(), snd, logx.Nop(), nil)
	s.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, Message{Text: "hello"}))
	require.NoError(t, s.Notify(ctx, Message{Text: "hello"}), "duplicate is accepted but suppressed")
	require.NoError(t, s.Notify(ctx, Message{ChatID: 9, Text: "hello"}))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	assert.ElementsMatch(t, []Message{{ChatID: 7, Text: "hello"}, {ChatID: 9, Text: "hello"}}, snd.messages())
	assert.Len(t, s.History(), 2)
	assert.ErrorIs(t, s.Notify(ctx, Message{Text: "late"}), ErrStopped)
}

func TestNotifyRejectsWhenDisabledOrWithoutTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	off := New(Config{}, &recSender{}, logx.Nop(), nil)
	off.Start(ctx)
	assert.ErrorIs(t, off.Notify(ctx, Message{Text: "x"}), ErrDisabled)

	cfg := fastConfig()
	cfg.ChatID = 0
	s := New(cfg, &recSender{}, logx.Nop(), nil)
	s.Start(ctx)
	defer s.Stop(ctx)
	assert.ErrorIs(t, s.Notify(ctx, Message{Text: "x"}), ErrNoTarget)
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(1, EventFailed)
	defer unsub()

	snd := &recSender{fails: 10}
	s := New(fastConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), Message{Text: "x"}))

	select {
	case ev := <-failed:
		assert.Equal(t, int64(7), ev.Data.(Event).ChatID)
	case <-time.After(2 * time.Second):
		t.Fatal("no failure event")
	}
	s.Stop(context.Background())
	assert.Equal(t, 3, snd.calls)
}

func TestRetryDelayIsCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	q := &alarm.Question{Text: "Capital of France?", Category: alarm.CategoryGeography, Format: alarm.FormatOpenEnded}
	tests := []struct {
		name string
		ev   eventbus.Event
		want string
	}{
		{"activated", eventbus.Event{Type: eventbus.SessionActivated, Data: session.Snapshot{AlarmID: "a1", Label: "Gym"}}, `⏰ Alarm ringing: "Gym"`},
		{"question", eventbus.Event{Type: eventbus.SessionQuestion, Data: session.Snapshot{Question: q, HasOverride: true}},
			"❓ [geography] Capital of France?\n\nReply with your answer, or /override to dismiss."},
		{"pending question", eventbus.Event{Type: eventbus.SessionQuestion, Data: session.Snapshot{}}, ""},
		{"wrong", eventbus.Event{Type: eventbus.SessionWrong, Data: session.Snapshot{Attempts: make([]session.Attempt, 2)}},
			"✗ Wrong answer (2 so far). A new question is on its way."},
		{"answered", eventbus.Event{Type: eventbus.SessionResolved, Data: session.Resolution{AlarmID: "a1", Outcome: session.OutcomeAnswered, Duration: 90 * time.Second}},
			"✅ alarm a1 dismissed on the first try in 1m30s."},
		{"override", eventbus.Event{Type: eventbus.SessionResolved, Data: session.Resolution{AlarmID: "a1", Outcome: session.OutcomeOverride, Duration: time.Second}},
			"⚠️ alarm a1 dismissed by emergency override after 1s."},
		{"foreign", eventbus.Event{Type: eventbus.AlarmAdded, Data: "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.ev))
		})
	}
}

func TestForwardRelaysSessionEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := &recSender{}
	s := New(fastConfig(), snd, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Forward(ctx, bus)
	}()
	require.Eventually(t, func() bool {
		eventbus.Publish(bus, eventbus.SessionActivated, session.Snapshot{AlarmID: "a1"})
		return len(snd.messages()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, "⏰ Alarm ringing: alarm a1", snd.messages()[0].Text)
}
