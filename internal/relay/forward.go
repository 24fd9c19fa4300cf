package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quizalarm/internal/eventbus"
	"quizalarm/internal/session"
	logx "quizalarm/pkg/logx"
)

// Forward relays session events from bus until ctx ends.
func (s *Service) Forward(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	events, unsub := bus.Subscribe(32, "session.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text := Format(ev)
			if text == "" {
				continue
			}
			if err := s.Notify(ctx, Message{Text: text}); err != nil && ctx.Err() == nil {
				s.log.Debug("session event not relayed", logx.String("type", ev.Type), logx.Err(err))
			}
		}
	}
}

// Format renders a session event for chat. Unknown events render as "".
func Format(ev eventbus.Event) string {
	switch d := ev.Data.(type) {
	case session.Snapshot:
		switch ev.Type {
		case eventbus.SessionActivated:
			return fmt.Sprintf("⏰ Alarm ringing: %s", alarmName(d.Label, d.AlarmID))
		case eventbus.SessionQuestion:
			return formatQuestion(d)
		case eventbus.SessionWrong:
			return fmt.Sprintf("✗ Wrong answer (%d so far). A new question is on its way.", len(d.Attempts))
		}
	case session.Resolution:
		return formatResolution(d)
	}
	return ""
}

func formatQuestion(s session.Snapshot) string {
	if s.Question == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "❓ [%s] %s\n\nReply with your answer", s.Question.Category, s.Question.Prompt())
	if s.HasOverride {
		b.WriteString(", or /override to dismiss")
	}
	b.WriteString(".")
	return b.String()
}

func formatResolution(r session.Resolution) string {
	name := alarmName(r.Label, r.AlarmID)
	took := r.Duration.Round(time.Second)
	switch r.Outcome {
	case session.OutcomeAnswered:
		if n := len(r.Attempts); n > 0 {
			return fmt.Sprintf("✅ %s dismissed after %d wrong answer(s) in %s.", name, n, took)
		}
		return fmt.Sprintf("✅ %s dismissed on the first try in %s.", name, took)
	case session.OutcomeOverride:
		return fmt.Sprintf("⚠️ %s dismissed by emergency override after %s.", name, took)
	case session.OutcomeCancelled:
		return fmt.Sprintf("🛑 %s stopped because the alarm was removed.", name)
	}
	return ""
}

func alarmName(label, id string) string {
	if label = strings.TrimSpace(label); label != "" {
		return fmt.Sprintf("%q", label)
	}
	return "alarm " + id
}
