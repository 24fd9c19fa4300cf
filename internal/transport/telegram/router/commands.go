package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quizalarm/internal/alarm"
	"quizalarm/internal/session"
)

var (
	ErrUsage     = errors.New("usage")
	ErrAmbiguous = errors.New("id prefix matches more than one alarm")
	ErrNoAlarm   = errors.New("no alarm with that id")
)

func (r *Router) commands() []Command {
	return []Command{
		{Name: "help", Description: "List commands", Handle: r.cmdHelp},
		{Name: "alarms", Description: "List alarms", Handle: r.cmdAlarms},
		{Name: "add", Usage: "/add HH:MM <once|daily|weekdays|weekends|mon,wed> [categories] [mc] [override] [label]", Description: "Create an alarm", Handle: r.cmdAdd},
		{Name: "delete", Usage: "/delete <id>", Description: "Delete an alarm", Handle: r.cmdDelete},
		{Name: "enable", Usage: "/enable <id>", Description: "Turn an alarm on", Handle: r.toggle(true)},
		{Name: "disable", Usage: "/disable <id>", Description: "Turn an alarm off", Handle: r.toggle(false)},
		{Name: "next", Description: "Show the next alarm", Handle: r.cmdNext},
		{Name: "status", Description: "Show the ringing alarm", Handle: r.cmdStatus},
		{Name: "answer", Usage: "/answer <text>", Description: "Answer the current question", Handle: r.cmdAnswer},
		{Name: "override", Description: "Dismiss with the emergency override", Handle: r.cmdOverride},
		{Name: "ring", Usage: "/ring <id>", Description: "Ring an alarm now", Handle: r.cmdRing},
	}
}

func (r *Router) cmdHelp(context.Context, *Request) (string, error) {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range r.Menu() {
		usage := r.cmds[c.Command].Usage
		if usage == "" {
			usage = "/" + c.Command
		}
		fmt.Fprintf(&b, "\n%s - %s", usage, c.Description)
	}
	return b.String(), nil
}

func (r *Router) cmdAlarms(context.Context, *Request) (string, error) {
	as := r.ctl.Alarms()
	if len(as) == 0 {
		return "No alarms. Create one with /add.", nil
	}
	var b strings.Builder
	for i, a := range as {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(a.Summary())
	}
	return b.String(), nil
}

func (r *Router) cmdAdd(ctx context.Context, req *Request) (string, error) {
	a, err := ParseAdd(req.Args)
	if err != nil {
		return "", err
	}
	saved, err := r.ctl.AddAlarm(ctx, a)
	if err != nil && saved.ID == "" {
		return "", err
	}
	reply := "Added " + saved.Summary()
	if err != nil {
		reply += "\n⚠️ " + err.Error()
	}
	return reply, nil
}

// ParseAdd reads "HH:MM pattern [categories] [mc] [override] [label...]".
// Categories are comma separated; anything unrecognized starts the label.
func ParseAdd(args []string) (alarm.Alarm, error) {
	if len(args) < 2 {
		return alarm.Alarm{}, fmt.Errorf("%w: /add HH:MM <pattern> [categories] [mc] [override] [label]", ErrUsage)
	}
	tod, err := alarm.ParseTimeOfDay(args[0])
	if err != nil {
		return alarm.Alarm{}, err
	}
	p, err := alarm.ParseRepeatPattern(args[1])
	if err != nil {
		return alarm.Alarm{}, err
	}
	a := alarm.Alarm{Time: tod, Repeat: p, Enabled: true}
	rest := args[2:]
	for len(rest) > 0 {
		tok := strings.ToLower(rest[0])
		if tok == "override" {
			a.HasOverride = true
		} else if f, err := alarm.ParseFormat(tok); err == nil && tok != "" {
			a.QuestionFormat = f
		} else if cats, ok := parseCategories(tok); ok {
			a.QuestionTypes = append(a.QuestionTypes, cats...)
		} else {
			break
		}
		rest = rest[1:]
	}
	a.Label = strings.Join(rest, " ")
	return a.Normalize(), nil
}

func parseCategories(s string) ([]alarm.Category, bool) {
	var out []alarm.Category
	for _, part := range strings.Split(s, ",") {
		c, err := alarm.ParseCategory(part)
		if err != nil {
			return nil, false
		}
		out = append(out, c)
	}
	return out, len(out) > 0
}

func (r *Router) cmdDelete(ctx context.Context, req *Request) (string, error) {
	a, err := r.resolve(req, "/delete <id>")
	if err != nil {
		return "", err
	}
	if err := r.ctl.DeleteAlarm(ctx, a.ID); err != nil {
		return "", err
	}
	return "Deleted " + a.Summary(), nil
}

func (r *Router) toggle(enabled bool) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		a, err := r.resolve(req, "/"+req.Command+" <id>")
		if err != nil {
			return "", err
		}
		saved, err := r.ctl.SetEnabled(ctx, a.ID, enabled)
		if err != nil && saved.ID == "" {
			return "", err
		}
		reply := saved.Summary()
		if err != nil {
			reply += "\n⚠️ " + err.Error()
		}
		return reply, nil
	}
}

func (r *Router) cmdNext(context.Context, *Request) (string, error) {
	at, id, ok := r.ctl.NextAlarmTime()
	if !ok {
		return "No upcoming alarms.", nil
	}
	at = at.In(r.loc)
	label := id
	for _, a := range r.ctl.Alarms() {
		if a.ID == id && a.Label != "" {
			label = a.Label
		}
	}
	return fmt.Sprintf("Next: %s (%s), %s", at.Format("Mon 02 Jan 15:04"), label, untilText(time.Until(at))), nil
}

func untilText(d time.Duration) string {
	if d < time.Minute {
		return "in under a minute"
	}
	d = d.Round(time.Minute)
	h, m := int(d.Hours()), int(d.Minutes())%60
	if h == 0 {
		return fmt.Sprintf("in %dm", m)
	}
	return fmt.Sprintf("in %dh%02dm", h, m)
}

func (r *Router) cmdStatus(context.Context, *Request) (string, error) {
	s := r.ctl.Session()
	if s.State != session.Active {
		return "Idle. No alarm is ringing.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Ringing: %s since %s, %d wrong answer(s).", nameOf(s), s.Started.In(r.loc).Format("15:04:05"), len(s.Attempts))
	if s.Question != nil {
		fmt.Fprintf(&b, "\n❓ %s", s.Question.Prompt())
	} else {
		b.WriteString("\nPreparing a question…")
	}
	if s.HasOverride {
		b.WriteString("\nEmergency override available: /override")
	}
	return b.String(), nil
}

func nameOf(s session.Snapshot) string {
	if s.Label != "" {
		return fmt.Sprintf("%q", s.Label)
	}
	return s.AlarmID
}

func (r *Router) cmdAnswer(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.Raw) == "" {
		return "", fmt.Errorf("%w: /answer <text>", ErrUsage)
	}
	correct, err := r.ctl.SubmitAnswer(ctx, req.Raw)
	switch {
	case errors.Is(err, session.ErrNotActive):
		return "No alarm is ringing.", nil
	case errors.Is(err, session.ErrQuestionPending), errors.Is(err, session.ErrStale):
		return "The question is still being prepared. Try again in a moment.", nil
	case err != nil:
		return "", err
	case correct:
		return "✅ Correct! Alarm dismissed.", nil
	default:
		return "✗ Not quite. Here comes another one.", nil
	}
}

func (r *Router) cmdOverride(ctx context.Context, _ *Request) (string, error) {
	switch err := r.ctl.Override(ctx); {
	case errors.Is(err, session.ErrNotActive):
		return "No alarm is ringing.", nil
	case errors.Is(err, session.ErrOverrideNotAllowed):
		return "This alarm has no emergency override. Answer the question to dismiss it.", nil
	case err != nil:
		return "", err
	}
	return "Alarm dismissed by override.", nil
}

func (r *Router) cmdRing(ctx context.Context, req *Request) (string, error) {
	a, err := r.resolve(req, "/ring <id>")
	if err != nil {
		return "", err
	}
	if !a.Enabled {
		return fmt.Sprintf("Alarm %s is disabled. /enable it first.", a.ID), nil
	}
	if !r.ctl.Ring(ctx, a.ID) {
		return "Another alarm is already ringing.", nil
	}
	return "", nil
}

// resolve finds the alarm named by the first argument, by exact id or by a
// unique id prefix.
func (r *Router) resolve(req *Request, usage string) (alarm.Alarm, error) {
	if len(req.Args) == 0 {
		return alarm.Alarm{}, fmt.Errorf("%w: %s", ErrUsage, usage)
	}
	want := req.Args[0]
	var match []alarm.Alarm
	for _, a := range r.ctl.Alarms() {
		if a.ID == want {
			return a, nil
		}
		if strings.HasPrefix(a.ID, want) {
			match = append(match, a)
		}
	}
	switch len(match) {
	case 0:
		return alarm.Alarm{}, fmt.Errorf("%w: %s", ErrNoAlarm, want)
	case 1:
		return match[0], nil
	}
	return alarm.Alarm{}, fmt.Errorf("%w: %s", ErrAmbiguous, want)
}
