// Package router turns owner chat messages into alarm operations.
package router

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"quizalarm/internal/alarm"
	"quizalarm/internal/session"
	kit "quizalarm/internal/transport"
	logx "quizalarm/pkg/logx"
)

const defaultTimeout = 15 * time.Second

// Controller is the slice of the alarm manager the commands drive.
type Controller interface {
	Alarms() []alarm.Alarm
	AddAlarm(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error)
	DeleteAlarm(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) (alarm.Alarm, error)
	NextAlarmTime() (time.Time, string, bool)
	Session() session.Snapshot
	SubmitAnswer(ctx context.Context, answer string) (bool, error)
	Override(ctx context.Context) error
	Ring(ctx context.Context, id string) bool
}

type Command struct {
	Name        string
	Usage       string
	Description string
	Handle      HandlerFunc
}

type Request struct {
	Msg     *kit.Message
	Command string
	Args    []string
	// Raw is the text after the command word.
	Raw string
}

type Router struct {
	ctl    Controller
	sender kit.Sender
	log    logx.Logger
	loc    *time.Location

	mu     sync.RWMutex
	owners []int64

	cmds   map[string]Command
	answer HandlerFunc
}

func New(ctl Controller, sender kit.Sender, owners []int64, loc *time.Location, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	r := &Router{
		ctl:    ctl,
		sender: sender,
		log:    log.With(logx.String("comp", "router")),
		loc:    loc,
		owners: slices.Clone(owners),
		cmds:   map[string]Command{},
	}
	mw := []Middleware{MWRequestLog(r.log), MWPanicRecover(r.log), MWTimeout(defaultTimeout)}
	for _, c := range r.commands() {
		c.Handle = Chain(c.Handle, mw...)
		r.cmds[c.Name] = c
	}
	r.answer = Chain(r.cmdAnswer, mw...)
	return r
}

func (r *Router) SetOwners(ids []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(ids)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// Menu lists the commands for the platform command menu, sorted by name.
func (r *Router) Menu() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Dispatch handles updates until ctx ends or updates is closed.
func (r *Router) Dispatch(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message != nil {
				r.Handle(ctx, up.Message)
			}
		}
	}
}

// Handle runs one message. Only owners are served. Text that is not a
// command counts as an answer while an alarm is ringing and is ignored
// otherwise.
func (r *Router) Handle(ctx context.Context, m *kit.Message) {
	if !r.isOwner(m.FromID) {
		r.log.Debug("ignoring message from non-owner", logx.Int64("from_id", m.FromID))
		return
	}
	name, raw, isCmd := parseCommand(m.Text)
	req := &Request{Msg: m, Command: name, Raw: raw, Args: strings.Fields(raw)}

	var h HandlerFunc
	switch {
	case isCmd:
		c, ok := r.cmds[name]
		if !ok {
			r.reply(ctx, m.ChatID, "Unknown command. Try /help.")
			return
		}
		h = c.Handle
	case r.ctl.Session().State == session.Active:
		req.Command, req.Raw = "answer", strings.TrimSpace(m.Text)
		h = r.answer
	default:
		return
	}

	text, err := h(ctx, req)
	if err != nil {
		text = "⚠️ " + err.Error()
	}
	r.reply(ctx, m.ChatID, text)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if text == "" || r.sender == nil {
		return
	}
	if err := r.sender.SendText(ctx, chatID, text); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// parseCommand splits "/cmd@bot rest" into ("cmd", "rest", true).
func parseCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text, false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	word, _, _ = strings.Cut(word, "@")
	return strings.ToLower(word), strings.TrimSpace(rest), word != ""
}
