package config

import (
	"reflect"
	"slices"
	"strings"

	logx "quizalarm/pkg/logx"
)

// Change summarizes a reload. Attrs never carry secrets (tokens, passwords,
// api keys); only whether they are set or changed.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// Restart lists keys whose new value only takes effect after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool { return slices.Contains(c.Sections, section) }

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)
	if tokenChanged || ot.ChatID != nt.ChatID || ot.LogChatID != nt.LogChatID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		mark("telegram",
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.chat_set", nt.ChatID != 0),
		)
		if tokenChanged {
			ch.Restart = append(ch.Restart, "telegram.token")
		}
		if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
			ch.Restart = append(ch.Restart, "telegram.poll_timeout")
		}
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		mark("scheduler",
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.pending_check_interval", newCfg.Scheduler.PendingCheckInterval),
			logx.String("scheduler.due_tolerance", newCfg.Scheduler.DueTolerance),
		)
		if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
			ch.Restart = append(ch.Restart, "scheduler.timezone")
		}
	}

	if !reflect.DeepEqual(oldCfg.Sink, newCfg.Sink) {
		mark("sink", logx.String("sink.driver", newCfg.Sink.Driver), logx.String("sink.mqtt.broker", newCfg.Sink.MQTT.Broker))
		ch.Restart = append(ch.Restart, "sink")
	}

	or, nr := oldCfg.Questions.Remote, newCfg.Questions.Remote
	keyChanged := or.APIKey != nr.APIKey
	if !reflect.DeepEqual(or, nr) {
		mark("questions",
			logx.Bool("questions.remote.enabled", nr.Enabled),
			logx.String("questions.remote.base_url", nr.BaseURL),
			logx.Bool("questions.remote.api_key_changed", keyChanged),
			logx.Bool("questions.remote.ai_validation", nr.AIValidation),
		)
	}

	if !reflect.DeepEqual(oldCfg.Relay, newCfg.Relay) {
		enabled := newCfg.Relay == nil || newCfg.Relay.Enabled
		mark("relay", logx.Bool("relay.enabled", enabled))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", logx.String("storage.driver", driver))
		ch.Restart = append(ch.Restart, "storage")
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		workers := 0
		if newCfg.TaskEngine != nil {
			workers = newCfg.TaskEngine.Workers
		}
		mark("task_engine", logx.Int("task_engine.workers", workers))
	}
	return ch
}
