package app

import (
	"strings"
	"time"

	"quizalarm/internal/config"
	"quizalarm/internal/manager"
	"quizalarm/internal/notify/cronsink"
	"quizalarm/internal/notify/mqttsink"
	"quizalarm/internal/question"
	"quizalarm/internal/relay"
	"quizalarm/internal/storage"
	"quizalarm/internal/task/engine"
	telegram "quizalarm/internal/transport/telegram/adapter"
	logx "quizalarm/pkg/logx"
)

const (
	defaultPendingInterval = 30 * time.Second
	defaultDeliveryTimeout = 30 * time.Second
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Chat.ThreadID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, bool, error) {
	token := strings.TrimSpace(cfg.Telegram.Token)
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: token, PollTimeout: poll}, token != "", nil
}

// mapStorage returns enabled=false for a missing section or driver "none".
func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
		Key:         strings.TrimSpace(sc.Key),
		BusyTimeout: busy,
	}, true, nil
}

func mapEngine(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     true,
		Workers:     2,
		QueueSize:   64,
		HistorySize: 100,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax > 0 {
		out.RetryMax = te.RetryMax
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapRelay treats an omitted section as enabled with defaults.
func mapRelay(cfg *config.Config) (relay.Config, error) {
	out := relay.Config{Enabled: true, ChatID: cfg.Telegram.ChatID, RetryMax: 3, DedupWindow: 10 * time.Second}
	rc := cfg.Relay
	if rc == nil {
		return out, nil
	}
	out.Enabled = rc.Enabled
	out.Workers = rc.Workers
	out.QueueSize = rc.QueueSize
	out.RatePerSec = rc.RatePerSec
	out.RetryMax = rc.RetryMax
	var err error
	if out.RetryBase, err = config.ParseDurationField("relay.retry_base", rc.RetryBase); err != nil {
		return relay.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("relay.retry_max_delay", rc.RetryMaxDelay); err != nil {
		return relay.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("relay.dedup_window", rc.DedupWindow, 10*time.Second); err != nil {
		return relay.Config{}, err
	}
	return out, nil
}

func mapQuestions(cfg *config.Config) (question.Config, question.RemoteConfig, error) {
	r := cfg.Questions.Remote
	timeout, err := config.ParseDurationOrDefault("questions.remote.timeout", r.Timeout, 8*time.Second)
	if err != nil {
		return question.Config{}, question.RemoteConfig{}, err
	}
	cooldown, err := config.ParseDurationOrDefault("questions.remote.breaker_cooldown", r.BreakerCooldown, time.Minute)
	if err != nil {
		return question.Config{}, question.RemoteConfig{}, err
	}
	qc := question.Config{
		RemoteEnabled:   r.Enabled && strings.TrimSpace(r.BaseURL) != "",
		AIValidation:    r.AIValidation,
		Timeout:         timeout,
		RatePerSec:      r.RatePerSec,
		Burst:           r.Burst,
		BreakerTrip:     r.BreakerTrip,
		BreakerCooldown: cooldown,
	}
	rc := question.RemoteConfig{
		BaseURL: strings.TrimSpace(r.BaseURL),
		APIKey:  strings.TrimSpace(r.APIKey),
		Timeout: timeout,
	}
	return qc, rc, nil
}

func mapManager(cfg *config.Config) (manager.Config, error) {
	tol, err := config.ParseDurationField("scheduler.due_tolerance", cfg.Scheduler.DueTolerance)
	if err != nil {
		return manager.Config{}, err
	}
	return manager.Config{DueTolerance: tol}, nil
}

func mapPendingInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("scheduler.pending_check_interval", cfg.Scheduler.PendingCheckInterval, defaultPendingInterval)
}

func sinkDriver(cfg *config.Config) string {
	d := strings.ToLower(strings.TrimSpace(cfg.Sink.Driver))
	if d == "" {
		return "cron"
	}
	return d
}

func mapCronSink(cfg *config.Config) (cronsink.Config, error) {
	dt, err := config.ParseDurationOrDefault("sink.delivery_timeout", cfg.Sink.DeliveryTimeout, defaultDeliveryTimeout)
	if err != nil {
		return cronsink.Config{}, err
	}
	return cronsink.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone), DeliveryTimeout: dt}, nil
}

func mapMQTTSink(cfg *config.Config) (mqttsink.Config, error) {
	m := cfg.Sink.MQTT
	dt, err := config.ParseDurationOrDefault("sink.delivery_timeout", cfg.Sink.DeliveryTimeout, defaultDeliveryTimeout)
	if err != nil {
		return mqttsink.Config{}, err
	}
	op, err := config.ParseDurationField("sink.mqtt.op_timeout", m.OpTimeout)
	if err != nil {
		return mqttsink.Config{}, err
	}
	return mqttsink.Config{
		Broker:          strings.TrimSpace(m.Broker),
		ClientID:        strings.TrimSpace(m.ClientID),
		Username:        m.Username,
		Password:        m.Password,
		TopicPrefix:     m.TopicPrefix,
		QoS:             byte(m.QoS),
		OpTimeout:       op,
		DeliveryTimeout: dt,
	}, nil
}

// questionDeadline is how long the session waits for generation before it
// falls back to the local bank: one remote timeout plus the same again for
// queueing.
func questionDeadline(qc question.Config) time.Duration {
	return max(2*qc.Timeout, 10*time.Second)
}
