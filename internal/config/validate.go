package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative duration; empty means 0. path is
// the config key used in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Location resolves scheduler.timezone; empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// Validate checks bounds and parses every duration so a bad hot reload is
// rejected before it is committed.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	nonNeg := func(path string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", path))
		}
	}

	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	if c.Logging.Chat.Enabled && c.Telegram.LogChatID == 0 {
		errs = append(errs, errors.New("logging.chat.enabled requires telegram.log_chat_id"))
	}
	nonNeg("logging.chat.rate_per_sec", c.Logging.Chat.RatePerSec)

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	dur("scheduler.pending_check_interval", c.Scheduler.PendingCheckInterval)
	dur("scheduler.due_tolerance", c.Scheduler.DueTolerance)

	switch strings.ToLower(strings.TrimSpace(c.Sink.Driver)) {
	case "", "cron":
	case "mqtt":
		if strings.TrimSpace(c.Sink.MQTT.Broker) == "" {
			errs = append(errs, errors.New("sink.mqtt.broker is required when sink.driver=mqtt"))
		}
		if q := c.Sink.MQTT.QoS; q < 0 || q > 2 {
			errs = append(errs, fmt.Errorf("sink.mqtt.qos must be 0, 1 or 2 (got %d)", q))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink.driver: %s", c.Sink.Driver))
	}
	dur("sink.delivery_timeout", c.Sink.DeliveryTimeout)
	dur("sink.mqtt.op_timeout", c.Sink.MQTT.OpTimeout)

	rq := c.Questions.Remote
	if rq.Enabled && strings.TrimSpace(rq.BaseURL) == "" {
		errs = append(errs, errors.New("questions.remote.base_url is required when remote questions are enabled"))
	}
	if rq.RatePerSec < 0 {
		errs = append(errs, errors.New("questions.remote.rate_per_sec must be >= 0"))
	}
	nonNeg("questions.remote.burst", rq.Burst)
	dur("questions.remote.timeout", rq.Timeout)
	dur("questions.remote.breaker_cooldown", rq.BreakerCooldown)

	if r := c.Relay; r != nil {
		nonNeg("relay.workers", r.Workers)
		nonNeg("relay.queue_size", r.QueueSize)
		nonNeg("relay.rate_per_sec", r.RatePerSec)
		nonNeg("relay.retry_max", r.RetryMax)
		dur("relay.retry_base", r.RetryBase)
		dur("relay.retry_max_delay", r.RetryMaxDelay)
		dur("relay.dedup_window", r.DedupWindow)
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, errors.New("storage.path is required when storage.driver=sqlite"))
			}
		case "postgres", "postgresql":
			if strings.TrimSpace(s.DSN) == "" {
				errs = append(errs, errors.New("storage.dsn is required when storage.driver=postgres"))
			}
		case "redis":
			if strings.TrimSpace(s.Addr) == "" {
				errs = append(errs, errors.New("storage.addr is required when storage.driver=redis"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		nonNeg("storage.db", s.DB)
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	if e := c.TaskEngine; e != nil {
		nonNeg("task_engine.workers", e.Workers)
		nonNeg("task_engine.queue_size", e.QueueSize)
		nonNeg("task_engine.history_size", e.HistorySize)
		nonNeg("task_engine.retry_max", e.RetryMax)
		dur("task_engine.default_timeout", e.DefaultTimeout)
		dur("task_engine.max_queue_delay", e.MaxQueueDelay)
	}
	return errors.Join(errs...)
}
