package config

// Config is the on-disk configuration. JSON and YAML share the same keys.
// Durations are Go duration strings ("500ms", "30s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Sink      SinkConfig      `json:"sink"`
	Questions QuestionsConfig `json:"questions"`

	// Optional sections. Omitted relay means enabled with defaults; omitted
	// storage means memory only.
	Relay      *RelayConfig      `json:"relay,omitempty"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors records at or above MinLevel into telegram.log_chat_id.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig configures the chat transport. An empty token disables it.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives relayed session events.
	ChatID    int64 `json:"chat_id"`
	LogChatID int64 `json:"log_chat_id"`
	// PollTimeout defaults to 10s.
	PollTimeout string `json:"poll_timeout"`
}

// RelayConfig controls the async chat notification pipeline.
//
// Defaults (when fields are omitted/zero):
//   - workers: 1
//   - queue_size: 64
//   - rate_per_sec: 1
//   - retry_max: 3
//   - retry_base: "1s"
//   - retry_max_delay: "30s"
//   - dedup_window: "10s"
type RelayConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	DedupWindow   string `json:"dedup_window"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./quizalarm.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file | sqlite | postgres | redis | none
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	Key         string `json:"key,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type SchedulerConfig struct {
	// Timezone for trigger rules and the pending check. Empty means local.
	Timezone string `json:"timezone,omitempty"`
	// PendingCheckInterval defaults to 30s.
	PendingCheckInterval string `json:"pending_check_interval,omitempty"`
	// DueTolerance defaults to 60s.
	DueTolerance string `json:"due_tolerance,omitempty"`
}

// SinkConfig selects where triggers are registered.
type SinkConfig struct {
	Driver          string     `json:"driver"` // cron (default) | mqtt
	DeliveryTimeout string     `json:"delivery_timeout,omitempty"`
	MQTT            MQTTConfig `json:"mqtt"`
}

type MQTTConfig struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         int    `json:"qos"`
	OpTimeout   string `json:"op_timeout,omitempty"`
}

type QuestionsConfig struct {
	Remote RemoteQuestionsConfig `json:"remote"`
}

// RemoteQuestionsConfig configures the HTTP question generator. The api key
// is never logged; a change is applied live.
type RemoteQuestionsConfig struct {
	Enabled         bool    `json:"enabled"`
	BaseURL         string  `json:"base_url"`
	APIKey          string  `json:"api_key"`
	Timeout         string  `json:"timeout,omitempty"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	Burst           int     `json:"burst,omitempty"`
	AIValidation    bool    `json:"ai_validation"`
	BreakerTrip     int     `json:"breaker_trip,omitempty"`
	BreakerCooldown string  `json:"breaker_cooldown,omitempty"`
}

// TaskEngineConfig sizes the worker pool that runs trigger deliveries and
// question generation.
//
// Defaults: workers 2, queue_size 64, history_size 100, retry_max 0.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}
