package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  chat_id: -100
scheduler:
  timezone: UTC
  pending_check_interval: 15s
sink:
  driver: mqtt
  mqtt:
    broker: tcp://localhost:1883
    qos: 1
questions:
  remote:
    enabled: true
    base_url: http://quiz.local
    api_key: secret
storage:
  driver: sqlite
  path: ./alarms.db
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("cfg.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, int64(-100), cfg.Telegram.ChatID)
	assert.Equal(t, 1, cfg.Sink.MQTT.QoS)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Nil(t, cfg.Relay)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	cfg, err = Decode("cfg.json", []byte(`{"scheduler":{"due_tolerance":"90s"}}`))
	require.NoError(t, err)
	assert.Equal(t, "90s", cfg.Scheduler.DueTolerance)
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()
	_, err := Decode("cfg.json", []byte(`{"plugins":{}}`))
	assert.Error(t, err, "unknown top-level key")

	_, err = Decode("cfg.yaml", []byte("scheduler:\n  timezon: UTC\n"))
	assert.Error(t, err, "typo in yaml key")

	_, err = Decode("cfg.json", []byte(`{} {}`))
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"zero value", Config{}, true},
		{"bad duration", Config{Scheduler: SchedulerConfig{DueTolerance: "soon"}}, false},
		{"negative duration", Config{Telegram: TelegramConfig{PollTimeout: "-1s"}}, false},
		{"bad timezone", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, false},
		{"mqtt without broker", Config{Sink: SinkConfig{Driver: "mqtt"}}, false},
		{"unknown sink", Config{Sink: SinkConfig{Driver: "push"}}, false},
		{"remote without url", Config{Questions: QuestionsConfig{Remote: RemoteQuestionsConfig{Enabled: true}}}, false},
		{"sqlite without path", Config{Storage: &StorageConfig{Driver: "sqlite"}}, false},
		{"postgres with dsn", Config{Storage: &StorageConfig{Driver: "postgres", DSN: "postgres://x"}}, true},
		{"chat log without target", Config{Logging: LoggingConfig{Chat: LoggingChat{Enabled: true}}}, false},
		{"negative relay workers", Config{Relay: &RelayConfig{Workers: -1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
	d, err = ParseDurationOrDefault("x", " 2m ", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)
	_, err = ParseDurationOrDefault("x", "abc", time.Second)
	assert.ErrorContains(t, err, "x: invalid duration")
}

func TestDiffMarksRestartKeysAndHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("cfg.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg := *oldCfg
	newCfg.Questions.Remote.APIKey = "rotated"
	newCfg.Scheduler.Timezone = "Europe/Berlin"
	newCfg.Logging.Level = "info"

	ch := Diff(oldCfg, &newCfg)
	assert.ElementsMatch(t, []string{"logging", "scheduler", "questions"}, ch.Sections)
	assert.Equal(t, []string{"scheduler.timezone"}, ch.Restart)
	assert.True(t, ch.Has("questions"))
	assert.True(t, Diff(oldCfg, oldCfg).Empty())
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	published, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, published, "unchanged content")

	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"due_tolerance":"later"}}`), 0o600))
	_, err = m.Reload(ctx)
	assert.Error(t, err)
	assert.Equal(t, "info", m.Get().Logging.Level, "rejected config is not committed")

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
	published, err = m.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, published)
	got := <-sub
	assert.Equal(t, "debug", got.Logging.Level)
}

func TestPublishKeepsLatestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	m.publish(&Config{Logging: LoggingConfig{Level: "a"}})
	m.publish(&Config{Logging: LoggingConfig{Level: "b"}})
	assert.Equal(t, "b", (<-sub).Logging.Level)
	m.Unsubscribe(sub)
	m.Unsubscribe(sub)
}
