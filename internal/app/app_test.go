package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizalarm/internal/alarm"
	"quizalarm/internal/config"
	"quizalarm/internal/question"
	"quizalarm/internal/session"
	"quizalarm/internal/task/engine"
	logx "quizalarm/pkg/logx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMapRelayDefaultsWhenSectionMissing(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Telegram: config.TelegramConfig{ChatID: 42}}
	rc, err := mapRelay(cfg)
	require.NoError(t, err)
	assert.True(t, rc.Enabled)
	assert.Equal(t, int64(42), rc.ChatID)
	assert.Equal(t, 10*time.Second, rc.DedupWindow)
}

func TestMapRelaySection(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Relay: &config.RelayConfig{Enabled: false, Workers: 3, RetryBase: "2s", DedupWindow: "1m"}}
	rc, err := mapRelay(cfg)
	require.NoError(t, err)
	assert.False(t, rc.Enabled)
	assert.Equal(t, 3, rc.Workers)
	assert.Equal(t, 2*time.Second, rc.RetryBase)
	assert.Equal(t, time.Minute, rc.DedupWindow)

	cfg.Relay.RetryMaxDelay = "soon"
	_, err = mapRelay(cfg)
	assert.ErrorContains(t, err, "relay.retry_max_delay")
}

func TestMapStorage(t *testing.T) {
	t.Parallel()
	_, enabled, err := mapStorage(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	_, enabled, err = mapStorage(&config.Config{Storage: &config.StorageConfig{Driver: " None "}})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorage(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: " a.db ", BusyTimeout: "3s"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "a.db", sc.Path)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)
}

func TestMapEngineDefaults(t *testing.T) {
	t.Parallel()
	ec, err := mapEngine(&config.Config{})
	require.NoError(t, err)
	assert.True(t, ec.Enabled)
	assert.Equal(t, 2, ec.Workers)
	assert.Equal(t, 64, ec.QueueSize)

	ec, err = mapEngine(&config.Config{TaskEngine: &config.TaskEngineConfig{Workers: 4, DefaultTimeout: "5s"}})
	require.NoError(t, err)
	assert.Equal(t, 4, ec.Workers)
	assert.Equal(t, 5*time.Second, ec.DefaultTimeout)
}

func TestMapQuestions(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Questions: config.QuestionsConfig{Remote: config.RemoteQuestionsConfig{
		Enabled: true, BaseURL: " https://q.example/ ", APIKey: "k", AIValidation: true, BreakerTrip: 3,
	}}}
	qc, rc, err := mapQuestions(cfg)
	require.NoError(t, err)
	assert.True(t, qc.RemoteEnabled)
	assert.True(t, qc.AIValidation)
	assert.Equal(t, 8*time.Second, qc.Timeout)
	assert.Equal(t, time.Minute, qc.BreakerCooldown)
	assert.Equal(t, "https://q.example/", rc.BaseURL)
	assert.Equal(t, "k", rc.APIKey)

	cfg.Questions.Remote.BaseURL = ""
	qc, _, err = mapQuestions(cfg)
	require.NoError(t, err)
	assert.False(t, qc.RemoteEnabled)
}

func TestMapSinks(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Timezone: "Europe/Berlin"}}
	assert.Equal(t, "cron", sinkDriver(cfg))
	cc, err := mapCronSink(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cc.Timezone)
	assert.Equal(t, defaultDeliveryTimeout, cc.DeliveryTimeout)

	cfg.Sink = config.SinkConfig{Driver: "MQTT", MQTT: config.MQTTConfig{Broker: "tcp://b:1883", QoS: 2, OpTimeout: "4s"}}
	assert.Equal(t, "mqtt", sinkDriver(cfg))
	mc, err := mapMQTTSink(cfg)
	require.NoError(t, err)
	assert.Equal(t, byte(2), mc.QoS)
	assert.Equal(t, 4*time.Second, mc.OpTimeout)
}

func TestMapLoggingUsesLogChat(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{LogChatID: -100},
		Logging:  config.LoggingConfig{Level: "debug", Chat: config.LoggingChat{Enabled: true, ThreadID: 7}},
	}
	lc := mapLogging(cfg)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, int64(-100), lc.Chat.ChatID)
	assert.Equal(t, 7, lc.Chat.ThreadID)
}

func TestValidateMappingCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{PendingCheckInterval: "often"},
		TaskEngine: &config.TaskEngineConfig{
			MaxQueueDelay: "x",
		},
	}
	err := validateMapping(cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "scheduler.pending_check_interval")
	assert.ErrorContains(t, err, "task_engine.max_queue_delay")
	assert.NoError(t, validateMapping(&config.Config{}))
}

func TestReasonForSignal(t *testing.T) {
	t.Parallel()
	assert.Equal(t, StopSIGINT, ReasonForSignal(os.Interrupt))
	assert.Equal(t, StopSIGTERM, ReasonForSignal(syscall.SIGTERM))
	assert.Equal(t, StopUnknown, ReasonForSignal(nil))
}

func TestSetPendingIntervalSignalsOnlyChanges(t *testing.T) {
	t.Parallel()
	a := &App{intervalCh: make(chan time.Duration, 1)}
	a.interval.Store(int64(30 * time.Second))

	a.setPendingInterval(30 * time.Second)
	assert.Empty(t, a.intervalCh)

	a.setPendingInterval(10 * time.Second)
	a.setPendingInterval(5 * time.Second)
	require.Len(t, a.intervalCh, 1)
	assert.Equal(t, 5*time.Second, <-a.intervalCh)
}

func TestAppPersistsAlarmsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"scheduler": {"timezone": "UTC", "pending_check_interval": "1h"},
		"storage": {"driver": "file", "path": %q}
	}`, filepath.Join(dir, "quizalarm.json")))

	ctx := context.Background()
	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))

	at := time.Now().UTC().Add(6 * time.Hour)
	added, err := first.Manager().AddAlarm(ctx, alarm.Alarm{
		Time:    alarm.TimeOfDay{Hour: at.Hour(), Minute: at.Minute()},
		Repeat:  alarm.Daily,
		Enabled: true,
		Label:   "gym",
	})
	require.NoError(t, err)
	require.NoError(t, first.Stop(ctx, StopAppStop))

	second, err := New(path)
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer func() { _ = second.Stop(ctx, StopAppStop) }()

	got := second.Manager().Alarms()
	require.Len(t, got, 1)
	assert.Equal(t, added.ID, got[0].ID)
	assert.Equal(t, "gym", got[0].Label)

	_, id, ok := second.Manager().NextAlarmTime()
	require.True(t, ok)
	assert.Equal(t, added.ID, id)
}

func TestNewRejectsUnknownSink(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"sink": {"driver": "pigeon"}}`)
	_, err := New(path)
	require.Error(t, err)
}

func TestQuestionDroppedByEngineStillArrives(t *testing.T) {
	ctx := context.Background()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1, QueueSize: 4, MaxQueueDelay: 10 * time.Millisecond}, logx.Nop(), nil)
	eng.Start(ctx)
	defer eng.Stop(ctx)

	release := make(chan struct{})
	require.NoError(t, eng.Enqueue(engine.Task{Name: "busy", Run: func(context.Context) error {
		<-release
		return nil
	}}))

	a := &App{engine: eng, log: logx.Nop()}
	sess := session.New(question.NewService(question.Config{}, nil, logx.Nop()), logx.Nop(), nil,
		session.WithRunner(a.runAsync),
		session.WithQuestionDeadline(100*time.Millisecond),
	)
	require.True(t, sess.Activate(ctx, alarm.Alarm{ID: "a1", Enabled: true, Repeat: alarm.Daily}))

	time.Sleep(30 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return eng.Snapshot().DroppedStale == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sess.Snapshot().Question != nil }, 2*time.Second, 5*time.Millisecond)

	q := sess.Snapshot().Question
	ok, err := sess.SubmitAnswer(ctx, q.CorrectAnswer)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, sess.Active())
}

func TestQuestionDeadline(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 16*time.Second, questionDeadline(question.Config{Timeout: 8 * time.Second}))
	assert.Equal(t, 10*time.Second, questionDeadline(question.Config{Timeout: time.Second}))
}
