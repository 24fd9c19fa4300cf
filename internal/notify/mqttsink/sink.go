// Package mqttsink hands triggers to an external push gateway over MQTT.
//
// Each trigger is published retained on {prefix}/triggers/{id} as JSON, and
// cancelled by publishing an empty retained message to the same topic. The
// gateway reports firings on {prefix}/due with a JSON notify.Payload.
package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"quizalarm/internal/notify"
	"quizalarm/internal/task/engine"
	logx "quizalarm/pkg/logx"
)

var ErrTimeout = errors.New("mqtt operation timed out")

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	// OpTimeout bounds connect, publish and subscribe waits.
	OpTimeout time.Duration
	// DeliveryTimeout bounds one Handler call.
	DeliveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	c.TopicPrefix = strings.Trim(strings.TrimSpace(c.TopicPrefix), "/")
	if c.TopicPrefix == "" {
		c.TopicPrefix = "quizalarm"
	}
	if c.ClientID == "" {
		c.ClientID = "quizalarm"
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	return c
}

// Client is the subset of mqtt.Client the sink uses.
type Client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Enqueuer is the slice of the task engine the sink uses.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// Dial builds a paho client with auto-reconnect. It does not connect.
func Dial(cfg Config) Client {
	cfg = cfg.withDefaults()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.OpTimeout)
	return mqtt.NewClient(opts)
}

type Sink struct {
	cfg     Config
	client  Client
	exec    Enqueuer
	handler notify.Handler
	log     logx.Logger

	mu      sync.Mutex
	started bool
	known   map[string]notify.Trigger
}

func New(cfg Config, client Client, exec Enqueuer, handler notify.Handler, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{
		cfg:     cfg.withDefaults(),
		client:  client,
		exec:    exec,
		handler: handler,
		log:     log.With(logx.String("comp", "mqttsink")),
		known:   map[string]notify.Trigger{},
	}
}

func (s *Sink) TriggerTopic(id string) string { return s.cfg.TopicPrefix + "/triggers/" + id }
func (s *Sink) DueTopic() string              { return s.cfg.TopicPrefix + "/due" }

// Start connects (when needed) and subscribes to the due topic.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if !s.client.IsConnected() {
		if err := s.wait(s.client.Connect(), "connect"); err != nil {
			return err
		}
	}
	if err := s.wait(s.client.Subscribe(s.DueTopic(), s.cfg.QoS, s.onDue), "subscribe "+s.DueTopic()); err != nil {
		return err
	}
	s.started = true
	s.log.Info("sink started", logx.String("broker", s.cfg.Broker), logx.String("prefix", s.cfg.TopicPrefix))
	return nil
}

func (s *Sink) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	if err := s.wait(s.client.Unsubscribe(s.DueTopic()), "unsubscribe"); err != nil {
		s.log.Warn("unsubscribe failed", logx.Err(err))
	}
	s.client.Disconnect(250)
	s.log.Info("sink stopped")
}

func (s *Sink) Schedule(_ context.Context, t notify.Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trigger %s: %w", t.ID, err)
	}
	if err := s.wait(s.client.Publish(s.TriggerTopic(t.ID), s.cfg.QoS, true, body), "publish "+t.ID); err != nil {
		return err
	}
	s.mu.Lock()
	s.known[t.ID] = t
	s.mu.Unlock()
	s.log.Debug("trigger published", logx.String("trigger", t.ID), logx.String("rule", t.Rule.String()))
	return nil
}

// Cancel clears the retained registration. Clearing an unknown id is harmless
// for the broker, so it is always sent.
func (s *Sink) Cancel(_ context.Context, id string) error {
	if err := s.wait(s.client.Publish(s.TriggerTopic(id), s.cfg.QoS, true, []byte{}), "clear "+id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.known, id)
	s.mu.Unlock()
	return nil
}

// Registered lists ids published by this process and not cancelled since.
func (s *Sink) Registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.known))
	for id := range s.known {
		out = append(out, id)
	}
	return out
}

func (s *Sink) onDue(_ mqtt.Client, msg mqtt.Message) {
	var p notify.Payload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil || p.AlarmID == "" {
		s.log.Warn("ignoring malformed due message", logx.String("topic", msg.Topic()), logx.Int("bytes", len(msg.Payload())))
		return
	}
	if s.handler == nil {
		return
	}
	run := func(ctx context.Context) error { return s.handler(ctx, p) }
	if s.exec != nil {
		err := s.exec.Enqueue(engine.Task{
			Name:    "deliver",
			Key:     "deliver:" + p.AlarmID,
			Timeout: s.cfg.DeliveryTimeout,
			Run:     run,
			Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		})
		if err != nil && !errors.Is(err, engine.ErrOverlapSkip) {
			s.log.Warn("delivery enqueue failed", logx.String("alarm_id", p.AlarmID), logx.Err(err))
		}
		return
	}
	go func() {
		ctx := context.Background()
		if s.cfg.DeliveryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
			defer cancel()
		}
		if err := run(ctx); err != nil {
			s.log.Warn("delivery failed", logx.String("alarm_id", p.AlarmID), logx.Err(err))
		}
	}()
}

func (s *Sink) wait(tok mqtt.Token, op string) error {
	if !tok.WaitTimeout(s.cfg.OpTimeout) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
