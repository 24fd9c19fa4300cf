package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"quizalarm/internal/alarm"
	logx "quizalarm/pkg/logx"
)

const (
	defaultRedisKey      = "quizalarm"
	defaultRedisAuditCap = 10000
)

// redisStore keeps the alarm list as one JSON value, the audit trail as a
// capped list and dedup markers as expiring keys.
type redisStore struct {
	c   *redis.Client
	log logx.Logger

	alarmsKey   string
	auditKey    string
	dedupPrefix string
	auditCap    int64
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return newRedisStore(c, cfg, log), nil
}

func newRedisStore(c *redis.Client, cfg Config, log logx.Logger) *redisStore {
	prefix := strings.TrimSpace(cfg.Key)
	if prefix == "" {
		prefix = defaultRedisKey
	}
	capN := int64(cfg.AuditCap)
	if capN <= 0 {
		capN = defaultRedisAuditCap
	}
	return &redisStore{
		c:           c,
		log:         log,
		alarmsKey:   prefix + ":alarms",
		auditKey:    prefix + ":audit",
		dedupPrefix: prefix + ":dedup:",
		auditCap:    capN,
	}
}

func (s *redisStore) Close() error { return s.c.Close() }

func (s *redisStore) LoadAlarms(ctx context.Context) ([]alarm.Alarm, error) {
	val, err := s.c.Get(ctx, s.alarmsKey).Result()
	if errors.Is(err, redis.Nil) {
		return []alarm.Alarm{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []alarm.Alarm{}
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *redisStore) SaveAlarms(ctx context.Context, alarms []alarm.Alarm) error {
	if alarms == nil {
		alarms = []alarm.Alarm{}
	}
	b, err := json.Marshal(alarms)
	if err != nil {
		return err
	}
	return s.c.Set(ctx, s.alarmsKey, string(b), 0).Err()
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.c.TxPipeline()
	pipe.RPush(ctx, s.auditKey, string(b))
	pipe.LTrim(ctx, s.auditKey, -s.auditCap, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if !dedupKeyValid(key) {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.c.Set(ctx, s.dedupPrefix+key, until.UnixMilli(), ttl).Err()
}

func (s *redisStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if !dedupKeyValid(key) {
		return time.Time{}, false, nil
	}
	ms, err := s.c.Get(ctx, s.dedupPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
