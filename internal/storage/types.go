package storage

import (
	"context"
	"errors"
	"time"

	"quizalarm/internal/alarm"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot of alarms plus jsonl audit and dedup journal
//   - "sqlite": SQLite database file at Path
//   - "postgres": DSN
//   - "redis": Addr/Password/DB, keys prefixed with Key
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Addr        string
	Password    string
	DB          int
	Key         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	AuditCap    int           // redis only; 0 means default
}

// Store is the persistence API used by the alarm store, the session audit
// and the relay dedup.
type Store interface {
	// LoadAlarms returns the saved list in its saved order. A store that has
	// never been written returns an empty list and no error.
	LoadAlarms(ctx context.Context) ([]alarm.Alarm, error)
	// SaveAlarms replaces the whole list atomically.
	SaveAlarms(ctx context.Context, alarms []alarm.Alarm) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// AuditEntry records a session outcome or an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Action   string    `json:"action"`
	AlarmID  string    `json:"alarm_id,omitempty"`
	ActorID  int64     `json:"actor_id,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
