package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"quizalarm/internal/alarm"
	logx "quizalarm/pkg/logx"
)

// dialect captures the few places sqlite and postgres differ.
type dialect struct {
	name       string
	dollarArgs bool // $1, $2 ... instead of ?
	timeArg    func(time.Time) any
}

var (
	sqliteDialect = dialect{
		name:    "sqlite",
		timeArg: func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
	}
	postgresDialect = dialect{
		name:       "postgres",
		dollarArgs: true,
		timeArg:    func(t time.Time) any { return t.UTC() },
	}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.dollarArgs {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// sqlStore implements Store on database/sql for both SQL drivers.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, d: d, log: log, pruneEvery: 500}
}

func (s *sqlStore) migrate(ctx context.Context, script string) error {
	_, err := s.db.ExecContext(ctx, script)
	if err != nil {
		return fmt.Errorf("%s migrate: %w", s.d.name, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) LoadAlarms(ctx context.Context) ([]alarm.Alarm, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM alarms ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []alarm.Alarm{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var a alarm.Alarm
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, fmt.Errorf("decode alarm row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveAlarms(ctx context.Context, alarms []alarm.Alarm) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM alarms`); err != nil {
		return err
	}
	insert := s.d.rebind(`INSERT INTO alarms(id, position, body) VALUES(?,?,?)`)
	for i, a := range alarms {
		var b []byte
		b, err = json.Marshal(a)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, insert, a.ID, i, string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO audit(at, action, alarm_id, actor_id, outcome, attempts, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?)`),
		s.d.timeArg(e.At), e.Action, nullStr(e.AlarmID), e.ActorID, nullStr(e.Outcome),
		e.Attempts, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if !dedupKeyValid(key) {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO dedup(dedup_key, expires_at) VALUES(?,?)
		 ON CONFLICT(dedup_key) DO UPDATE SET expires_at=excluded.expires_at`),
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if !dedupKeyValid(key) {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT expires_at FROM dedup WHERE dedup_key = ?`), key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if ms < time.Now().UnixMilli() {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqlStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`DELETE FROM dedup WHERE expires_at < ?`), time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
