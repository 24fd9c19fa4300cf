// Package storage persists the alarm list, the audit trail of sessions and
// short-lived dedup markers.
//
// Drivers:
//   - file: JSON snapshot + JSON Lines (no external services)
//   - sqlite: modernc.org/sqlite database file
//   - postgres: lib/pq
//   - redis: go-redis v8
package storage
