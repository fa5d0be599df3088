// Package changelog implements the Change Log Store (C4): an
// append-only per-tenant log of (table, recordId, operation) tuples in
// the control store's ChangeLog table, consumed FIFO by pkg/replicator.
// Grounded on roach88-nysm's plain database/sql query/exec style
// (internal/store/write.go).
package changelog

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/types"
)

const timestampLayout = time.RFC3339Nano

// syncAnchorKey is the _SyncConfig row holding the control store's
// sync anchor, per spec.md §3's "LastSyncTimestamp" key-value pair.
const syncAnchorKey = "LastSyncTimestamp"

// Store operates on the ChangeLog table of a tenant's control store.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store bound to a control-store connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the ChangeLog table if it does not already
// exist. Idempotent; never drops or reshapes an existing table, per
// spec.md §6's automatic schema upgrade policy.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ChangeLog (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tableName TEXT NOT NULL,
			recordId TEXT NOT NULL,
			operation TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			synchronized INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "ensure ChangeLog schema")
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _SyncConfig (
			configKey TEXT PRIMARY KEY,
			configValue TEXT
		)
	`)
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "ensure _SyncConfig schema")
	}
	return nil
}

// GetSyncAnchor returns the control store's persisted LastSyncTimestamp
// (spec.md §3's sync anchor), or the zero time if none has been
// recorded yet.
func (s *Store) GetSyncAnchor(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT configValue FROM _SyncConfig WHERE configKey = ?`, syncAnchorKey).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, rerr.Wrap(rerr.KindTransientControlStore, err, "read sync anchor")
	}
	parsed, perr := time.Parse(time.RFC3339, v)
	if perr != nil {
		return time.Time{}, rerr.Wrap(rerr.KindTransientControlStore, perr, "parse sync anchor %q", v)
	}
	return parsed.UTC(), nil
}

// SetSyncAnchor persists t as the control store's LastSyncTimestamp,
// provided it is strictly greater than the currently stored value
// (invariant I2: the sync anchor only advances forward on success).
// A t that would not advance the anchor is silently ignored.
func (s *Store) SetSyncAnchor(ctx context.Context, t time.Time) error {
	current, err := s.GetSyncAnchor(ctx)
	if err != nil {
		return err
	}
	if !current.IsZero() && !t.After(current) {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO _SyncConfig (configKey, configValue) VALUES (?, ?)
		ON CONFLICT(configKey) DO UPDATE SET configValue = excluded.configValue
	`, syncAnchorKey, t.UTC().Format(time.RFC3339))
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "persist sync anchor")
	}
	return nil
}

// Append inserts a single change-log entry.
func (s *Store) Append(ctx context.Context, table, recordID string, op types.Operation, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ChangeLog (tableName, recordId, operation, timestamp, synchronized)
		VALUES (?, ?, ?, ?, 0)
	`, table, recordID, string(op), ts.UTC().Format(timestampLayout))
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "append change log entry for %s:%s", table, recordID)
	}
	return nil
}

// AppendBatch inserts multiple change-log entries inside one
// transaction, all-or-nothing.
func (s *Store) AppendBatch(ctx context.Context, entries []types.ChangeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerr.Wrap(rerr.KindTransaction, err, "begin appendBatch transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ChangeLog (tableName, recordId, operation, timestamp, synchronized)
		VALUES (?, ?, ?, ?, 0)
	`)
	if err != nil {
		return rerr.Wrap(rerr.KindTransaction, err, "prepare appendBatch statement")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.TableName, e.RecordID, string(e.Operation), e.Timestamp.UTC().Format(timestampLayout)); err != nil {
			return rerr.Wrap(rerr.KindTransaction, err, "append batch entry for %s:%s", e.TableName, e.RecordID)
		}
	}

	if err := tx.Commit(); err != nil {
		return rerr.Wrap(rerr.KindTransaction, err, "commit appendBatch transaction")
	}
	return nil
}

// ListUnsynced returns every entry with synchronized = false, ordered
// by ascending id (FIFO order for the replicator).
func (s *Store) ListUnsynced(ctx context.Context) ([]types.ChangeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tableName, recordId, operation, timestamp, synchronized
		FROM ChangeLog
		WHERE synchronized = 0
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "list unsynced change log entries")
	}
	defer rows.Close()

	var entries []types.ChangeLogEntry
	for rows.Next() {
		var e types.ChangeLogEntry
		var op string
		var ts string
		var synced int
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &op, &ts, &synced); err != nil {
			return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "scan change log entry")
		}
		e.Operation = types.Operation(op)
		e.Synchronized = synced != 0
		parsed, perr := time.Parse(timestampLayout, ts)
		if perr != nil {
			return nil, rerr.Wrap(rerr.KindTransientControlStore, perr, "parse change log timestamp %q", ts)
		}
		e.Timestamp = parsed.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "iterate change log entries")
	}

	return entries, nil
}

// MarkSynced sets synchronized = true for the given ids, all-or-nothing
// in one transaction, as required by spec.md §4.4.
func (s *Store) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerr.Wrap(rerr.KindTransaction, err, "begin markSynced transaction")
	}
	defer tx.Rollback()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := "UPDATE ChangeLog SET synchronized = 1 WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return rerr.Wrap(rerr.KindTransaction, err, "markSynced")
	}

	if err := tx.Commit(); err != nil {
		return rerr.Wrap(rerr.KindTransaction, err, "commit markSynced transaction")
	}
	return nil
}

// PendingCount returns the number of unsynchronized entries, read
// through pkg/tenant to populate reconsync_changelog_pending.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ChangeLog WHERE synchronized = 0`).Scan(&count)
	if err != nil {
		return 0, rerr.Wrap(rerr.KindTransientControlStore, err, "count pending change log entries")
	}
	return count, nil
}
