// Package storeconn owns the lifecycle of database/sql connections to
// reconsync's per-tenant SQLite store files. It mirrors the teacher pack's
// SQLite-open pattern (roach88-nysm's internal/store/store.go): a single
// sql.Open, a Ping, a pragma batch, then caching the handle for reuse.
package storeconn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/rlog"
	"github.com/meridian/reconsync/pkg/types"
)

// JournalMode selects the SQLite journal mode a store is opened with.
// Files under concurrent read access (the network replica) use WAL;
// files about to be copied or replaced wholesale (publish/refresh
// targets, staging files) use DELETE so that a plain file copy is a
// consistent snapshot.
type JournalMode string

const (
	JournalWAL    JournalMode = "WAL"
	JournalDelete JournalMode = "DELETE"
)

type connKey struct {
	tenantID string
	kind     types.StoreKind
	network  bool
}

// Manager owns one *sql.DB per (tenant, store kind, replica side),
// closed on tenant switch or explicit Close.
type Manager struct {
	mu    sync.Mutex
	conns map[connKey]*sql.DB
}

// NewManager returns an empty connection manager.
func NewManager() *Manager {
	return &Manager{conns: make(map[connKey]*sql.DB)}
}

// Open returns the cached *sql.DB for (tenantID, kind, network), opening
// and configuring a new one at path if none is cached yet.
func (m *Manager) Open(ctx context.Context, tenantID string, kind types.StoreKind, network bool, path string, mode JournalMode) (*sql.DB, error) {
	key := connKey{tenantID: tenantID, kind: kind, network: network}

	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.conns[key]; ok {
		return db, nil
	}

	db, err := open(ctx, path, mode)
	if err != nil {
		return nil, err
	}

	m.conns[key] = db
	return db, nil
}

// open configures a fresh SQLite connection: single-writer pool, busy
// timeout, foreign keys on, and the requested journal mode.
func open(ctx context.Context, path string, mode JournalMode) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "open %s", path)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "ping %s", path)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode = %s", mode),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "apply %q on %s", p, path)
		}
	}

	return db, nil
}

// CloseTenant closes every connection held for a tenant, e.g. on tenant
// switch. Close errors are logged, not propagated — best effort.
func (m *Manager) CloseTenant(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, db := range m.conns {
		if key.tenantID != tenantID {
			continue
		}
		if err := db.Close(); err != nil {
			rlog.WithTenant(tenantID).Warn().Err(err).Str("kind", string(key.kind)).Msg("close store connection")
		}
		delete(m.conns, key)
	}
}

// CloseAll closes every connection held by the manager.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, db := range m.conns {
		if err := db.Close(); err != nil {
			rlog.Logger.Warn().Err(err).Str("tenant", key.tenantID).Str("kind", string(key.kind)).Msg("close store connection")
		}
		delete(m.conns, key)
	}
}

// OpenExclusiveProbe opens a second, independent connection to path and
// attempts a BEGIN IMMEDIATE transaction: SQLite's equivalent of an
// OS-level exclusive-open probe (spec.md §4.8's exclusivity test). It
// reports locked=true if the database is busy under another writer.
// The probe connection and any transaction it started are always closed
// before returning.
func OpenExclusiveProbe(ctx context.Context, path string) (locked bool, err error) {
	db, openErr := sql.Open("sqlite3", path)
	if openErr != nil {
		return true, rerr.Wrap(rerr.KindPublish, openErr, "probe open %s", path)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)

	conn, connErr := db.Conn(ctx)
	if connErr != nil {
		return true, nil
	}
	defer conn.Close()

	// BEGIN IMMEDIATE claims the write lock up front, unlike the
	// driver's default deferred transaction: it is the one statement
	// that fails immediately if another process holds the database
	// open for writing, which is what the exclusivity probe needs.
	if _, execErr := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); execErr != nil {
		// Any error here is classified conservatively as locked, per
		// spec.md §4.8's exclusivity test.
		return true, nil
	}
	defer conn.ExecContext(ctx, "ROLLBACK")

	return false, nil
}
