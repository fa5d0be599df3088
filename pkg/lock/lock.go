// Package lock implements the Global Lock Manager (C5): an exclusive
// lease row per tenant in the control store's SyncLocks table, with
// heartbeat renewal, expiry-based recovery, and stale-owner purging.
// Structurally grounded on the teacher's leadership/heartbeat shape (a
// long-lived goroutine renewing ownership) but reimplemented over a SQL
// lease row per spec.md §4.5, instead of Raft consensus, per the spec's
// explicit non-goal of multi-master coordination.
package lock

import (
	"context"
	"database/sql"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/reconsync/pkg/metrics"
	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/rlog"
	"github.com/meridian/reconsync/pkg/types"
)

const (
	pollInterval       = 300 * time.Millisecond
	defaultExpiry      = 180 * time.Second
	minExpiry          = 30 * time.Second
	minHeartbeatPeriod = 15 * time.Second
	maxHeartbeatPeriod = 120 * time.Second
)

// Manager acquires, renews, and releases the global lock for a single
// tenant's control store.
type Manager struct {
	tenantID    string
	db          *sql.DB
	machineName string
}

// NewManager returns a Manager bound to a tenant's control-store
// connection. machineName identifies this host for stale-lock purging;
// callers typically pass os.Hostname().
func NewManager(tenantID string, db *sql.DB, machineName string) *Manager {
	return &Manager{tenantID: tenantID, db: db, machineName: machineName}
}

// EnsureSchema creates the SyncLocks table if missing, and adds the
// SyncStatus column if an older table lacks it — spec.md §4.5 step 1's
// schema-upgrade-on-first-use.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS SyncLocks (
			lockId TEXT PRIMARY KEY,
			reason TEXT,
			createdAt TIMESTAMP NOT NULL,
			expiresAt TIMESTAMP,
			machineName TEXT NOT NULL,
			processId INTEGER NOT NULL,
			syncStatus TEXT
		)
	`)
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "ensure SyncLocks schema")
	}

	// Schema upgrade: add syncStatus if an existing table predates it.
	// errors here are swallowed — ALTER fails harmlessly if the column
	// already exists and sqlite3 has no IF NOT EXISTS for ADD COLUMN.
	hasStatus, err := m.hasSyncStatusColumn(ctx)
	if err != nil {
		return err
	}
	if !hasStatus {
		if _, err := m.db.ExecContext(ctx, `ALTER TABLE SyncLocks ADD COLUMN syncStatus TEXT`); err != nil {
			rlog.WithComponent("lock").Warn().Err(err).Msg("add syncStatus column")
		}
	}

	return nil
}

func (m *Manager) hasSyncStatusColumn(ctx context.Context) (bool, error) {
	rows, err := m.db.QueryContext(ctx, `PRAGMA table_info("SyncLocks")`)
	if err != nil {
		return false, rerr.Wrap(rerr.KindTransientControlStore, err, "introspect SyncLocks")
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, declType string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return false, rerr.Wrap(rerr.KindTransientControlStore, err, "scan SyncLocks columns")
		}
		if name == "syncStatus" {
			return true, nil
		}
	}
	return false, nil
}

// Handle represents a held lock lease; Release is idempotent.
type Handle struct {
	mgr      *Manager
	lockID   string
	expiry   time.Duration
	cancel   context.CancelFunc
	released bool
}

// Acquire attempts to obtain the tenant's global lock, polling every
// 300ms until waitBudget is exhausted. waitBudget=0 means fail-fast.
// expiry=0 defaults to 180s and is clamped to a minimum of 30s.
func (m *Manager) Acquire(ctx context.Context, reason string, waitBudget, expiry time.Duration) (*Handle, error) {
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	if expiry < minExpiry {
		expiry = minExpiry
	}

	deadline := time.Now().Add(waitBudget)

	for {
		acquired, err := m.tryAcquire(ctx, reason, expiry)
		if err != nil {
			metrics.LockAcquisitionsTotal.WithLabelValues(m.tenantID, "error").Inc()
			// Transient errors count against the wait budget, per
			// spec.md §4.5 step 6.
		} else if acquired != "" {
			metrics.LockAcquisitionsTotal.WithLabelValues(m.tenantID, "acquired").Inc()
			metrics.LockActive.WithLabelValues(m.tenantID).Set(1)

			hbCtx, cancel := context.WithCancel(context.Background())
			h := &Handle{mgr: m, lockID: acquired, expiry: expiry, cancel: cancel}
			go m.heartbeat(hbCtx, acquired, expiry)
			return h, nil
		}

		if waitBudget <= 0 || time.Now().After(deadline) {
			metrics.LockAcquisitionsTotal.WithLabelValues(m.tenantID, "held_by_other").Inc()
			return nil, rerr.New(rerr.KindTimeout, "lock held by another process for tenant %s", m.tenantID)
		}

		select {
		case <-ctx.Done():
			return nil, rerr.Wrap(rerr.KindTimeout, ctx.Err(), "acquire cancelled for tenant %s", m.tenantID)
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquire runs one pass of spec.md §4.5's acquisition algorithm
// steps 2-4, returning the new lock id on success or "" if the lock is
// currently held by someone else.
func (m *Manager) tryAcquire(ctx context.Context, reason string, expiry time.Duration) (string, error) {
	now := time.Now().UTC()

	if _, err := m.db.ExecContext(ctx, `DELETE FROM SyncLocks WHERE expiresAt IS NOT NULL AND expiresAt < ?`, now.Format(time.RFC3339Nano)); err != nil {
		return "", rerr.Wrap(rerr.KindTransientControlStore, err, "delete expired locks")
	}

	if err := m.purgeStaleSelfLocks(ctx); err != nil {
		// Best-effort per spec.md §4.5 step 3; log and continue.
		rlog.WithComponent("lock").Warn().Err(err).Msg("purge stale self locks")
	}

	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM SyncLocks WHERE expiresAt IS NULL OR expiresAt > ?
	`, now.Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return "", rerr.Wrap(rerr.KindTransientControlStore, err, "count active locks")
	}
	if count > 0 {
		return "", nil
	}

	lockID := uuid.New().String()
	expiresAt := now.Add(expiry)

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO SyncLocks (lockId, reason, createdAt, expiresAt, machineName, processId, syncStatus)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, lockID, reason, now.Format(time.RFC3339Nano), expiresAt.Format(time.RFC3339Nano), m.machineName, os.Getpid(), "Acquired")
	if err != nil {
		// A concurrent insert winning the race surfaces as a constraint
		// violation; treat it the same as "lock held by someone else".
		return "", nil
	}

	return lockID, nil
}

// purgeStaleSelfLocks deletes rows owned by this machine whose process
// is no longer alive, per spec.md §4.5 step 3.
func (m *Manager) purgeStaleSelfLocks(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx, `SELECT lockId, processId FROM SyncLocks WHERE machineName = ?`, m.machineName)
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "list self-owned locks")
	}

	type candidate struct {
		lockID string
		pid    int
	}
	var stale []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.lockID, &c.pid); err != nil {
			rows.Close()
			return rerr.Wrap(rerr.KindTransientControlStore, err, "scan self-owned lock")
		}
		if !processAlive(c.pid) {
			stale = append(stale, c)
		}
	}
	rows.Close()

	for _, c := range stale {
		if _, err := m.db.ExecContext(ctx, `DELETE FROM SyncLocks WHERE lockId = ?`, c.lockID); err != nil {
			return rerr.Wrap(rerr.KindTransientControlStore, err, "delete stale self lock %s", c.lockID)
		}
	}
	return nil
}

// processAlive reports whether pid names a live process on this host,
// via the standard Unix liveness probe of sending signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (m *Manager) heartbeat(ctx context.Context, lockID string, expiry time.Duration) {
	period := expiry / 2
	if period < minHeartbeatPeriod {
		period = minHeartbeatPeriod
	}
	if period > maxHeartbeatPeriod {
		period = maxHeartbeatPeriod
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newExpiry := time.Now().UTC().Add(expiry).Format(time.RFC3339Nano)
			_, err := m.db.ExecContext(ctx, `UPDATE SyncLocks SET expiresAt = ? WHERE lockId = ?`, newExpiry, lockID)
			if err != nil {
				// Heartbeat errors are swallowed (best effort), per
				// spec.md §4.5 step 5.
				metrics.LockHeartbeatsTotal.WithLabelValues(m.tenantID, "error").Inc()
				rlog.WithComponent("lock").Warn().Err(err).Str("lock_id", lockID).Msg("heartbeat renewal failed")
				continue
			}
			metrics.LockHeartbeatsTotal.WithLabelValues(m.tenantID, "ok").Inc()
		}
	}
}

// Release deletes the lock row and stops the heartbeat. Idempotent.
func (h *Handle) Release(ctx context.Context) error {
	if h.released {
		return nil
	}
	h.released = true
	h.cancel()

	metrics.LockActive.WithLabelValues(h.mgr.tenantID).Set(0)

	_, err := h.mgr.db.ExecContext(ctx, `DELETE FROM SyncLocks WHERE lockId = ?`, h.lockID)
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "release lock %s", h.lockID)
	}
	return nil
}

// SetStatus updates the syncStatus column of the held lock row.
func (h *Handle) SetStatus(ctx context.Context, status string) error {
	_, err := h.mgr.db.ExecContext(ctx, `UPDATE SyncLocks SET syncStatus = ? WHERE lockId = ?`, status, h.lockID)
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "set status on lock %s", h.lockID)
	}
	return nil
}

// GetStatus reads back the syncStatus column of the held lock row.
func (h *Handle) GetStatus(ctx context.Context) (string, error) {
	var status sql.NullString
	err := h.mgr.db.QueryRowContext(ctx, `SELECT syncStatus FROM SyncLocks WHERE lockId = ?`, h.lockID).Scan(&status)
	if err != nil {
		return "", rerr.Wrap(rerr.KindTransientControlStore, err, "get status for lock %s", h.lockID)
	}
	return status.String, nil
}

// IsActive reports whether any non-expired lock exists for the tenant.
func (m *Manager) IsActive(ctx context.Context) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM SyncLocks WHERE expiresAt IS NULL OR expiresAt > ?
	`, now).Scan(&count)
	if err != nil {
		return false, rerr.Wrap(rerr.KindTransientControlStore, err, "check active lock for tenant %s", m.tenantID)
	}
	return count > 0, nil
}

// WaitForRelease polls until the lock is free or the deadline passes,
// returning whether it became free.
func (m *Manager) WaitForRelease(ctx context.Context, pollEvery, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		active, err := m.IsActive(ctx)
		if err != nil {
			return false, err
		}
		if !active {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

// Snapshot reads the most recently created lock row, if any, for
// diagnostics (cmd/reconsync-admin's "lock status"). The row is returned
// whether or not it has expired; LockRecord.Active tells the two apart.
func (m *Manager) Snapshot(ctx context.Context) (*types.LockRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT lockId, reason, createdAt, expiresAt, machineName, processId, syncStatus
		FROM SyncLocks
		ORDER BY createdAt DESC
		LIMIT 1
	`)

	var rec types.LockRecord
	var createdAt string
	var expiresAt sql.NullString
	var status sql.NullString
	err := row.Scan(&rec.LockID, &rec.Reason, &createdAt, &expiresAt, &rec.MachineName, &rec.ProcessID, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "snapshot lock for tenant %s", m.tenantID)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "parse createdAt")
	}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, rerr.Wrap(rerr.KindTransientControlStore, err, "parse expiresAt")
		}
		rec.ExpiresAt = &t
	}
	rec.SyncStatus = status.String

	return &rec, nil
}

// ForceRelease deletes whichever lock row is currently held, regardless
// of owner — used by cmd/reconsync-admin's "lock release" operator
// escape hatch.
func (m *Manager) ForceRelease(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM SyncLocks`)
	if err != nil {
		return rerr.Wrap(rerr.KindTransientControlStore, err, "force release locks for tenant %s", m.tenantID)
	}
	metrics.LockActive.WithLabelValues(m.tenantID).Set(0)
	return nil
}
