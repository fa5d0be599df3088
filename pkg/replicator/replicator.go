// Package replicator implements the Replicator (C7): it replays a
// tenant's unsynchronized change-log entries from the local
// reconciliation store onto the network replica under the global lock,
// marks them synced, and triggers a local refresh. Grounded on
// pkg/reconciler/reconciler.go's ticker+mutex+stop-channel shape,
// retargeted from a 10-second poll-and-fix loop to an on-demand,
// triggered push cycle serialized by a per-tenant semaphore.
package replicator

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/meridian/reconsync/pkg/changelog"
	"github.com/meridian/reconsync/pkg/coerce"
	"github.com/meridian/reconsync/pkg/lock"
	"github.com/meridian/reconsync/pkg/metrics"
	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/rlog"
	"github.com/meridian/reconsync/pkg/schema"
	"github.com/meridian/reconsync/pkg/types"
	"github.com/rs/zerolog"
)

// cooldown suppresses repeat push attempts for the same tenant within
// this window, per spec.md §4.7.
const cooldown = 5 * time.Second

// lockWaitBudget is the default wait budget for acquiring the global
// lock around a push cycle.
const lockWaitBudget = 5 * time.Minute

// lockExpiry is the lease duration requested for the push cycle.
const lockExpiry = 2 * time.Minute

// Refresher atomically refreshes a tenant's local replica from the
// network file after a successful push. Implemented by pkg/publisher;
// declared here as an interface to avoid a replicator→publisher
// dependency edge in the other direction.
type Refresher interface {
	RefreshLocalFromNetwork(ctx context.Context, tenantID string, kind types.StoreKind) error
}

// Replicator pushes one tenant's pending change-log entries to its
// network reconciliation store.
type Replicator struct {
	tenantID  string
	localDB   *sql.DB
	networkDB *sql.DB
	changelog *changelog.Store
	lockMgr   *lock.Manager
	refresher Refresher
	logger    zerolog.Logger

	sem      chan struct{}
	lastPush time.Time
}

// New returns a Replicator for tenantID. localDB and networkDB are the
// reconciliation-store connections for this tenant; cl is the tenant's
// control-store change log; lockMgr guards the network mutation path;
// refresher is invoked after a successful push to refresh the local
// replica from the network file.
func New(tenantID string, localDB, networkDB *sql.DB, cl *changelog.Store, lockMgr *lock.Manager, refresher Refresher) *Replicator {
	return &Replicator{
		tenantID:  tenantID,
		localDB:   localDB,
		networkDB: networkDB,
		changelog: cl,
		lockMgr:   lockMgr,
		refresher: refresher,
		logger:    rlog.WithComponent("replicator").With().Str("tenant", tenantID).Logger(),
		sem:       make(chan struct{}, 1),
	}
}

// PushPending replays unsynchronized change-log entries onto the
// network store, marks them synced, and refreshes the local replica.
// Returns the count of entries applied. A non-blocking per-tenant
// semaphore and a 5-second cooldown prevent overlapping pushes; either
// condition causes PushPending to return 0 immediately rather than
// queue or block, per spec.md §4.7's backoff/debounce policy.
func (r *Replicator) PushPending(ctx context.Context, assumeLockHeld bool) (int, error) {
	select {
	case r.sem <- struct{}{}:
	default:
		return 0, nil
	}
	defer func() { <-r.sem }()

	if !r.lastPush.IsZero() && time.Since(r.lastPush) < cooldown {
		return 0, nil
	}

	timer := metrics.NewTimer()
	applied, err := r.pushPending(ctx, assumeLockHeld)
	r.lastPush = time.Now()
	timer.ObserveDurationVec(metrics.PushDuration, r.tenantID)

	if err != nil {
		metrics.PushFailuresTotal.WithLabelValues(r.tenantID, failureReason(err)).Inc()
		r.logger.Error().Err(err).Msg("push cycle failed")
		return applied, err
	}
	if applied > 0 {
		r.logger.Info().Int("applied", applied).Msg("push cycle completed")
	}
	return applied, nil
}

func (r *Replicator) pushPending(ctx context.Context, assumeLockHeld bool) (int, error) {
	entries, err := r.changelog.ListUnsynced(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if !assumeLockHeld {
		handle, err := r.lockMgr.Acquire(ctx, "push", lockWaitBudget, lockExpiry)
		if err != nil {
			return 0, rerr.Wrap(rerr.KindLockAcquisition, err, "acquire push lock for tenant %s", r.tenantID)
		}
		defer handle.Release(ctx)
	}

	insp := schema.NewInspector(r.networkDB)

	tx, err := r.networkDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, rerr.Wrap(rerr.KindReplication, err, "begin network transaction for tenant %s", r.tenantID)
	}
	defer tx.Rollback()

	var appliedIDs []int64
	var appliedTables []string
	var syncedIDs []int64
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		td, err := insp.Describe(ctx, entry.TableName)
		if err != nil {
			return 0, err
		}

		applied, err := r.applyEntry(ctx, tx, td, entry)
		if err != nil {
			return 0, err
		}
		syncedIDs = append(syncedIDs, entry.ID)
		if applied {
			appliedIDs = append(appliedIDs, entry.ID)
			appliedTables = append(appliedTables, entry.TableName)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, rerr.Wrap(rerr.KindReplication, err, "commit network transaction for tenant %s", r.tenantID)
	}

	if len(syncedIDs) > 0 {
		if err := r.changelog.MarkSynced(ctx, syncedIDs); err != nil {
			return 0, err
		}
		for _, table := range appliedTables {
			metrics.PushEntriesAppliedTotal.WithLabelValues(r.tenantID, table).Inc()
		}
	}

	if r.refresher != nil {
		if err := r.refresher.RefreshLocalFromNetwork(ctx, r.tenantID, types.StoreReconciliation); err != nil {
			return len(appliedIDs), err
		}
	}

	return len(appliedIDs), nil
}

// applyEntry replays one change-log entry within tx, per spec.md
// §4.7's step 4 algorithm. Returns false (no error) when an INSERT or
// UPDATE entry's source row is absent locally, which is not a failure:
// the row was created elsewhere or has since been replaced.
func (r *Replicator) applyEntry(ctx context.Context, tx *sql.Tx, td *types.TableDescriptor, entry types.ChangeLogEntry) (bool, error) {
	switch entry.Operation {
	case types.OpDelete:
		return true, r.applyDelete(ctx, tx, td, entry.RecordID)
	case types.OpInsert, types.OpUpdate:
		return r.applyUpsert(ctx, tx, td, entry.RecordID)
	default:
		return false, rerr.New(rerr.KindReplication, "unknown change-log operation %q", entry.Operation)
	}
}

func (r *Replicator) applyDelete(ctx context.Context, tx *sql.Tx, td *types.TableDescriptor, recordID string) error {
	pkArg, err := pkArgFromString(td, recordID)
	if err != nil {
		return err
	}

	softDelete := td.HasColumn(types.ColumnIsDeleted) || td.HasColumn(types.ColumnDeleteDate)
	if !softDelete {
		query := `DELETE FROM ` + quoteIdent(td.Name) + ` WHERE ` + quoteIdent(td.PrimaryKey) + ` = ?`
		_, err := tx.ExecContext(ctx, query, pkArg)
		if err != nil {
			return rerr.Wrap(rerr.KindReplication, err, "delete %s pk=%s on network", td.Name, recordID)
		}
		return nil
	}

	t0 := time.Now().UTC()
	var sets []string
	var args []any
	if td.HasColumn(types.ColumnIsDeleted) {
		sets = append(sets, quoteIdent(types.ColumnIsDeleted)+" = 1")
	}
	if td.HasColumn(types.ColumnDeleteDate) {
		tsArg, _ := coerce.ToStorage(t0, types.ColumnTypeTimestamp)
		sets = append(sets, quoteIdent(types.ColumnDeleteDate)+" = ?")
		args = append(args, tsArg)
	}
	if td.HasColumn(types.ColumnLastModified) {
		tsArg, _ := coerce.ToStorage(t0, types.ColumnTypeTimestamp)
		sets = append(sets, quoteIdent(types.ColumnLastModified)+" = ?")
		args = append(args, tsArg)
	}
	args = append(args, pkArg)

	query := `UPDATE ` + quoteIdent(td.Name) + ` SET ` + strings.Join(sets, ", ") + ` WHERE ` + quoteIdent(td.PrimaryKey) + ` = ?`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return rerr.Wrap(rerr.KindReplication, err, "soft delete %s pk=%s on network", td.Name, recordID)
	}
	return nil
}

// applyUpsert implements spec.md §4.7's INSERT-or-UPDATE-by-existence
// rule: SELECT the row from the local replica; if absent, skip; else
// check existence on the network and UPDATE or INSERT accordingly.
func (r *Replicator) applyUpsert(ctx context.Context, tx *sql.Tx, td *types.TableDescriptor, recordID string) (bool, error) {
	row, found, err := r.selectLocalRow(ctx, td, recordID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	pkArg, err := pkArgFromString(td, recordID)
	if err != nil {
		return false, err
	}

	var count int
	existsQuery := `SELECT COUNT(*) FROM ` + quoteIdent(td.Name) + ` WHERE ` + quoteIdent(td.PrimaryKey) + ` = ?`
	if err := tx.QueryRowContext(ctx, existsQuery, pkArg).Scan(&count); err != nil {
		return false, rerr.Wrap(rerr.KindReplication, err, "check existence of %s pk=%s on network", td.Name, recordID)
	}

	if count > 0 {
		return true, r.runUpdate(ctx, tx, td, row, pkArg)
	}
	return true, r.runInsert(ctx, tx, td, row)
}

func (r *Replicator) selectLocalRow(ctx context.Context, td *types.TableDescriptor, recordID string) (types.Row, bool, error) {
	pkArg, err := pkArgFromString(td, recordID)
	if err != nil {
		return nil, false, err
	}

	cols := make([]string, len(td.Columns))
	quoted := make([]string, len(td.Columns))
	for i, c := range td.Columns {
		cols[i] = c
		quoted[i] = quoteIdent(c)
	}

	query := `SELECT ` + strings.Join(quoted, ",") + ` FROM ` + quoteIdent(td.Name) + ` WHERE ` + quoteIdent(td.PrimaryKey) + ` = ?`
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	err = r.localDB.QueryRowContext(ctx, query, pkArg).Scan(ptrs...)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, rerr.Wrap(rerr.KindReplication, err, "select local row %s pk=%s", td.Name, recordID)
	}

	row := make(types.Row, len(cols))
	for i, c := range cols {
		declared := td.ColumnTypes[strings.ToLower(c)]
		v, err := coerce.FromStorage(dest[i], declared)
		if err != nil {
			return nil, false, err
		}
		row[c] = v
	}
	return row, true, nil
}

func (r *Replicator) runInsert(ctx context.Context, tx *sql.Tx, td *types.TableDescriptor, row types.Row) error {
	var cols []string
	for _, c := range td.Columns {
		if _, ok := row[c]; ok {
			cols = append(cols, c)
		}
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = "?"
		v, err := coerce.ToStorage(row[c], td.ColumnTypes[strings.ToLower(c)])
		if err != nil {
			return err
		}
		args[i] = v
	}

	query := `INSERT INTO ` + quoteIdent(td.Name) + ` (` + strings.Join(quoted, ",") + `) VALUES (` + strings.Join(placeholders, ",") + `)`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return rerr.Wrap(rerr.KindReplication, err, "insert %s on network", td.Name)
	}
	return nil
}

func (r *Replicator) runUpdate(ctx context.Context, tx *sql.Tx, td *types.TableDescriptor, row types.Row, pkArg any) error {
	var cols []string
	for _, c := range td.Columns {
		if strings.EqualFold(c, td.PrimaryKey) {
			continue
		}
		if _, ok := row[c]; ok {
			cols = append(cols, c)
		}
	}

	sets := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		sets[i] = quoteIdent(c) + " = ?"
		v, err := coerce.ToStorage(row[c], td.ColumnTypes[strings.ToLower(c)])
		if err != nil {
			return err
		}
		args[i] = v
	}
	args = append(args, pkArg)

	query := `UPDATE ` + quoteIdent(td.Name) + ` SET ` + strings.Join(sets, ",") + ` WHERE ` + quoteIdent(td.PrimaryKey) + ` = ?`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return rerr.Wrap(rerr.KindReplication, err, "update %s on network", td.Name)
	}
	return nil
}

func pkArgFromString(td *types.TableDescriptor, recordID string) (any, error) {
	declared := td.ColumnTypes[strings.ToLower(td.PrimaryKey)]
	return coerce.ToStorage(recordID, declared)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func failureReason(err error) string {
	if rerr.Is(err, rerr.KindLockAcquisition) {
		return "lock"
	}
	if rerr.Is(err, rerr.KindReplication) {
		return "replication"
	}
	return "unknown"
}
