// Package tenant implements the Tenant Controller (C9): per-tenant
// store initialization, startup push/refresh orchestration, and the
// fast-path synchronize() check, per spec.md §4.9. Grounded on
// pkg/manager/manager.go's Manager/Config/NewManager shape — a
// constructor that validates configuration and wires sub-components,
// exposing read-only accessors over the result.
package tenant

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/meridian/reconsync/pkg/changelog"
	"github.com/meridian/reconsync/pkg/config"
	"github.com/meridian/reconsync/pkg/lock"
	"github.com/meridian/reconsync/pkg/publisher"
	"github.com/meridian/reconsync/pkg/replicator"
	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/rlog"
	"github.com/meridian/reconsync/pkg/storeconn"
	"github.com/meridian/reconsync/pkg/types"
)

// state holds the live, wired-up components for one initialized tenant.
type state struct {
	paths      types.StorePaths
	syncTables []string

	control *changelog.Store
	lockMgr *lock.Manager
	repl    *replicator.Replicator
}

// Controller wires and tracks per-tenant stores, replicators, and lock
// managers. One Controller is shared by the daemon across all
// configured tenants; its per-tenant coordination state (the push
// semaphore inside each Replicator, lastSyncTimes) is held in maps
// keyed by tenant id, per spec.md §9's re-architecture guidance for
// process-wide per-tenant caches.
type Controller struct {
	cfg       *config.Config
	conns     *storeconn.Manager
	publisher *publisher.Publisher

	mu            sync.Mutex
	tenants       map[string]*state
	lastSyncTimes map[string]time.Time
}

// New builds a Controller for every tenant in cfg, sharing one
// publisher (keyed by tenant paths) and one connection manager across
// all of them.
func New(cfg *config.Config) *Controller {
	paths := make(map[string]types.StorePaths, len(cfg.Tenants))
	for _, t := range cfg.TenantList() {
		paths[t.ID] = cfg.StorePathsFor(t.ID)
	}

	return &Controller{
		cfg:           cfg,
		conns:         storeconn.NewManager(),
		publisher:     publisher.New(paths),
		tenants:       make(map[string]*state),
		lastSyncTimes: make(map[string]time.Time),
	}
}

// SetCurrentTenant wires a tenant's stores and performs the one-time
// startup sequence of spec.md §4.9: ensure the local reconciliation
// store exists (refreshing from network if absent and the network is
// available), build the replicator, drain any unsynced change log
// entries, and refresh the local reconciliation/ambre/dw replicas.
// Push and refresh failures are logged but non-fatal, per spec.md §7's
// best-effort startup policy.
func (c *Controller) SetCurrentTenant(ctx context.Context, tenantID string) error {
	if _, ok := c.cfg.TenantByID(tenantID); !ok {
		return rerr.New(rerr.KindConfiguration, "unknown tenant %s", tenantID)
	}

	paths := c.cfg.StorePathsFor(tenantID)
	logger := rlog.WithTenant(tenantID)

	if err := c.ensureLocalStoreExists(ctx, tenantID, types.StoreReconciliation, paths); err != nil {
		return err
	}

	control, err := c.conns.Open(ctx, tenantID, types.StoreControl, false, paths.Control, storeconn.JournalDelete)
	if err != nil {
		return err
	}

	local, err := c.conns.Open(ctx, tenantID, types.StoreReconciliation, false, paths.LocalReconciliation, storeconn.JournalDelete)
	if err != nil {
		return err
	}
	network, err := c.conns.Open(ctx, tenantID, types.StoreReconciliation, true, paths.NetworkReconciliation, storeconn.JournalWAL)
	if err != nil {
		return err
	}

	cl := changelog.NewStore(control)
	if err := cl.EnsureSchema(ctx); err != nil {
		return err
	}
	c.publisher.RegisterAnchorStore(tenantID, cl)

	hostname, _ := os.Hostname()
	lockMgr := lock.NewManager(tenantID, control, hostname)
	if err := lockMgr.EnsureSchema(ctx); err != nil {
		return err
	}

	repl := replicator.New(tenantID, local, network, cl, lockMgr, c.publisher)

	st := &state{
		paths:      paths,
		syncTables: c.cfg.SyncTableList(),
		control:    cl,
		lockMgr:    lockMgr,
		repl:       repl,
	}

	c.mu.Lock()
	c.tenants[tenantID] = st
	c.mu.Unlock()

	pending, err := cl.ListUnsynced(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list unsynced change log entries on tenant init")
	} else if len(pending) > 0 {
		if _, err := repl.PushPending(ctx, false); err != nil {
			logger.Warn().Err(err).Msg("startup pushPending failed")
		}
	}

	for _, kind := range []types.StoreKind{types.StoreReconciliation, types.StoreAmbre, types.StoreDW} {
		if err := c.publisher.RefreshLocalFromNetwork(ctx, tenantID, kind); err != nil {
			logger.Warn().Err(err).Str("kind", string(kind)).Msg("startup refresh failed")
		}
	}

	return nil
}

// ensureLocalStoreExists implements spec.md §4.9 step 1: if the local
// file for kind is absent, copy it from network, provided the network
// file exists and is not exclusively opened by another writer. If the
// network file is also absent, the local file is left to be created
// fresh on first open.
func (c *Controller) ensureLocalStoreExists(ctx context.Context, tenantID string, kind types.StoreKind, paths types.StorePaths) error {
	local, network := paths.PathFor(kind)
	if _, err := os.Stat(local); err == nil {
		return nil
	}
	if _, err := os.Stat(network); err != nil {
		return nil
	}
	if err := c.publisher.RefreshLocalFromNetwork(ctx, tenantID, kind); err != nil {
		rlog.WithTenant(tenantID).Warn().Err(err).Str("kind", string(kind)).Msg("could not seed local store from network")
	}
	return nil
}

// Synchronize is spec.md §4.9's fast-path synchronize(tenantId): if
// neither the reconciliation store's {length, lastWriteUtc} differ
// between local and network, and the change log has no unsynced
// entries, it is a no-op. Otherwise it drives a full push+refresh
// cycle and, on success, records the current time as the tenant's
// last sync time.
func (c *Controller) Synchronize(ctx context.Context, tenantID string) (noOp bool, err error) {
	c.mu.Lock()
	st, ok := c.tenants[tenantID]
	c.mu.Unlock()
	if !ok {
		return false, rerr.New(rerr.KindConfiguration, "tenant %s not initialized", tenantID)
	}

	pending, err := st.control.ListUnsynced(ctx)
	if err != nil {
		return false, err
	}

	differs, statErr := filesDiffer(st.paths.LocalReconciliation, st.paths.NetworkReconciliation)
	if statErr == nil && !differs && len(pending) == 0 {
		return true, nil
	}

	if _, err := st.repl.PushPending(ctx, false); err != nil {
		return false, err
	}
	if err := c.publisher.RefreshLocalFromNetwork(ctx, tenantID, types.StoreReconciliation); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.lastSyncTimes[tenantID] = time.Now().UTC()
	c.mu.Unlock()

	return false, nil
}

// LastSyncTime returns the last time Synchronize completed a non-no-op
// cycle for tenantID.
func (c *Controller) LastSyncTime(tenantID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastSyncTimes[tenantID]
	return t, ok
}

// IsNetworkSyncAvailable reports whether the tenant's network
// reconciliation file is currently reachable.
func (c *Controller) IsNetworkSyncAvailable(tenantID string) bool {
	paths := c.cfg.StorePathsFor(tenantID)
	_, err := os.Stat(paths.NetworkReconciliation)
	return err == nil
}

// IsGlobalLockActive reports whether the tenant's global lock is
// currently held by any process.
func (c *Controller) IsGlobalLockActive(ctx context.Context, tenantID string) (bool, error) {
	c.mu.Lock()
	st, ok := c.tenants[tenantID]
	c.mu.Unlock()
	if !ok {
		return false, rerr.New(rerr.KindConfiguration, "tenant %s not initialized", tenantID)
	}
	return st.lockMgr.IsActive(ctx)
}

// PendingChangelogCount returns the number of unsynchronized change log
// entries for tenantID, for periodic reporting into
// metrics.ChangelogPending.
func (c *Controller) PendingChangelogCount(ctx context.Context, tenantID string) (int, error) {
	c.mu.Lock()
	st, ok := c.tenants[tenantID]
	c.mu.Unlock()
	if !ok {
		return 0, rerr.New(rerr.KindConfiguration, "tenant %s not initialized", tenantID)
	}
	return st.control.PendingCount(ctx)
}

// StorePaths returns the resolved local/network paths for a tenant,
// for read-only display by operator tooling.
func (c *Controller) StorePaths(tenantID string) types.StorePaths {
	return c.cfg.StorePathsFor(tenantID)
}

// LockManager returns the lock manager for an initialized tenant, for
// use by cmd/reconsync-admin's lock status/release subcommands.
func (c *Controller) LockManager(tenantID string) (*lock.Manager, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tenants[tenantID]
	if !ok {
		return nil, false
	}
	return st.lockMgr, true
}

// Replicator returns the replicator for an initialized tenant, for use
// by cmd/reconsync-admin's on-demand push subcommand.
func (c *Controller) Replicator(tenantID string) (*replicator.Replicator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tenants[tenantID]
	if !ok {
		return nil, false
	}
	return st.repl, true
}

// Publisher returns the shared publisher, for use by
// cmd/reconsync-admin's on-demand publish subcommand.
func (c *Controller) Publisher() *publisher.Publisher {
	return c.publisher
}

// Config returns the controller's referential configuration, for use
// by operator tooling and the importer adapter that need to resolve
// store paths independent of a specific tenant's live state.
func (c *Controller) Config() *config.Config {
	return c.cfg
}

// Conns returns the shared connection manager, so other components
// (pkg/importer, cmd/reconsync-admin) reuse the same per-tenant store
// handles instead of opening duplicate connections to the same files.
func (c *Controller) Conns() *storeconn.Manager {
	return c.conns
}

// TenantIDs returns every configured tenant id.
func (c *Controller) TenantIDs() []string {
	out := make([]string, 0, len(c.cfg.Tenants))
	for _, t := range c.cfg.Tenants {
		out = append(out, t.ID)
	}
	return out
}

// Close releases every open store connection for every tenant.
func (c *Controller) Close() {
	c.conns.CloseAll()
}

func filesDiffer(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return true, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return true, err
	}
	return infoA.Size() != infoB.Size() || !infoA.ModTime().Equal(infoB.ModTime()), nil
}
