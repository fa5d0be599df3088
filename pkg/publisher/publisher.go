// Package publisher implements the File Publisher (C8): atomic
// local<->network file publish and refresh for a tenant's SQLite
// store files, via stage-then-rename. Grounded on the atomic-rename
// discipline of LiteFS's ProcessLTXStreamFrame (write to a `.tmp`
// sibling, fsync, os.Rename) and on cuemby-warren's warren-migrate
// backup-before-mutate copyFile pattern, combined into the
// publish/refresh pipeline spec.md §4.8 describes.
package publisher

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridian/reconsync/pkg/metrics"
	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/rlog"
	"github.com/meridian/reconsync/pkg/storeconn"
	"github.com/meridian/reconsync/pkg/types"
)

// AnchorStore persists and retrieves a tenant's sync anchor
// (spec.md §3's `_SyncConfig.LastSyncTimestamp`) in its control store.
// Implemented by pkg/changelog.Store, which owns the control store
// connection; Publisher itself never opens one.
type AnchorStore interface {
	GetSyncAnchor(ctx context.Context) (time.Time, error)
	SetSyncAnchor(ctx context.Context, t time.Time) error
}

// Publisher performs atomic local<->network file transfers for a set
// of tenants, keyed by tenant id and store kind. The sync anchor is
// authoritative in each tenant's control store (SPEC_FULL §9);
// RegisterAnchorStore binds it once pkg/tenant opens that store.
type Publisher struct {
	paths map[string]types.StorePaths

	anchorStoresMu sync.Mutex
	anchorStores   map[string]AnchorStore
}

// New returns a Publisher that resolves local/network paths for each
// tenant from paths.
func New(paths map[string]types.StorePaths) *Publisher {
	return &Publisher{paths: paths, anchorStores: make(map[string]AnchorStore)}
}

// RegisterAnchorStore binds tenantID's control-store-backed AnchorStore
// so refreshes can persist the sync anchor there. Called by
// pkg/tenant.Controller.SetCurrentTenant once the control store is open.
func (p *Publisher) RegisterAnchorStore(tenantID string, store AnchorStore) {
	p.anchorStoresMu.Lock()
	defer p.anchorStoresMu.Unlock()
	p.anchorStores[tenantID] = store
}

// SyncAnchor returns the tenant's persisted sync anchor, or the zero
// time if none has been recorded yet or no control store has been
// registered for tenantID.
func (p *Publisher) SyncAnchor(ctx context.Context, tenantID string) time.Time {
	store, ok := p.anchorStoreFor(tenantID)
	if !ok {
		return time.Time{}
	}
	t, err := store.GetSyncAnchor(ctx)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (p *Publisher) anchorStoreFor(tenantID string) (AnchorStore, bool) {
	p.anchorStoresMu.Lock()
	defer p.anchorStoresMu.Unlock()
	store, ok := p.anchorStores[tenantID]
	return store, ok
}

// advanceAnchor persists now as tenantID's sync anchor, per spec.md
// §4.8 step 3. Best-effort: a missing AnchorStore or a write failure is
// logged but never fails the refresh that triggered it.
func (p *Publisher) advanceAnchor(ctx context.Context, tenantID string) {
	store, ok := p.anchorStoreFor(tenantID)
	if !ok {
		return
	}
	if err := store.SetSyncAnchor(ctx, time.Now().UTC()); err != nil {
		rlog.WithTenant(tenantID).Warn().Err(err).Msg("failed to persist sync anchor")
	}
}

// PublishLocalToNetwork publishes the tenant's local file for kind to
// its network location: best-effort daily backup, best-effort
// compaction via SQLite's VACUUM INTO, stage on the network volume,
// then atomic replace, per spec.md §4.8.
func (p *Publisher) PublishLocalToNetwork(ctx context.Context, tenantID string, kind types.StoreKind) error {
	timer := metrics.NewTimer()
	err := p.publishLocalToNetwork(ctx, tenantID, kind)
	timer.ObserveDurationVec(metrics.PublishDuration, tenantID, string(kind))
	if err != nil {
		metrics.PublishFailuresTotal.WithLabelValues(tenantID, string(kind), "publish").Inc()
	}
	return err
}

func (p *Publisher) publishLocalToNetwork(ctx context.Context, tenantID string, kind types.StoreKind) error {
	local, network, err := p.resolvePaths(tenantID, kind)
	if err != nil {
		return err
	}
	logger := rlog.WithTenant(tenantID)

	if err := backupDaily(network); err != nil {
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("daily backup failed, continuing")
	}

	source := local
	compacted, err := compact(ctx, local)
	if err != nil {
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("compaction failed, publishing raw file")
	} else {
		source = compacted
		defer os.Remove(compacted)
	}

	stage, err := stageCopy(source, network)
	if err != nil {
		return rerr.Wrap(rerr.KindPublish, err, "stage %s for publish", network)
	}
	defer os.Remove(stage)

	if err := atomicReplace(stage, network); err != nil {
		return rerr.Wrap(rerr.KindPublish, err, "replace %s", network)
	}

	logger.Info().Str("kind", string(kind)).Str("path", network).Msg("published local store to network")
	return nil
}

// RefreshLocalFromNetwork replaces the tenant's local file for kind
// with the current network file, provided the network file is not
// exclusively held open by another writer, per spec.md §4.8.
func (p *Publisher) RefreshLocalFromNetwork(ctx context.Context, tenantID string, kind types.StoreKind) error {
	timer := metrics.NewTimer()
	err := p.refreshLocalFromNetwork(ctx, tenantID, kind)
	timer.ObserveDurationVec(metrics.PublishDuration, tenantID, string(kind))
	if err != nil {
		metrics.PublishFailuresTotal.WithLabelValues(tenantID, string(kind), "refresh").Inc()
	}
	return err
}

func (p *Publisher) refreshLocalFromNetwork(ctx context.Context, tenantID string, kind types.StoreKind) error {
	local, network, err := p.resolvePaths(tenantID, kind)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(network); statErr != nil {
		return rerr.Wrap(rerr.KindPublish, statErr, "network file %s unavailable", network)
	}

	locked, err := storeconn.OpenExclusiveProbe(ctx, network)
	if err != nil {
		return err
	}
	if locked {
		return rerr.New(rerr.KindPublish, "network file %s is exclusively open by another writer", network)
	}

	stage, err := stageCopy(network, local)
	if err != nil {
		return rerr.Wrap(rerr.KindPublish, err, "stage %s for refresh", local)
	}
	defer os.Remove(stage)

	if err := atomicReplace(stage, local); err != nil {
		return rerr.Wrap(rerr.KindPublish, err, "replace %s", local)
	}

	p.advanceAnchor(ctx, tenantID)
	rlog.WithTenant(tenantID).Info().Str("kind", string(kind)).Str("path", local).Msg("refreshed local store from network")
	return nil
}

// EnsureLocalSnapshotsUpToDate best-effort refreshes the ambre and dw
// local snapshots if they differ from their network counterparts on
// {length, lastWriteUtc}. Failures are swallowed, per spec.md §4.8.
func (p *Publisher) EnsureLocalSnapshotsUpToDate(ctx context.Context, tenantID string) {
	logger := rlog.WithTenant(tenantID)
	for _, kind := range []types.StoreKind{types.StoreAmbre, types.StoreDW} {
		local, network, err := p.resolvePaths(tenantID, kind)
		if err != nil {
			continue
		}
		if network == "" {
			continue
		}

		differs, err := filesDiffer(local, network)
		if err != nil {
			logger.Warn().Err(err).Str("kind", string(kind)).Msg("snapshot freshness check failed")
			continue
		}
		if !differs {
			continue
		}

		if err := p.refreshLocalFromNetwork(ctx, tenantID, kind); err != nil {
			logger.Warn().Err(err).Str("kind", string(kind)).Msg("best-effort snapshot refresh failed")
		}
	}
}

func (p *Publisher) resolvePaths(tenantID string, kind types.StoreKind) (local, network string, err error) {
	paths, ok := p.paths[tenantID]
	if !ok {
		return "", "", rerr.New(rerr.KindConfiguration, "no store paths configured for tenant %s", tenantID)
	}
	local, network = paths.PathFor(kind)
	if local == "" {
		return "", "", rerr.New(rerr.KindConfiguration, "store kind %s has no local path for tenant %s", kind, tenantID)
	}
	return local, network, nil
}

// filesDiffer compares length and modification time, per spec.md
// §4.8's {length, lastWriteUtc} freshness test.
func filesDiffer(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return infoA.Size() != infoB.Size() || !infoA.ModTime().Equal(infoB.ModTime()), nil
}

// backupDaily copies path to Saved/{base}_{YYYY-MM-DD}{ext} next to it,
// unless that backup already exists today. Best effort.
func backupDaily(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := filepath.Base(path[:len(path)-len(ext)])
	savedDir := filepath.Join(dir, "Saved")

	backupPath := filepath.Join(savedDir, fmt.Sprintf("%s_%s%s", base, time.Now().UTC().Format("2006-01-02"), ext))
	if _, err := os.Stat(backupPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(savedDir, 0o755); err != nil {
		return err
	}
	return copyFile(path, backupPath)
}

// compact runs SQLite's VACUUM INTO against a temporary adjacent file
// and returns its path. The caller is responsible for removing it.
func compact(ctx context.Context, path string) (string, error) {
	tmp := fmt.Sprintf("%s.compact_%d.tmp", path, rand.Int())
	os.Remove(tmp)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", tmp)); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// stageCopy copies src to a `.tmp_{rand}` sibling of target, on
// target's volume, and fsyncs it before returning, so the subsequent
// rename is a same-filesystem atomic replace.
func stageCopy(src, target string) (string, error) {
	stage := fmt.Sprintf("%s.tmp_%d", target, rand.Int())

	if err := copyFile(src, stage); err != nil {
		return "", err
	}
	return stage, nil
}

// atomicReplace renames stage over target. If target already exists,
// its previous contents are preserved at target+".bak" first so a
// crash mid-replace never leaves a torn target with no recovery path.
func atomicReplace(stage, target string) error {
	if _, err := os.Stat(target); err == nil {
		bak := target + ".bak"
		if err := copyFile(target, bak); err != nil {
			return err
		}
	}
	return os.Rename(stage, target)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
