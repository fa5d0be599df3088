package publisher

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/reconsync/pkg/changelog"
	"github.com/meridian/reconsync/pkg/types"
)

// newTestAnchorStore opens a fresh control-store SQLite file and
// returns a changelog.Store bound to it, ready to register with a
// Publisher under test.
func newTestAnchorStore(t *testing.T, dir string) *changelog.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "control.db"))
	require.NoError(t, err)
	cl := changelog.NewStore(db)
	require.NoError(t, cl.EnsureSchema(context.Background()))
	return cl
}

func makeSQLiteFile(t *testing.T, path string, rows int) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE T (Id INTEGER PRIMARY KEY, V TEXT)`)
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		_, err = db.Exec(`INSERT INTO T (V) VALUES (?)`, "row")
		require.NoError(t, err)
	}
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM T`).Scan(&n))
	return n
}

func newTestPublisher(t *testing.T, tenantID string) (*Publisher, types.StorePaths) {
	t.Helper()
	dir := t.TempDir()
	paths := types.StorePaths{
		TenantID:              tenantID,
		LocalReconciliation:   filepath.Join(dir, "local_recon.db"),
		NetworkReconciliation: filepath.Join(dir, "network_recon.db"),
		LocalAmbre:            filepath.Join(dir, "local_ambre.db"),
		NetworkAmbre:          filepath.Join(dir, "network_ambre.db"),
		LocalDW:               filepath.Join(dir, "local_dw.db"),
		NetworkDW:             filepath.Join(dir, "network_dw.db"),
	}
	return New(map[string]types.StorePaths{tenantID: paths}), paths
}

func TestPublishLocalToNetwork_CreatesNetworkFileWhenAbsent(t *testing.T) {
	ctx := context.Background()
	p, paths := newTestPublisher(t, "FR")

	makeSQLiteFile(t, paths.LocalReconciliation, 3)

	require.NoError(t, p.PublishLocalToNetwork(ctx, "FR", types.StoreReconciliation))

	assert.FileExists(t, paths.NetworkReconciliation)
	assert.Equal(t, 3, countRows(t, paths.NetworkReconciliation))

	_, err := os.Stat(filepath.Join(filepath.Dir(paths.NetworkReconciliation), "Saved"))
	assert.True(t, os.IsNotExist(err), "no prior network file existed, so no daily backup should be created")
}

func TestPublishLocalToNetwork_BacksUpExistingNetworkFileBeforeReplace(t *testing.T) {
	ctx := context.Background()
	p, paths := newTestPublisher(t, "FR")

	makeSQLiteFile(t, paths.NetworkReconciliation, 1)
	originalBytes, err := os.ReadFile(paths.NetworkReconciliation)
	require.NoError(t, err)

	makeSQLiteFile(t, paths.LocalReconciliation, 5)

	require.NoError(t, p.PublishLocalToNetwork(ctx, "FR", types.StoreReconciliation))

	savedDir := filepath.Join(filepath.Dir(paths.NetworkReconciliation), "Saved")
	entries, err := os.ReadDir(savedDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	backupBytes, err := os.ReadFile(filepath.Join(savedDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, originalBytes, backupBytes)

	assert.Equal(t, 5, countRows(t, paths.NetworkReconciliation))
}

func TestPublishLocalToNetwork_AtomicReplaceLeavesBakSideFile(t *testing.T) {
	ctx := context.Background()
	p, paths := newTestPublisher(t, "FR")

	makeSQLiteFile(t, paths.NetworkReconciliation, 2)
	makeSQLiteFile(t, paths.LocalReconciliation, 7)

	require.NoError(t, p.PublishLocalToNetwork(ctx, "FR", types.StoreReconciliation))

	assert.FileExists(t, paths.NetworkReconciliation+".bak")
}

func TestPublishLocalToNetwork_NoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	p, paths := newTestPublisher(t, "FR")

	makeSQLiteFile(t, paths.LocalReconciliation, 1)
	require.NoError(t, p.PublishLocalToNetwork(ctx, "FR", types.StoreReconciliation))

	entries, err := os.ReadDir(filepath.Dir(paths.NetworkReconciliation))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp_")
		assert.NotContains(t, e.Name(), ".compact_")
	}
}

func TestRefreshLocalFromNetwork_CopiesNetworkToLocalAndAdvancesAnchor(t *testing.T) {
	ctx := context.Background()
	p, paths := newTestPublisher(t, "FR")
	p.RegisterAnchorStore("FR", newTestAnchorStore(t, t.TempDir()))

	makeSQLiteFile(t, paths.NetworkReconciliation, 4)

	assert.True(t, p.SyncAnchor(ctx, "FR").IsZero())

	require.NoError(t, p.RefreshLocalFromNetwork(ctx, "FR", types.StoreReconciliation))

	assert.FileExists(t, paths.LocalReconciliation)
	assert.Equal(t, 4, countRows(t, paths.LocalReconciliation))
	assert.False(t, p.SyncAnchor(ctx, "FR").IsZero())
}

func TestRefreshLocalFromNetwork_WithoutRegisteredAnchorStoreStillSucceeds(t *testing.T) {
	ctx := context.Background()
	p, paths := newTestPublisher(t, "FR")

	makeSQLiteFile(t, paths.NetworkReconciliation, 2)

	require.NoError(t, p.RefreshLocalFromNetwork(ctx, "FR", types.StoreReconciliation))
	assert.True(t, p.SyncAnchor(ctx, "FR").IsZero())
}

func TestSyncAnchor_PersistsAcrossPublisherInstances(t *testing.T) {
	ctx := context.Background()
	p, paths := newTestPublisher(t, "FR")
	controlDir := t.TempDir()
	p.RegisterAnchorStore("FR", newTestAnchorStore(t, controlDir))

	makeSQLiteFile(t, paths.NetworkReconciliation, 1)
	require.NoError(t, p.RefreshLocalFromNetwork(ctx, "FR", types.StoreReconciliation))
	anchor := p.SyncAnchor(ctx, "FR")
	require.False(t, anchor.IsZero())

	reopened := New(map[string]types.StorePaths{"FR": paths})
	reopened.RegisterAnchorStore("FR", newTestAnchorStore(t, controlDir))
	assert.Equal(t, anchor, reopened.SyncAnchor(ctx, "FR"))
}

func TestRefreshLocalFromNetwork_ErrorsWhenNetworkFileMissing(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPublisher(t, "FR")

	err := p.RefreshLocalFromNetwork(ctx, "FR", types.StoreReconciliation)
	assert.Error(t, err)
}

func TestEnsureLocalSnapshotsUpToDate_RefreshesWhenFilesDiffer(t *testing.T) {
	ctx := context.Background()
	p, paths := newTestPublisher(t, "FR")

	makeSQLiteFile(t, paths.NetworkAmbre, 6)
	makeSQLiteFile(t, paths.NetworkDW, 6)
	makeSQLiteFile(t, paths.LocalAmbre, 1)
	makeSQLiteFile(t, paths.LocalDW, 1)

	p.EnsureLocalSnapshotsUpToDate(ctx, "FR")

	assert.Equal(t, 6, countRows(t, paths.LocalAmbre))
	assert.Equal(t, 6, countRows(t, paths.LocalDW))
}

func TestEnsureLocalSnapshotsUpToDate_SkipsUnconfiguredTenant(t *testing.T) {
	ctx := context.Background()
	p := New(map[string]types.StorePaths{})

	assert.NotPanics(t, func() {
		p.EnsureLocalSnapshotsUpToDate(ctx, "unknown")
	})
}
