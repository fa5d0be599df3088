package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/reconsync/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
data_directory: /data
network_directory: /network
tenants:
  - id: FR
    display_name: France
    bic: FRXXX
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DB_", cfg.CountryDatabasePrefix)
	assert.Equal(t, "DB_", cfg.AmbreDatabasePrefix)
	assert.Equal(t, []string{"ReconciliationTable"}, cfg.SyncTableList())
	assert.Equal(t, 10, cfg.ReconcileIntervalSecs)
	assert.Equal(t, 60, cfg.LockLeaseSeconds)
}

func TestLoad_MissingDataDirectory(t *testing.T) {
	path := writeConfig(t, `
network_directory: /network
tenants:
  - id: FR
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingTenants(t *testing.T) {
	path := writeConfig(t, `
data_directory: /data
network_directory: /network
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_TenantMissingID(t *testing.T) {
	path := writeConfig(t, `
data_directory: /data
network_directory: /network
tenants:
  - display_name: France
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSyncTableList_TrimsAndDrops(t *testing.T) {
	cfg := &Config{SyncTables: " ReconciliationTable ,  Transactions,,"}
	assert.Equal(t, []string{"ReconciliationTable", "Transactions"}, cfg.SyncTableList())
}

func TestTenantByID(t *testing.T) {
	cfg := &Config{Tenants: []TenantConfig{{ID: "FR"}, {ID: "BE"}}}

	tc, ok := cfg.TenantByID("BE")
	assert.True(t, ok)
	assert.Equal(t, "BE", tc.ID)

	_, ok = cfg.TenantByID("DE")
	assert.False(t, ok)
}

func TestStorePathsFor(t *testing.T) {
	cfg := &Config{
		DataDirectory:         "/data",
		NetworkDirectory:      "/network",
		CountryDatabasePrefix: "DB_",
		AmbreDatabasePrefix:   "AMB_",
		DWDatabasePrefix:      "DW_",
		ControlDatabasePrefix: "CTRL_",
	}

	paths := cfg.StorePathsFor("FR")

	assert.Equal(t, "/data/DB_FR.db", paths.LocalReconciliation)
	assert.Equal(t, "/network/DB_FR.db", paths.NetworkReconciliation)
	assert.Equal(t, "/data/AMB_FR.db", paths.LocalAmbre)
	assert.Equal(t, "/network/AMB_FR.db", paths.NetworkAmbre)
	assert.Equal(t, "/data/DW_FR.db", paths.LocalDW)
	assert.Equal(t, "/network/DW_FR.db", paths.NetworkDW)
	assert.Equal(t, "/data/CTRL_FR.db", paths.Control)

	local, network := paths.PathFor(types.StoreControl)
	assert.Equal(t, "/data/CTRL_FR.db", local)
	assert.Empty(t, network)
}
