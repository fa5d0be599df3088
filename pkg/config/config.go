// Package config loads the referential parameter map and tenant list that
// drive reconsync's per-tenant store paths (spec §6). It mirrors the
// teacher's cmd/warren/apply.go YAML resource-loading pattern: read the
// file, unmarshal with yaml.v3, validate required keys.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/types"
)

// TenantConfig is one tenant entry in the configuration file.
type TenantConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	BIC         string `yaml:"bic"`
	ServiceCode string `yaml:"service_code"`
}

// Config is the referential parameter map plus tenant list loaded from
// YAML (spec.md §6's "referential parameter service").
type Config struct {
	DataDirectory          string         `yaml:"data_directory"`
	NetworkDirectory       string         `yaml:"network_directory"`
	CountryDatabasePrefix  string         `yaml:"country_database_prefix"`
	AmbreDatabasePrefix    string         `yaml:"ambre_database_prefix"`
	DWDatabasePrefix       string         `yaml:"dw_database_prefix"`
	ControlDatabasePrefix  string         `yaml:"control_database_prefix"`
	SyncTables             string         `yaml:"sync_tables"`
	ReconcileIntervalSecs  int            `yaml:"reconcile_interval_seconds"`
	LockLeaseSeconds       int            `yaml:"lock_lease_seconds"`
	Tenants                []TenantConfig `yaml:"tenants"`
}

// Load reads and parses a configuration file at path, applying defaults
// and validating required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindConfiguration, err, "read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, rerr.Wrap(rerr.KindConfiguration, err, "parse config %s", path)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CountryDatabasePrefix == "" {
		c.CountryDatabasePrefix = "DB_"
	}
	if c.AmbreDatabasePrefix == "" {
		c.AmbreDatabasePrefix = c.CountryDatabasePrefix
	}
	if c.DWDatabasePrefix == "" {
		c.DWDatabasePrefix = c.CountryDatabasePrefix
	}
	if c.ControlDatabasePrefix == "" {
		c.ControlDatabasePrefix = c.CountryDatabasePrefix
	}
	if c.SyncTables == "" {
		c.SyncTables = "ReconciliationTable"
	}
	if c.ReconcileIntervalSecs <= 0 {
		c.ReconcileIntervalSecs = 10
	}
	if c.LockLeaseSeconds <= 0 {
		c.LockLeaseSeconds = 60
	}
}

func (c *Config) validate() error {
	if c.DataDirectory == "" {
		return rerr.New(rerr.KindConfiguration, "missing required key: data_directory")
	}
	if c.NetworkDirectory == "" {
		return rerr.New(rerr.KindConfiguration, "missing required key: network_directory")
	}
	if len(c.Tenants) == 0 {
		return rerr.New(rerr.KindConfiguration, "missing required key: tenants (at least one)")
	}
	for i, t := range c.Tenants {
		if t.ID == "" {
			return rerr.New(rerr.KindConfiguration, "tenants[%d]: missing id", i)
		}
	}
	return nil
}

// SyncTableList splits SyncTables on commas, trimming whitespace and
// dropping empty entries.
func (c *Config) SyncTableList() []string {
	parts := strings.Split(c.SyncTables, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TenantByID returns the tenant config with the given id, if present.
func (c *Config) TenantByID(id string) (TenantConfig, bool) {
	for _, t := range c.Tenants {
		if t.ID == id {
			return t, true
		}
	}
	return TenantConfig{}, false
}

// TenantList returns the configured tenants as types.Tenant values.
func (c *Config) TenantList() []types.Tenant {
	out := make([]types.Tenant, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		out = append(out, types.Tenant{
			ID:          t.ID,
			DisplayName: t.DisplayName,
			BIC:         t.BIC,
			ServiceCode: t.ServiceCode,
		})
	}
	return out
}

// StorePathsFor derives the six store file paths plus control-store path
// for a tenant, following spec.md §3's "{prefix}{tenantId}.accdb" in
// {DataDirectory|NetworkDirectory}" naming convention. The ".db" extension
// is used in place of ".accdb" since reconsync's storage engine is SQLite.
func (c *Config) StorePathsFor(tenantID string) types.StorePaths {
	join := func(dir, prefix string) string {
		return dir + "/" + prefix + tenantID + ".db"
	}
	return types.StorePaths{
		TenantID:              tenantID,
		LocalReconciliation:   join(c.DataDirectory, c.CountryDatabasePrefix),
		NetworkReconciliation: join(c.NetworkDirectory, c.CountryDatabasePrefix),
		LocalAmbre:            join(c.DataDirectory, c.AmbreDatabasePrefix),
		NetworkAmbre:          join(c.NetworkDirectory, c.AmbreDatabasePrefix),
		LocalDW:               join(c.DataDirectory, c.DWDatabasePrefix),
		NetworkDW:             join(c.NetworkDirectory, c.DWDatabasePrefix),
		Control:               join(c.DataDirectory, c.ControlDatabasePrefix),
	}
}
