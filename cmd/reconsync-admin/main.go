// Command reconsync-admin is the operator CLI for reconsync: inspect
// and force-release tenant locks, trigger an on-demand push or
// publish, run an ad-hoc Ambre import, and sweep every tenant's
// control store through a backup-then-schema-upgrade pass. Grounded
// on cmd/warren/main.go's one-subcommand-per-resource cobra structure
// and on cmd/warren-migrate/main.go's dry-run/backup-then-migrate flag
// shape, retargeted from a BoltDB bucket migration onto SQLite control
// stores.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/meridian/reconsync/pkg/changelog"
	"github.com/meridian/reconsync/pkg/config"
	"github.com/meridian/reconsync/pkg/importer"
	"github.com/meridian/reconsync/pkg/lock"
	"github.com/meridian/reconsync/pkg/tenant"
	"github.com/meridian/reconsync/pkg/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reconsync-admin",
	Short: "Operator CLI for the reconsync replication engine",
}

func init() {
	rootCmd.PersistentFlags().String("config", "reconsync.yaml", "Path to the referential parameter configuration file")

	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(migrateCmd)

	tenantCmd.AddCommand(tenantListCmd)
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockReleaseCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// --- tenant list ---

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Inspect configured tenants",
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tenants and their resolved store paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		for _, t := range cfg.TenantList() {
			paths := cfg.StorePathsFor(t.ID)
			fmt.Printf("%s\t%s\n", t.ID, t.DisplayName)
			fmt.Printf("  local reconciliation:   %s\n", paths.LocalReconciliation)
			fmt.Printf("  network reconciliation: %s\n", paths.NetworkReconciliation)
			fmt.Printf("  control store:          %s\n", paths.Control)
		}
		return nil
	},
}

// --- lock status / release ---

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect or force-release a tenant's global lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current lock holder for a tenant, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tenantID, _ := cmd.Flags().GetString("tenant")

		mgr, close, err := openLockManager(ctx, cfg, tenantID)
		if err != nil {
			return err
		}
		defer close()

		rec, err := mgr.Snapshot(ctx)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("no lock held")
			return nil
		}
		fmt.Printf("lockId:      %s\n", rec.LockID)
		fmt.Printf("reason:      %s\n", rec.Reason)
		fmt.Printf("machine:     %s\n", rec.MachineName)
		fmt.Printf("pid:         %d\n", rec.ProcessID)
		fmt.Printf("createdAt:   %s\n", rec.CreatedAt.Format(time.RFC3339))
		if rec.ExpiresAt != nil {
			fmt.Printf("expiresAt:   %s\n", rec.ExpiresAt.Format(time.RFC3339))
		} else {
			fmt.Println("expiresAt:   never")
		}
		fmt.Printf("syncStatus:  %s\n", rec.SyncStatus)
		fmt.Printf("active:      %v\n", rec.Active(time.Now().UTC()))
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Force-release a tenant's global lock, regardless of owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tenantID, _ := cmd.Flags().GetString("tenant")
		force, _ := cmd.Flags().GetBool("yes")

		if !force {
			if !confirm(fmt.Sprintf("force-release the lock for tenant %s? [y/N] ", tenantID)) {
				fmt.Println("aborted")
				return nil
			}
		}

		mgr, close, err := openLockManager(ctx, cfg, tenantID)
		if err != nil {
			return err
		}
		defer close()

		if err := mgr.ForceRelease(ctx); err != nil {
			return err
		}
		fmt.Printf("lock released for tenant %s\n", tenantID)
		return nil
	},
}

func openLockManager(ctx context.Context, cfg *config.Config, tenantID string) (*lock.Manager, func(), error) {
	if _, ok := cfg.TenantByID(tenantID); !ok {
		return nil, nil, fmt.Errorf("unknown tenant %s", tenantID)
	}
	paths := cfg.StorePathsFor(tenantID)
	db, err := sql.Open("sqlite3", paths.Control)
	if err != nil {
		return nil, nil, fmt.Errorf("open control store: %w", err)
	}
	hostname, _ := os.Hostname()
	mgr := lock.NewManager(tenantID, db, hostname)
	if err := mgr.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return mgr, func() { db.Close() }, nil
}

func init() {
	lockStatusCmd.Flags().String("tenant", "", "Tenant id (required)")
	_ = lockStatusCmd.MarkFlagRequired("tenant")
	lockReleaseCmd.Flags().String("tenant", "", "Tenant id (required)")
	_ = lockReleaseCmd.MarkFlagRequired("tenant")
	lockReleaseCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// --- push / publish ---

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Run an on-demand pushPending cycle for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tenantID, _ := cmd.Flags().GetString("tenant")

		ctrl := tenant.New(cfg)
		defer ctrl.Close()
		if err := ctrl.SetCurrentTenant(ctx, tenantID); err != nil {
			return err
		}
		repl, ok := ctrl.Replicator(tenantID)
		if !ok {
			return fmt.Errorf("tenant %s not initialized", tenantID)
		}
		applied, err := repl.PushPending(ctx, false)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d change log entries for tenant %s\n", applied, tenantID)
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a tenant's local store to the network",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tenantID, _ := cmd.Flags().GetString("tenant")
		kind, _ := cmd.Flags().GetString("kind")

		ctrl := tenant.New(cfg)
		defer ctrl.Close()
		if err := ctrl.Publisher().PublishLocalToNetwork(ctx, tenantID, types.StoreKind(kind)); err != nil {
			return err
		}
		fmt.Printf("published %s store for tenant %s\n", kind, tenantID)
		return nil
	},
}

func init() {
	pushCmd.Flags().String("tenant", "", "Tenant id (required)")
	_ = pushCmd.MarkFlagRequired("tenant")

	publishCmd.Flags().String("tenant", "", "Tenant id (required)")
	_ = publishCmd.MarkFlagRequired("tenant")
	publishCmd.Flags().String("kind", "reconciliation", "Store kind: reconciliation, ambre, or dw")
}

// --- import ---

type importPayload struct {
	Add     []importRow `json:"add"`
	Update  []importRow `json:"update"`
	Archive []importRow `json:"archive"`
}

type importRow struct {
	Table string         `json:"table"`
	Row   map[string]any `json:"row"`
}

func (p importPayload) batchRows(rows []importRow) []types.BatchRow {
	out := make([]types.BatchRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.BatchRow{Table: r.Table, Row: types.Row(r.Row)})
	}
	return out
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Apply a batch of rows to a tenant's Ambre store and publish it",
	Long: `Reads a JSON file of the form:

  {"add": [{"table": "AmbreTransactions", "row": {"Id": "1", "Amount": "10.00"}}],
   "update": [], "archive": []}

and applies it via the importer adapter (spec.md §6's Importer
collaborator): suppressed-change-log batch apply, then publish to
network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tenantID, _ := cmd.Flags().GetString("tenant")
		file, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		var payload importPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse import file: %w", err)
		}

		ctrl := tenant.New(cfg)
		defer ctrl.Close()

		imp := importer.New(cfg, ctrl.Conns(), ctrl.Publisher())
		if err := imp.ImportAmbreBatch(ctx, tenantID, payload.batchRows(payload.Add), payload.batchRows(payload.Update), payload.batchRows(payload.Archive)); err != nil {
			return err
		}
		fmt.Printf("imported %d add, %d update, %d archive rows for tenant %s\n", len(payload.Add), len(payload.Update), len(payload.Archive), tenantID)
		return nil
	},
}

func init() {
	importCmd.Flags().String("tenant", "", "Tenant id (required)")
	_ = importCmd.MarkFlagRequired("tenant")
	importCmd.Flags().String("file", "", "Path to the JSON batch file (required)")
	_ = importCmd.MarkFlagRequired("file")
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Back up and schema-upgrade every tenant's control store",
	Long: `Backs up each tenant's control store file (unless --dry-run),
then opens it and runs EnsureSchema on the change log and lock tables,
which creates any missing tables and adds any missing columns (e.g. an
older SyncLocks table's syncStatus column). Existing tables are never
dropped or reshaped, per spec.md §6's automatic schema upgrade policy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		for _, t := range cfg.TenantList() {
			paths := cfg.StorePathsFor(t.ID)
			if _, statErr := os.Stat(paths.Control); os.IsNotExist(statErr) {
				fmt.Printf("%s: no control store yet at %s, nothing to migrate\n", t.ID, paths.Control)
				continue
			}

			if dryRun {
				fmt.Printf("%s: [dry run] would back up %s and ensure ChangeLog/SyncLocks schema\n", t.ID, paths.Control)
				continue
			}

			backupPath := paths.Control + ".backup"
			if err := copyFile(paths.Control, backupPath); err != nil {
				return fmt.Errorf("%s: backup control store: %w", t.ID, err)
			}
			fmt.Printf("%s: backed up control store to %s\n", t.ID, backupPath)

			db, err := sql.Open("sqlite3", paths.Control)
			if err != nil {
				return fmt.Errorf("%s: open control store: %w", t.ID, err)
			}

			cl := changelog.NewStore(db)
			if err := cl.EnsureSchema(ctx); err != nil {
				db.Close()
				return fmt.Errorf("%s: ensure ChangeLog schema: %w", t.ID, err)
			}

			hostname, _ := os.Hostname()
			lockMgr := lock.NewManager(t.ID, db, hostname)
			if err := lockMgr.EnsureSchema(ctx); err != nil {
				db.Close()
				return fmt.Errorf("%s: ensure SyncLocks schema: %w", t.ID, err)
			}
			db.Close()

			fmt.Printf("%s: schema upgrade complete\n", t.ID)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
