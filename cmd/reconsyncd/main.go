// Command reconsyncd is the reconciliation sync daemon: it loads a
// tenant configuration, wires the tenant controller for every
// configured tenant, and runs the cross-tenant reconciliation loop
// until terminated. Grounded on cmd/warren/main.go's rootCmd /
// cobra.OnInitialize(initLogging) / persistent-flags wiring, and on
// its metrics-HTTP-server-in-background / signal-wait / ordered-
// shutdown shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian/reconsync/pkg/config"
	"github.com/meridian/reconsync/pkg/metrics"
	"github.com/meridian/reconsync/pkg/reconloop"
	"github.com/meridian/reconsync/pkg/rlog"
	"github.com/meridian/reconsync/pkg/tenant"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "reconsyncd",
	Short:   "reconsync daemon: multi-tenant offline-first reconciliation sync engine",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("reconsyncd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "reconsync.yaml", "Path to the referential parameter configuration file")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Bind address for the /metrics, /health, /ready and /live HTTP endpoints")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	rlog.Init(rlog.Config{
		Level:      rlog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("control_store", false, "initializing")
	metrics.RegisterComponent("lock_manager", false, "initializing")

	ctrl := tenant.New(cfg)
	defer ctrl.Close()

	ctx := context.Background()
	for _, id := range ctrl.TenantIDs() {
		if err := ctrl.SetCurrentTenant(ctx, id); err != nil {
			rlog.Logger.Error().Err(err).Str("tenant", id).Msg("tenant initialization failed")
			continue
		}
		rlog.Logger.Info().Str("tenant", id).Msg("tenant initialized")
	}
	metrics.RegisterComponent("control_store", true, "ready")
	metrics.RegisterComponent("lock_manager", true, "ready")

	loop := reconloop.New(ctrl, time.Duration(cfg.ReconcileIntervalSecs)*time.Second)
	loop.RunOnce()
	loop.Start()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		mux.HandleFunc("GET /lock/{tenant}", lockStatusHandler(ctrl))
		mux.HandleFunc("GET /status/{tenant}", syncStatusHandler(ctrl))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			rlog.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	rlog.Logger.Info().Str("addr", metricsAddr).Msg("metrics/health endpoints listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	rlog.Logger.Info().Msg("shutting down")
	loop.Stop()
	rlog.Logger.Info().Msg("shutdown complete")
	return nil
}

// lockStatusHandler reports whether the cross-workstation global lock is
// currently held for the given tenant, observing isGlobalLockActive()
// without acquiring or releasing anything itself.
func lockStatusHandler(ctrl *tenant.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenant")
		active, err := ctrl.IsGlobalLockActive(r.Context(), tenantID)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"tenantId": tenantID, "error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tenantId":   tenantID,
			"lockActive": active,
		})
	}
}

// syncStatusHandler reports the tenant's current sync status, observing
// getCurrentSyncStatus()'s last-sync-time and network-availability signals.
func syncStatusHandler(ctrl *tenant.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenant")
		w.Header().Set("Content-Type", "application/json")

		resp := map[string]any{
			"tenantId":         tenantID,
			"networkAvailable": ctrl.IsNetworkSyncAvailable(tenantID),
		}
		if lastSync, ok := ctrl.LastSyncTime(tenantID); ok {
			resp["lastSyncTime"] = lastSync.Format(time.RFC3339)
		} else {
			resp["lastSyncTime"] = nil
		}
		json.NewEncoder(w).Encode(resp)
	}
}
