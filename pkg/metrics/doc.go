/*
Package metrics provides Prometheus metrics collection and exposition for
reconsync. It defines and registers every metric using the Prometheus client
library, giving operators visibility into lock contention, replication
backlog, batch write efficiency, and publish latency across tenants. Metrics
are exposed via an HTTP endpoint for scraping by a Prometheus server.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                    │          │
	│  │  - MustRegister at package init              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Lock: acquisitions, active, heartbeats      │          │
	│  │  Changelog: pending, appended                │          │
	│  │  Replicator: entries applied, duration,      │          │
	│  │              failures                        │          │
	│  │  Batch: CRC skips, rows written, duration    │          │
	│  │  Publisher: duration, failures               │          │
	│  │  Reconcile loop: cycles, duration             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint                │          │
	│  │  - Path: /metrics                            │          │
	│  │  - Format: Prometheus text exposition         │          │
	│  │  - Handler: promhttp.Handler()               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

Every metric that can be attributed to a single tenant carries a "tenant"
label, since reconsync runs one reconciliation pipeline per tenant within
the same process. Metrics that are further scoped to a table or store kind
add "table" or "kind" labels.

# Metric reference

Lock manager (pkg/lock):

	reconsync_lock_acquisitions_total{tenant,result}
	  - result is "acquired", "held_by_other", or "error"
	reconsync_lock_active{tenant}
	  - 1 while this process holds the lease, 0 otherwise
	reconsync_lock_heartbeats_total{tenant,result}

Change log (pkg/changelog):

	reconsync_changelog_pending{tenant}
	  - gauge, sampled each reconcile cycle
	reconsync_changelog_appended_total{tenant,table}

Replicator (pkg/replicator):

	reconsync_push_entries_applied_total{tenant,table}
	reconsync_push_duration_seconds{tenant}
	reconsync_push_failures_total{tenant,reason}

Batch writer (pkg/batch):

	reconsync_crc_skips_total{tenant,table}
	reconsync_batch_rows_written_total{tenant,table,operation}
	reconsync_batch_duration_seconds{tenant,table}

Publisher (pkg/publisher):

	reconsync_publish_duration_seconds{tenant,kind}
	reconsync_publish_failures_total{tenant,kind,reason}

Reconcile loop (pkg/reconloop):

	reconsync_reconcile_cycles_total{tenant,result}
	reconsync_reconcile_duration_seconds{tenant}

# Timer helper

Timer wraps a start time and records elapsed duration to a histogram or
histogram vec on completion:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BatchDuration, tenant, table)

# Health and readiness

See health.go for the component health registry used by cmd/reconsyncd to
answer /health, /ready, and /live — each reconsync daemon instance registers
"control_store" and "lock_manager" as its critical components.

# Exposition

Handler returns promhttp.Handler() for mounting at /metrics. cmd/reconsyncd
mounts it alongside the health endpoints on the daemon's internal HTTP
listener.
*/
package metrics
