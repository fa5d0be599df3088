/*
Package storeconn owns database/sql.DB handles for reconsync's per-tenant
SQLite store files: reconciliation, ambre, dw, and control, each with a
local and (except control) a network side.

# Lifecycle

	┌─────────────┐  Open(tenant,kind,network,path)  ┌────────────┐
	│   Manager    │ ─────────────────────────────────▶│  sql.DB    │
	│ (mutex-      │◀──────────── cached ──────────────│ (SQLite)   │
	│  guarded map)│                                   └────────────┘
	└──────┬───────┘
	       │ CloseTenant(id) on tenant switch
	       ▼
	   handles closed, map entry removed

Each *sql.DB is configured for single-writer SQLite access
(SetMaxOpenConns(1)) with busy_timeout, foreign_keys, and a journal mode
chosen by role: WAL for files under concurrent read access, DELETE for
files about to be copied or replaced wholesale so a plain file copy
observes a consistent snapshot.

OpenExclusiveProbe opens an independent second connection and attempts a
BEGIN IMMEDIATE transaction, standing in for an OS-level exclusive-open
probe: any failure is conservatively treated as "locked by another
writer", per spec.md's file publisher exclusivity test.
*/
package storeconn
