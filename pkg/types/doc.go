/*
Package types holds the core data model shared across reconsync's
components: rows, table descriptors, change-log entries, lock records,
tenants, and store path descriptors. Nothing in this package talks to a
database; it exists so that pkg/schema, pkg/batch, pkg/changelog,
pkg/lock, and pkg/replicator can agree on shapes without importing one
another.

# Data flow

	┌───────────────┐   introspect    ┌────────────────────┐
	│  pkg/schema    │ ──────────────▶│  TableDescriptor   │
	└───────────────┘                 └─────────┬──────────┘
	                                             │ drives binding + CRC
	┌───────────────┐   toAdd/toUpdate/toArchive │
	│  pkg/batch     │◀────────────────── Row, BatchRow ────┘
	└───────┬───────┘
	        │ appends
	        ▼
	┌───────────────┐   listUnsynced/markSynced   ┌────────────────┐
	│ pkg/changelog  │ ───────────────────────────▶│ ChangeLogEntry │
	└───────────────┘                              └────────────────┘

	┌───────────────┐   acquire/release   ┌────────────────┐
	│  pkg/lock      │────────────────────▶│  LockRecord    │
	└───────────────┘                      └────────────────┘

Row carries no schema of its own: every operation that reads or writes
one consults a TableDescriptor first, so that column order, primary
key resolution, and declared types come from one place (pkg/schema)
instead of being re-derived ad hoc by each caller.
*/
package types
