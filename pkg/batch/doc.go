/*
Package batch implements reconsync's Batch Writer (C6): the single
transactional entry point that applies toAdd/toUpdate/toArchive row
sets to a tenant's local reconciliation store.

	Apply(toAdd, toUpdate, toArchive, suppressChangeLog)
	  │
	  ▼
	BEGIN
	  │
	  ├─ toAdd     ──▶ per-row: stamp LastModified/IsDeleted/CRC, INSERT
	  │
	  ├─ toUpdate  ──▶ per-table: prefetch prior CRCs (chunked IN (?,...))
	  │                per-row: recompute CRC, skip if unchanged, else UPDATE
	  │
	  └─ toArchive ──▶ per-table: soft delete (IsDeleted/DeleteDate) if the
	                   table declares either column, else hard DELETE
	  │
	  ▼
	COMMIT ──▶ append accumulated (table, id, op) tuples to the change
	           log, unless suppressChangeLog is set

A failure before COMMIT rolls back the whole transaction; no partial
writes and no change-log entries are produced in that case. A failure
appending to the change log after COMMIT is returned to the caller and
leaves the committed rows in place.
Prepared statements are cached per (table, operation, column-signature)
shape for the lifetime of one Apply call, so repeated rows against the
same table and column set reuse the same statement instead of
re-planning SQL per row.
*/
package batch
