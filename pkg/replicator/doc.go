/*
Package replicator implements reconsync's Replicator (C7).

	PushPending(assumeLockHeld)
	  │
	  ├─ per-tenant semaphore / 5s cooldown ──▶ busy ──▶ return 0, nil
	  │
	  ▼
	ListUnsynced (C4) ──▶ empty ──▶ return 0, nil
	  │
	  ▼
	Acquire global lock (5 min wait budget) unless assumeLockHeld
	  │
	  ▼
	BEGIN network transaction
	  │
	  ├─ DELETE entry   ──▶ soft or hard delete on network
	  │
	  └─ INSERT/UPDATE  ──▶ SELECT row from local by pk
	                        │
	                        ├─ absent ──▶ skip (no error)
	                        │
	                        └─ present ──▶ exists on network?
	                                       UPDATE : INSERT
	  │
	  ▼
	COMMIT ──▶ MarkSynced(applied + skipped ids) ──▶ refresh local from network
	  │
	  ▼
	Release lock (if acquired here)

Entries are replayed in ascending change-log id order (FIFO), and an
INSERT/UPDATE/DELETE entry never retries a previously applied id: any
error before commit discards the whole cycle, and commit only happens
once every entry in the batch has been replayed, so a crash mid-cycle
never marks partial progress as synced.
*/
package replicator
