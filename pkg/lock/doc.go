/*
Package lock implements reconsync's Global Lock Manager (C5): an
exclusive lease row per tenant in the control store's SyncLocks table.

# Acquisition

	Acquire(reason, waitBudget, expiry)
	  │
	  ▼
	tryAcquire: delete expired rows, purge stale self locks,
	            insert a fresh row if none active
	  │
	  ├─ acquired ──▶ spawn heartbeat goroutine ──▶ Handle
	  │
	  └─ contended ──▶ sleep 300ms, retry until waitBudget exhausted
	                   ──▶ TimeoutError

A held lock is renewed by an independent goroutine on a ticker period of
max(15s, min(120s, expiry/2)); heartbeat errors are swallowed, since a
missed heartbeat only risks the lease expiring and being reclaimed, not
data loss. Release cancels the heartbeat goroutine and deletes the row;
it is idempotent.

Stale locks left behind by a crashed process on the same machine are
purged via a liveness probe (os.FindProcess + signal 0) before each
acquisition attempt; locks from other machines are reclaimed only by
expiry, since this process cannot observe another host's process table.
*/
package lock
