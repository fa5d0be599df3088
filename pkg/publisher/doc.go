/*
Package publisher implements reconsync's File Publisher (C8): atomic
local<->network transfer of a tenant's SQLite store files.

	PublishLocalToNetwork(kind)
	  │
	  ├─ backupDaily(network)     best-effort, skipped if today's backup exists
	  ├─ compact(local)           VACUUM INTO a temp file; raw file on failure
	  ├─ stageCopy(source, network.tmp_N)   same volume as target
	  └─ atomicReplace            target.bak ← target; rename tmp_N → target

	RefreshLocalFromNetwork(kind)
	  │
	  ├─ verify network file present and not exclusively open
	  │    (storeconn.OpenExclusiveProbe)
	  ├─ stageCopy(network, local.tmp_N)
	  └─ atomicReplace            local.bak ← local; rename tmp_N → local
	  │
	  ▼
	advance sync anchor (UTC now)

Every write to a target path goes through stage-then-rename: the
staging file lives beside the target so the final os.Rename is a
same-filesystem, single-syscall replace, and a `.bak` side-file is
written before any existing target is overwritten. No step ever
truncates or writes in place, so a crash at any point leaves either the
old file or the new one intact, never a torn one.

EnsureLocalSnapshotsUpToDate is a best-effort freshness check for the
ambre and dw replicas: it compares local and network {size,
modification time} and refreshes only on a mismatch, swallowing
errors, since these snapshots are read-only projections rather than
the tenant's write-of-record reconciliation store.
*/
package publisher
