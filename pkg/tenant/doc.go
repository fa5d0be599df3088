/*
Package tenant implements reconsync's Tenant Controller (C9): the
object that wires a tenant's stores together and answers "is this
tenant up to date".

	SetCurrentTenant(id)
	  │
	  ├─ ensureLocalStoreExists(reconciliation)
	  │    local absent + network reachable → RefreshLocalFromNetwork
	  ├─ open control/local/network connections (pkg/storeconn)
	  ├─ build changelog.Store, lock.Manager, replicator.Replicator
	  ├─ ListUnsynced non-empty → PushPending (best effort)
	  └─ RefreshLocalFromNetwork(reconciliation, ambre, dw) (best effort)

	Synchronize(id)                      fast path
	  │
	  ├─ files same {size,mtime} AND changelog empty → NoOp(true)
	  └─ otherwise → PushPending + RefreshLocalFromNetwork,
	       record lastSyncTimes[id] = now on success

Per-tenant state (store paths, sync table list, lock manager,
replicator) lives in a map keyed by tenant id rather than as package
globals, so one Controller can serve every configured tenant
concurrently; the underlying Replicator's own per-tenant push
semaphore and cooldown timer provide the single-writer serialization
spec.md §5 requires.
*/
package tenant
