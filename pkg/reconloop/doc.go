/*
Package reconloop implements the cross-tenant reconciliation loop
(D3): a single ticker driving pkg/tenant.Controller.Synchronize across
every configured tenant.

	Start()
	  │
	  ▼
	run()  (goroutine)
	  │
	  ├─ ticker fires ──▶ cycle()
	  │                     │
	  │                     └─ for each tenant: Synchronize(ctx, id)
	  │                          success ──▶ reconsync_reconcile_cycles_total{result=synced|noop}++
	  │                          failure ──▶ log, reconsync_reconcile_cycles_total{result=error}++, continue
	  │
	  └─ stopCh closed ──▶ return

One tenant's Synchronize failure never stops the cycle from reaching
the remaining tenants: each tenant's stores, lock, and replicator are
fully independent, so there is nothing to roll back or coordinate
across tenants at this layer.
*/
package reconloop
