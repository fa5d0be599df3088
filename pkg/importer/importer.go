// Package importer adapts external batch-import callers (spec.md §6's
// "Importer" external collaborator) onto the core engine: apply a
// batch of rows to a tenant's local Ambre store with the change log
// suppressed, then publish that store straight to the network.
// Grounded on the thin resource-kind dispatch shape of
// cmd/warren/apply.go's runApply (no parsing or validation logic of
// its own — just wiring a caller-supplied payload onto the lower-level
// components that do the real work).
package importer

import (
	"context"

	"github.com/meridian/reconsync/pkg/batch"
	"github.com/meridian/reconsync/pkg/config"
	"github.com/meridian/reconsync/pkg/publisher"
	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/rlog"
	"github.com/meridian/reconsync/pkg/storeconn"
	"github.com/meridian/reconsync/pkg/types"
)

// Importer applies externally-sourced transaction batches directly to
// a tenant's Ambre store, bypassing the change log (spec.md §6: the
// importer owns its own publish step rather than replaying through
// the replicator).
type Importer struct {
	cfg   *config.Config
	conns *storeconn.Manager
	pub   *publisher.Publisher
}

// New returns an Importer sharing conns and pub with the rest of the
// daemon, so the Ambre connection it opens is reused rather than
// duplicated.
func New(cfg *config.Config, conns *storeconn.Manager, pub *publisher.Publisher) *Importer {
	return &Importer{cfg: cfg, conns: conns, pub: pub}
}

// ImportAmbreBatch applies toAdd/toUpdate/toArchive to tenantID's local
// Ambre store with the change log suppressed, then publishes that
// store to the network, per spec.md §6's
// "applyEntitiesBatch(…, suppressChangeLog=true)" then
// "publishLocalToNetwork(ambre)".
func (im *Importer) ImportAmbreBatch(ctx context.Context, tenantID string, toAdd, toUpdate, toArchive []types.BatchRow) error {
	if _, ok := im.cfg.TenantByID(tenantID); !ok {
		return rerr.New(rerr.KindConfiguration, "unknown tenant %s", tenantID)
	}

	paths := im.cfg.StorePathsFor(tenantID)
	db, err := im.conns.Open(ctx, tenantID, types.StoreAmbre, false, paths.LocalAmbre, storeconn.JournalDelete)
	if err != nil {
		return err
	}

	writer := batch.NewWriter(tenantID, db)
	if err := writer.Apply(ctx, nil, toAdd, toUpdate, toArchive, true); err != nil {
		return err
	}

	if err := im.pub.PublishLocalToNetwork(ctx, tenantID, types.StoreAmbre); err != nil {
		rlog.WithTenant(tenantID).Warn().Err(err).Msg("ambre import applied locally but publish to network failed")
		return err
	}

	return nil
}
