// Package changelog is reconsync's Change Log Store (C4): an
// append-only log of (tableName, recordId, operation) tuples in the
// ChangeLog table of a tenant's control store, recording local
// mutations awaiting replay to the network replica. pkg/batch appends
// to it; pkg/replicator consumes it FIFO by id and marks entries
// synchronized once applied.
package changelog
