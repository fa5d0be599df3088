/*
Package importer is the thin adapter spec.md §6 describes for the
Importer external collaborator:

	ImportAmbreBatch(tenantID, toAdd, toUpdate, toArchive)
	  │
	  ├─ batch.Writer.Apply(suppressChangeLog=true)   against local Ambre
	  └─ publisher.PublishLocalToNetwork(ambre)

No change log entries are produced for an import: the ambre store is a
one-way feed from an external system, not a row a user can edit
locally and later replay, so there is nothing for the replicator to
push later. The publish step is what actually gets the imported rows
onto the network; a publish failure is returned to the caller even
though the local apply already committed, so the caller can retry the
publish without re-importing.
*/
package importer
