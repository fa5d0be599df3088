// Package config loads the referential parameter map and tenant list
// described in spec.md §6: data/network directories, per-store database
// prefixes, the sync table list, and the tenants reconsync serves. Every
// other package derives its tenant-scoped file paths from
// Config.StorePathsFor rather than constructing them independently.
package config
