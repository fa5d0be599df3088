package types

import "time"

// Row is a mapping of column name to scalar value. No schema
// is baked into Row itself; column order, primary key, and declared
// storage types all come from a TableDescriptor produced by the schema
// inspector. Values are one of: nil, string, int64, float64, bool, or
// time.Time.
type Row map[string]any

// Clone returns a shallow copy of the row, safe to mutate independently
// of the original (scalar values are copied by value).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ColumnType is the declared storage type of a column, as reported by
// the schema inspector (C1). It drives both parameter binding (C2) and
// CRC field normalization (C3) — never the Go runtime type of a bound
// value.
type ColumnType string

const (
	ColumnTypeText      ColumnType = "TEXT"
	ColumnTypeInteger   ColumnType = "INTEGER"
	ColumnTypeReal      ColumnType = "REAL"
	ColumnTypeBoolean   ColumnType = "BOOLEAN"
	ColumnTypeTimestamp ColumnType = "TIMESTAMP"
	ColumnTypeBlob      ColumnType = "BLOB"
)

// Well-known metadata column names, recognized by name wherever they
// appear on a table (spec §3).
const (
	ColumnLastModified = "LastModified"
	ColumnIsDeleted    = "IsDeleted"
	ColumnDeleteDate   = "DeleteDate"
	ColumnCRC          = "CRC"
)

// TableDescriptor is the schema-driven metadata for a single table:
// its column set, declared types, and resolved primary key. Produced
// by pkg/schema and cached for the life of a higher-level operation.
type TableDescriptor struct {
	Name          string
	PrimaryKey    string
	Columns       []string              // canonical case as declared by the store
	ColumnTypes   map[string]ColumnType // keyed by lower-cased column name
}

// HasColumn reports whether the table declares the named column,
// case-insensitively.
func (t *TableDescriptor) HasColumn(name string) bool {
	_, ok := t.ColumnTypes[lower(name)]
	return ok
}

// ColumnTypeOf returns the declared type of a column, case-insensitively.
func (t *TableDescriptor) ColumnTypeOf(name string) (ColumnType, bool) {
	ct, ok := t.ColumnTypes[lower(name)]
	return ct, ok
}

func lower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Operation is the kind of mutation recorded in the change log.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ChangeLogEntry is one append-only record of a local mutation awaiting
// replay to the network replica (spec §3).
type ChangeLogEntry struct {
	ID            int64
	TableName     string
	RecordID      string
	Operation     Operation
	Timestamp     time.Time
	Synchronized  bool
}

// LockRecord is the persisted form of the global lock lease (spec §3).
type LockRecord struct {
	LockID      string
	Reason      string
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil means never expires
	MachineName string
	ProcessID   int
	SyncStatus  string
}

// Active reports whether the lock is still held as of now: either it
// never expires, or its expiry is strictly in the future.
func (l *LockRecord) Active(now time.Time) bool {
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// StoreKind identifies one of the per-tenant logical stores.
type StoreKind string

const (
	StoreReconciliation StoreKind = "reconciliation"
	StoreAmbre          StoreKind = "ambre"
	StoreDW             StoreKind = "dw"
	StoreControl        StoreKind = "control"
)

// Tenant is a read-only isolation unit ("country" in the source
// domain): one set of stores per tenant.
type Tenant struct {
	ID          string
	DisplayName string
	BIC         string
	ServiceCode string
}

// StorePaths holds the resolved local/network file paths for a
// tenant's stores, plus its control-store path (spec §3).
type StorePaths struct {
	TenantID           string
	LocalReconciliation string
	NetworkReconciliation string
	LocalAmbre         string
	NetworkAmbre       string
	LocalDW            string
	NetworkDW          string
	Control            string
}

// PathFor returns the local and network paths for a given store kind.
// StoreControl has no network counterpart; the second return value is
// empty in that case.
func (p *StorePaths) PathFor(kind StoreKind) (local, network string) {
	switch kind {
	case StoreReconciliation:
		return p.LocalReconciliation, p.NetworkReconciliation
	case StoreAmbre:
		return p.LocalAmbre, p.NetworkAmbre
	case StoreDW:
		return p.LocalDW, p.NetworkDW
	case StoreControl:
		return p.Control, ""
	default:
		return "", ""
	}
}

// BatchRow pairs a Row with the table it belongs to, as used by the
// batch writer's toAdd/toUpdate/toArchive lists.
type BatchRow struct {
	Table string
	Row   Row
}
