// Package schema introspects a SQLite table's columns, primary key, and
// declared storage types, producing the types.TableDescriptor that every
// other component binds against. Grounded on roach88-nysm's
// internal/store/store.go schema-ensure style, generalized from a fixed
// embedded schema to live, per-table PRAGMA introspection.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/types"
)

// quoteIdent double-quotes a SQL identifier for interpolation into a
// PRAGMA statement. PRAGMA does not accept bound parameters for its
// argument in SQLite, so the table/index name must be embedded directly;
// doubling embedded quotes is the standard SQL identifier-escaping rule.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Inspector introspects tables on a connection and caches results for
// the life of a higher-level operation (a batch apply, a push cycle).
// Per spec.md §9's design note, the cache is invalidated by creating a
// fresh Inspector at the start of each such operation; it is never
// shared across operations.
type Inspector struct {
	db    *sql.DB
	cache map[string]*types.TableDescriptor
}

// NewInspector returns an Inspector bound to db with an empty cache.
func NewInspector(db *sql.DB) *Inspector {
	return &Inspector{db: db, cache: make(map[string]*types.TableDescriptor)}
}

// Describe returns the TableDescriptor for table, introspecting and
// caching it on first use. The cache key is the lower-cased table name.
func (insp *Inspector) Describe(ctx context.Context, table string) (*types.TableDescriptor, error) {
	key := strings.ToLower(table)
	if td, ok := insp.cache[key]; ok {
		return td, nil
	}

	td, err := describe(ctx, insp.db, table)
	if err != nil {
		return nil, err
	}

	insp.cache[key] = td
	return td, nil
}

// Invalidate drops all cached descriptors, forcing the next Describe
// call to re-introspect.
func (insp *Inspector) Invalidate() {
	insp.cache = make(map[string]*types.TableDescriptor)
}

type columnInfo struct {
	cid       int
	name      string
	declType  string
	notNull   int
	dfltValue sql.NullString
	pk        int
}

func describe(ctx context.Context, db *sql.DB, table string) (*types.TableDescriptor, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, rerr.Wrap(rerr.KindSchemaMismatch, err, "introspect table %s", table)
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.cid, &c.name, &c.declType, &c.notNull, &c.dfltValue, &c.pk); err != nil {
			return nil, rerr.Wrap(rerr.KindSchemaMismatch, err, "scan table_info for %s", table)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, rerr.Wrap(rerr.KindSchemaMismatch, err, "iterate table_info for %s", table)
	}

	if len(cols) == 0 {
		return nil, rerr.New(rerr.KindSchemaMismatch, "unknown or empty table %s", table)
	}

	td := &types.TableDescriptor{
		Name:        table,
		Columns:     make([]string, 0, len(cols)),
		ColumnTypes: make(map[string]types.ColumnType, len(cols)),
	}
	for _, c := range cols {
		td.Columns = append(td.Columns, c.name)
		td.ColumnTypes[strings.ToLower(c.name)] = classify(c.declType)
	}

	pk, err := resolvePrimaryKey(ctx, db, table, cols)
	if err != nil {
		return nil, err
	}
	td.PrimaryKey = pk

	return td, nil
}

// classify maps a SQLite declared type affinity to one of reconsync's
// ColumnType categories. SQLite's type affinity rules: it inspects the
// declared type string, not a fixed enum, so matching is substring-based
// following SQLite's own affinity algorithm.
func classify(declType string) types.ColumnType {
	t := strings.ToUpper(strings.TrimSpace(declType))
	switch {
	case strings.Contains(t, "INT"):
		return types.ColumnTypeInteger
	case strings.Contains(t, "BOOL"):
		return types.ColumnTypeBoolean
	case strings.Contains(t, "TIME") || strings.Contains(t, "DATE"):
		return types.ColumnTypeTimestamp
	case strings.Contains(t, "BLOB"):
		return types.ColumnTypeBlob
	case strings.Contains(t, "REAL") || strings.Contains(t, "FLOA") || strings.Contains(t, "DOUB") || strings.Contains(t, "NUMERIC") || strings.Contains(t, "DECIMAL"):
		return types.ColumnTypeReal
	default:
		return types.ColumnTypeText
	}
}

// resolvePrimaryKey implements spec.md §4.1's (a)-(d) resolution order:
// (a) declared primary key, (b) first unique-index column, (c) a column
// literally named ID, (d) first column.
func resolvePrimaryKey(ctx context.Context, db *sql.DB, table string, cols []columnInfo) (string, error) {
	// (a) declared primary key: table_info's pk column is 1-based
	// ordinal for composite keys; take the lowest ordinal as the
	// leading (and, for reconsync's single-column-PK domain, only)
	// primary key column.
	best := columnInfo{pk: 0}
	for _, c := range cols {
		if c.pk > 0 && (best.pk == 0 || c.pk < best.pk) {
			best = c
		}
	}
	if best.pk > 0 {
		return best.name, nil
	}

	// (b) first unique-index column.
	idxRows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(table)))
	if err != nil {
		return "", rerr.Wrap(rerr.KindSchemaMismatch, err, "index_list for %s", table)
	}
	defer idxRows.Close()

	type indexRow struct {
		seq     int
		name    string
		unique  int
		origin  string
		partial int
	}
	var indexes []indexRow
	for idxRows.Next() {
		var ir indexRow
		if err := idxRows.Scan(&ir.seq, &ir.name, &ir.unique, &ir.origin, &ir.partial); err != nil {
			return "", rerr.Wrap(rerr.KindSchemaMismatch, err, "scan index_list for %s", table)
		}
		indexes = append(indexes, ir)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i].seq < indexes[j].seq })

	for _, idx := range indexes {
		if idx.unique == 0 {
			continue
		}
		col, err := firstIndexColumn(ctx, db, idx.name)
		if err != nil {
			return "", err
		}
		if col != "" {
			return col, nil
		}
	}

	// (c) a column literally named ID.
	for _, c := range cols {
		if strings.EqualFold(c.name, "ID") {
			return c.name, nil
		}
	}

	// (d) first column.
	return cols[0].name, nil
}

func firstIndexColumn(ctx context.Context, db *sql.DB, indexName string) (string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteIdent(indexName)))
	if err != nil {
		return "", rerr.Wrap(rerr.KindSchemaMismatch, err, "index_info for %s", indexName)
	}
	defer rows.Close()

	for rows.Next() {
		var seqno, cid int
		var name string
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return "", rerr.Wrap(rerr.KindSchemaMismatch, err, "scan index_info for %s", indexName)
		}
		if seqno == 0 {
			return name, nil
		}
	}
	return "", nil
}
