// Package batch implements the Batch Writer (C6): transactional
// toAdd/toUpdate/toArchive application with prepared-statement caching
// and CRC short-circuiting of no-op updates, per spec.md §4.6. Grounded
// on roach88-nysm's internal/store/write.go transaction and
// prepared-statement style.
package batch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/meridian/reconsync/pkg/changelog"
	"github.com/meridian/reconsync/pkg/coerce"
	"github.com/meridian/reconsync/pkg/crc"
	"github.com/meridian/reconsync/pkg/metrics"
	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/schema"
	"github.com/meridian/reconsync/pkg/types"
)

// maxChunkKeys bounds the size of WHERE pk IN (...) clauses used for the
// CRC prefetch, per spec.md §4.6.
const maxChunkKeys = 200

// Writer applies batched INSERT/UPDATE/DELETE operations to a tenant's
// local reconciliation store in a single transaction.
type Writer struct {
	db       *sql.DB
	insp     *schema.Inspector
	tenantID string
}

// NewWriter returns a Writer bound to a tenant's local store connection.
// A fresh schema.Inspector is created per Writer, matching spec.md §9's
// per-operation descriptor cache design note.
func NewWriter(tenantID string, db *sql.DB) *Writer {
	return &Writer{db: db, insp: schema.NewInspector(db), tenantID: tenantID}
}

// logEntry is one pending change-log tuple accumulated during Apply,
// flushed to the control store only after the transaction commits.
type logEntry struct {
	table string
	id    string
	op    types.Operation
}

// Apply executes toAdd/toUpdate/toArchive in one transaction against
// the local reconciliation store. If suppressChangeLog is false, the
// accumulated change-log tuples are appended to cl after a successful
// commit. No-op if all three lists are empty.
func (w *Writer) Apply(ctx context.Context, cl *changelog.Store, toAdd, toUpdate, toArchive []types.BatchRow, suppressChangeLog bool) error {
	if len(toAdd) == 0 && len(toUpdate) == 0 && len(toArchive) == 0 {
		return nil
	}

	timer := metrics.NewTimer()
	t0 := time.Now().UTC()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return rerr.Wrap(rerr.KindTransaction, err, "begin batch transaction")
	}
	defer tx.Rollback()

	stmts := newStmtCache(tx)
	defer stmts.closeAll()

	var entries []logEntry

	inserted, err := w.applyInserts(ctx, tx, stmts, toAdd, t0)
	if err != nil {
		return err
	}
	entries = append(entries, inserted...)

	updated, err := w.applyUpdates(ctx, tx, stmts, toUpdate, t0)
	if err != nil {
		return err
	}
	entries = append(entries, updated...)

	archived, err := w.applyArchives(ctx, tx, stmts, toArchive, t0)
	if err != nil {
		return err
	}
	entries = append(entries, archived...)

	if err := tx.Commit(); err != nil {
		return rerr.Wrap(rerr.KindTransaction, err, "commit batch transaction")
	}

	for _, e := range entries {
		metrics.BatchRowsWrittenTotal.WithLabelValues(w.tenantID, e.table, string(e.op)).Inc()
	}
	timer.ObserveDurationVec(metrics.BatchDuration, w.tenantID, "*")

	if !suppressChangeLog && len(entries) > 0 {
		clEntries := make([]types.ChangeLogEntry, len(entries))
		for i, e := range entries {
			clEntries[i] = types.ChangeLogEntry{TableName: e.table, RecordID: e.id, Operation: e.op, Timestamp: t0}
		}
		if err := cl.AppendBatch(ctx, clEntries); err != nil {
			return err
		}
		for _, e := range entries {
			metrics.ChangelogAppendedTotal.WithLabelValues(w.tenantID, e.table).Inc()
		}
	}

	return nil
}

func (w *Writer) applyInserts(ctx context.Context, tx *sql.Tx, stmts *stmtCache, rows []types.BatchRow, t0 time.Time) ([]logEntry, error) {
	var entries []logEntry

	for _, br := range rows {
		td, err := w.insp.Describe(ctx, br.Table)
		if err != nil {
			return nil, err
		}

		row := br.Row.Clone()
		prepareInsertRow(td, row, t0)

		cols := presentColumns(td, row)
		stmt, err := stmts.insertStmt(ctx, td.Name, cols)
		if err != nil {
			return nil, err
		}

		args, err := bindArgs(td, row, cols)
		if err != nil {
			return nil, err
		}

		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, rerr.Wrap(rerr.KindTransaction, err, "insert into %s", td.Name)
		}

		pkVal, ok := row[td.PrimaryKey]
		if !ok {
			return nil, rerr.New(rerr.KindTransaction, "insert into %s missing primary key %s", td.Name, td.PrimaryKey)
		}
		entries = append(entries, logEntry{table: td.Name, id: coerce.Stringify(pkVal), op: types.OpInsert})
	}

	return entries, nil
}

func (w *Writer) applyUpdates(ctx context.Context, tx *sql.Tx, stmts *stmtCache, rows []types.BatchRow, t0 time.Time) ([]logEntry, error) {
	var entries []logEntry

	byTable := groupByTable(rows)
	for table, tableRows := range byTable {
		td, err := w.insp.Describe(ctx, table)
		if err != nil {
			return nil, err
		}

		priorCRC := map[string]int64{}
		if td.HasColumn(types.ColumnCRC) {
			priorCRC, err = fetchPriorCRC(ctx, tx, td, tableRows)
			if err != nil {
				return nil, err
			}
		}

		for _, br := range tableRows {
			row := br.Row.Clone()

			pkVal, ok := row[td.PrimaryKey]
			if !ok {
				return nil, rerr.New(rerr.KindTransaction, "update on %s missing primary key %s", td.Name, td.PrimaryKey)
			}
			pkStr := coerce.Stringify(pkVal)

			if td.HasColumn(types.ColumnLastModified) {
				row[types.ColumnLastModified] = t0
			}

			var newCRC int64
			hasCRC := td.HasColumn(types.ColumnCRC)
			if hasCRC {
				newCRC = int64(crc.Compute(td, row))
				row[types.ColumnCRC] = newCRC

				if old, existed := priorCRC[pkStr]; existed && old == newCRC {
					// CRC short-circuit: no SQL issued, no log entry.
					metrics.CRCSkipsTotal.WithLabelValues(w.tenantID, td.Name).Inc()
					continue
				}
			}

			cols := presentColumns(td, row)
			cols = removeColumn(cols, td.PrimaryKey)

			stmt, err := stmts.updateStmt(ctx, td, cols)
			if err != nil {
				return nil, err
			}

			args, err := bindArgs(td, row, cols)
			if err != nil {
				return nil, err
			}

			pkArg, err := coerce.ToStorage(pkVal, td.ColumnTypes[strings.ToLower(td.PrimaryKey)])
			if err != nil {
				return nil, err
			}
			args = append(args, pkArg)

			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return nil, rerr.Wrap(rerr.KindTransaction, err, "update %s pk=%s", td.Name, pkStr)
			}

			entries = append(entries, logEntry{table: td.Name, id: pkStr, op: types.OpUpdate})
		}
	}

	return entries, nil
}

func (w *Writer) applyArchives(ctx context.Context, tx *sql.Tx, stmts *stmtCache, rows []types.BatchRow, t0 time.Time) ([]logEntry, error) {
	var entries []logEntry

	byTable := groupByTable(rows)
	for table, tableRows := range byTable {
		td, err := w.insp.Describe(ctx, table)
		if err != nil {
			return nil, err
		}

		softDelete := td.HasColumn(types.ColumnIsDeleted) || td.HasColumn(types.ColumnDeleteDate)

		var stmt *sql.Stmt
		var timestampCols []string
		if softDelete {
			stmt, timestampCols, err = stmts.softDeleteStmt(ctx, td)
		} else {
			stmt, err = stmts.hardDeleteStmt(ctx, td)
		}
		if err != nil {
			return nil, err
		}

		for _, br := range tableRows {
			pkVal, ok := br.Row[td.PrimaryKey]
			if !ok {
				return nil, rerr.New(rerr.KindTransaction, "delete on %s missing primary key %s", td.Name, td.PrimaryKey)
			}
			pkArg, err := coerce.ToStorage(pkVal, td.ColumnTypes[strings.ToLower(td.PrimaryKey)])
			if err != nil {
				return nil, err
			}

			if softDelete {
				tsArg, _ := coerce.ToStorage(t0, types.ColumnTypeTimestamp)
				args := make([]any, 0, len(timestampCols)+1)
				for range timestampCols {
					args = append(args, tsArg)
				}
				args = append(args, pkArg)

				if _, execErr := stmt.ExecContext(ctx, args...); execErr != nil {
					return nil, rerr.Wrap(rerr.KindTransaction, execErr, "soft delete %s pk=%v", td.Name, pkVal)
				}
			} else {
				if _, err := stmt.ExecContext(ctx, pkArg); err != nil {
					return nil, rerr.Wrap(rerr.KindTransaction, err, "hard delete %s pk=%v", td.Name, pkVal)
				}
			}

			entries = append(entries, logEntry{table: td.Name, id: coerce.Stringify(pkVal), op: types.OpDelete})
		}
	}

	return entries, nil
}

// prepareInsertRow applies spec.md §4.6's per-row INSERT preprocessing.
func prepareInsertRow(td *types.TableDescriptor, row types.Row, t0 time.Time) {
	if td.HasColumn(types.ColumnLastModified) {
		row[types.ColumnLastModified] = t0
	}
	if td.HasColumn(types.ColumnIsDeleted) {
		row[types.ColumnIsDeleted] = false
	} else if td.HasColumn(types.ColumnDeleteDate) {
		row[types.ColumnDeleteDate] = nil
	}
	if td.HasColumn(types.ColumnCRC) {
		row[types.ColumnCRC] = int64(crc.Compute(td, row))
	}
}

func groupByTable(rows []types.BatchRow) map[string][]types.BatchRow {
	out := make(map[string][]types.BatchRow)
	for _, r := range rows {
		out[r.Table] = append(out[r.Table], r)
	}
	return out
}

// presentColumns returns the row's keys restricted to columns the table
// actually declares, in the table's canonical column order — schema
// mismatches (columns not on the table) are silently dropped, per
// spec.md §4.6/§7 kind 3.
func presentColumns(td *types.TableDescriptor, row types.Row) []string {
	var cols []string
	for _, c := range td.Columns {
		if _, ok := row[c]; ok {
			cols = append(cols, c)
		}
	}
	return cols
}

func removeColumn(cols []string, name string) []string {
	out := cols[:0:0]
	for _, c := range cols {
		if !strings.EqualFold(c, name) {
			out = append(out, c)
		}
	}
	return out
}

func bindArgs(td *types.TableDescriptor, row types.Row, cols []string) ([]any, error) {
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		declared := td.ColumnTypes[strings.ToLower(c)]
		v, err := coerce.ToStorage(row[c], declared)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// fetchPriorCRC retrieves current (pk, CRC) pairs for every key in rows,
// in chunks of at most maxChunkKeys, per spec.md §4.6's CRC prefetch.
func fetchPriorCRC(ctx context.Context, tx *sql.Tx, td *types.TableDescriptor, rows []types.BatchRow) (map[string]int64, error) {
	out := make(map[string]int64, len(rows))

	keys := make([]any, 0, len(rows))
	for _, br := range rows {
		pkVal, ok := br.Row[td.PrimaryKey]
		if !ok {
			continue
		}
		arg, err := coerce.ToStorage(pkVal, td.ColumnTypes[strings.ToLower(td.PrimaryKey)])
		if err != nil {
			return nil, err
		}
		keys = append(keys, arg)
	}

	for start := 0; start < len(keys); start += maxChunkKeys {
		end := start + maxChunkKeys
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := make([]string, len(chunk))
		for i := range chunk {
			placeholders[i] = "?"
		}
		query := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s IN (%s)`,
			quoteIdent(td.PrimaryKey), quoteIdent(types.ColumnCRC), quoteIdent(td.Name), quoteIdent(td.PrimaryKey),
			strings.Join(placeholders, ","))

		rows, err := tx.QueryContext(ctx, query, chunk...)
		if err != nil {
			return nil, rerr.Wrap(rerr.KindTransaction, err, "fetch prior CRC for %s", td.Name)
		}

		for rows.Next() {
			var pk any
			var crcVal sql.NullInt64
			if err := rows.Scan(&pk, &crcVal); err != nil {
				rows.Close()
				return nil, rerr.Wrap(rerr.KindTransaction, err, "scan prior CRC for %s", td.Name)
			}
			if crcVal.Valid {
				out[coerce.Stringify(pk)] = crcVal.Int64
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, rerr.Wrap(rerr.KindTransaction, err, "iterate prior CRC for %s", td.Name)
		}
		rows.Close()
	}

	return out, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
