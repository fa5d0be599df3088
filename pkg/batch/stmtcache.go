package batch

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/types"
)

// stmtCache prepares and caches one *sql.Stmt per (table, operation,
// column-signature) shape encountered during a batch transaction, so
// that repeated rows against the same table and column set reuse the
// same prepared statement instead of re-planning SQL per row.
type stmtCache struct {
	tx    *sql.Tx
	stmts map[string]*sql.Stmt
}

func newStmtCache(tx *sql.Tx) *stmtCache {
	return &stmtCache{tx: tx, stmts: make(map[string]*sql.Stmt)}
}

func (c *stmtCache) closeAll() {
	for _, stmt := range c.stmts {
		stmt.Close()
	}
}

// signature returns a stable cache key for a (table, op, columns) shape.
func signature(table, op string, cols []string) string {
	sorted := append([]string(nil), cols...)
	sort.Strings(sorted)
	return table + "|" + op + "|" + strings.Join(sorted, ",")
}

func (c *stmtCache) insertStmt(ctx context.Context, table string, cols []string) (*sql.Stmt, error) {
	key := signature(table, "insert", cols)
	if stmt, ok := c.stmts[key]; ok {
		return stmt, nil
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = "?"
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table), strings.Join(quoted, ","), strings.Join(placeholders, ","))

	stmt, err := c.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTransaction, err, "prepare insert into %s", table)
	}
	c.stmts[key] = stmt
	return stmt, nil
}

// updateStmt builds `UPDATE table SET col=?,... WHERE pk = ?`. The CRC
// short-circuit is decided by the caller before binding (rows whose
// computed CRC matches the stored value never reach here), so the
// statement itself carries no CRC condition.
func (c *stmtCache) updateStmt(ctx context.Context, td *types.TableDescriptor, cols []string) (*sql.Stmt, error) {
	key := signature(td.Name, "update", cols)
	if stmt, ok := c.stmts[key]; ok {
		return stmt, nil
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = quoteIdent(col) + " = ?"
	}

	where := quoteIdent(td.PrimaryKey) + " = ?"

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, quoteIdent(td.Name), strings.Join(sets, ","), where)

	stmt, err := c.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTransaction, err, "prepare update on %s", td.Name)
	}
	c.stmts[key] = stmt
	return stmt, nil
}

// softDeleteStmt builds the soft-delete UPDATE and reports, in bind
// order, which of {DeleteDate, LastModified} the caller must supply a
// timestamp argument for before the trailing primary-key argument.
// LastModified is stamped alongside IsDeleted/DeleteDate wherever the
// table declares it, matching pkg/replicator.applyDelete's soft-delete
// UPDATE (spec.md §4.6 "where applicable").
func (c *stmtCache) softDeleteStmt(ctx context.Context, td *types.TableDescriptor) (stmt *sql.Stmt, timestampCols []string, err error) {
	key := signature(td.Name, "soft-delete", nil)

	hasDeleteDate := td.HasColumn(types.ColumnDeleteDate)
	hasLastModified := td.HasColumn(types.ColumnLastModified)
	if hasDeleteDate {
		timestampCols = append(timestampCols, types.ColumnDeleteDate)
	}
	if hasLastModified {
		timestampCols = append(timestampCols, types.ColumnLastModified)
	}

	if cached, ok := c.stmts[key]; ok {
		return cached, timestampCols, nil
	}

	var sets []string
	if td.HasColumn(types.ColumnIsDeleted) {
		sets = append(sets, quoteIdent(types.ColumnIsDeleted)+" = 1")
	}
	if hasDeleteDate {
		sets = append(sets, quoteIdent(types.ColumnDeleteDate)+" = ?")
	}
	if hasLastModified {
		sets = append(sets, quoteIdent(types.ColumnLastModified)+" = ?")
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = ?`, quoteIdent(td.Name), strings.Join(sets, ", "), quoteIdent(td.PrimaryKey))

	stmt, err = c.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, rerr.Wrap(rerr.KindTransaction, err, "prepare soft delete on %s", td.Name)
	}
	c.stmts[key] = stmt
	return stmt, timestampCols, nil
}

func (c *stmtCache) hardDeleteStmt(ctx context.Context, td *types.TableDescriptor) (*sql.Stmt, error) {
	key := signature(td.Name, "hard-delete", nil)
	if stmt, ok := c.stmts[key]; ok {
		return stmt, nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, quoteIdent(td.Name), quoteIdent(td.PrimaryKey))

	stmt, err := c.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTransaction, err, "prepare hard delete on %s", td.Name)
	}
	c.stmts[key] = stmt
	return stmt, nil
}
