package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDescribe_DeclaredPrimaryKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE ReconciliationTable (
		RecordID INTEGER PRIMARY KEY,
		Amount REAL,
		LastModified TIMESTAMP,
		IsDeleted BOOLEAN,
		CRC INTEGER
	)`)
	require.NoError(t, err)

	insp := NewInspector(db)
	td, err := insp.Describe(ctx, "ReconciliationTable")
	require.NoError(t, err)

	assert.Equal(t, "RecordID", td.PrimaryKey)
	assert.True(t, td.HasColumn("amount"))
	ct, ok := td.ColumnTypeOf("Amount")
	require.True(t, ok)
	assert.Equal(t, "REAL", string(ct))
}

func TestDescribe_UniqueIndexFallback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE NoDeclaredPK (
		ExternalRef TEXT,
		Value TEXT
	)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE UNIQUE INDEX idx_ext ON NoDeclaredPK(ExternalRef)`)
	require.NoError(t, err)

	insp := NewInspector(db)
	td, err := insp.Describe(ctx, "NoDeclaredPK")
	require.NoError(t, err)

	assert.Equal(t, "ExternalRef", td.PrimaryKey)
}

func TestDescribe_IDColumnFallback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE PlainTable (
		ID TEXT,
		Value TEXT
	)`)
	require.NoError(t, err)

	insp := NewInspector(db)
	td, err := insp.Describe(ctx, "PlainTable")
	require.NoError(t, err)

	assert.Equal(t, "ID", td.PrimaryKey)
}

func TestDescribe_FirstColumnFallback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE Bare (
		First TEXT,
		Second TEXT
	)`)
	require.NoError(t, err)

	insp := NewInspector(db)
	td, err := insp.Describe(ctx, "Bare")
	require.NoError(t, err)

	assert.Equal(t, "First", td.PrimaryKey)
}

func TestDescribe_UnknownTableErrors(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	insp := NewInspector(db)
	_, err := insp.Describe(ctx, "DoesNotExist")
	assert.Error(t, err)
}

func TestDescribe_CachesResult(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE Cached (ID INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	insp := NewInspector(db)
	td1, err := insp.Describe(ctx, "Cached")
	require.NoError(t, err)

	// Drop the table; a cached descriptor must still be returned without
	// re-introspecting.
	_, err = db.ExecContext(ctx, `DROP TABLE Cached`)
	require.NoError(t, err)

	td2, err := insp.Describe(ctx, "cached")
	require.NoError(t, err)
	assert.Same(t, td1, td2)
}

func TestInvalidate_ForcesReIntrospection(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE T (ID INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	insp := NewInspector(db)
	_, err = insp.Describe(ctx, "T")
	require.NoError(t, err)

	insp.Invalidate()

	_, err = db.ExecContext(ctx, `DROP TABLE T`)
	require.NoError(t, err)

	_, err = insp.Describe(ctx, "T")
	assert.Error(t, err)
}
