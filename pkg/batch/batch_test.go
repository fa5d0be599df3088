package batch

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/reconsync/pkg/changelog"
	"github.com/meridian/reconsync/pkg/types"
)

func openTestDB(t *testing.T, schemaSQL string) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recon.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	return db
}

const accountsSchema = `
CREATE TABLE Accounts (
	AccountId TEXT PRIMARY KEY,
	Balance REAL,
	LastModified TIMESTAMP,
	IsDeleted BOOLEAN,
	CRC INTEGER
);
`

func newTestWriterAndLog(t *testing.T, schemaSQL string) (*Writer, *changelog.Store) {
	t.Helper()
	db := openTestDB(t, schemaSQL)

	controlPath := filepath.Join(t.TempDir(), "control.db")
	controlDB, err := sql.Open("sqlite3", controlPath)
	require.NoError(t, err)
	t.Cleanup(func() { controlDB.Close() })

	cl := changelog.NewStore(controlDB)
	require.NoError(t, cl.EnsureSchema(context.Background()))

	return NewWriter("FR", db), cl
}

func TestApply_InsertStampsLastModifiedAndCRC(t *testing.T) {
	ctx := context.Background()
	w, cl := newTestWriterAndLog(t, accountsSchema)

	toAdd := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1", "Balance": 100.0}},
	}
	require.NoError(t, w.Apply(ctx, cl, toAdd, nil, nil, false))

	var balance float64
	var lastModified string
	var crcVal int64
	row := w.db.QueryRow(`SELECT Balance, LastModified, CRC FROM Accounts WHERE AccountId = 'A1'`)
	require.NoError(t, row.Scan(&balance, &lastModified, &crcVal))
	assert.Equal(t, 100.0, balance)
	assert.NotEmpty(t, lastModified)
	assert.NotZero(t, crcVal)

	entries, err := cl.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A1", entries[0].RecordID)
	assert.Equal(t, types.OpInsert, entries[0].Operation)
}

func TestApply_SuppressChangeLogSkipsAppend(t *testing.T) {
	ctx := context.Background()
	w, cl := newTestWriterAndLog(t, accountsSchema)

	toAdd := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1", "Balance": 100.0}},
	}
	require.NoError(t, w.Apply(ctx, cl, toAdd, nil, nil, true))

	entries, err := cl.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApply_UpdateSkippedWhenCRCUnchanged(t *testing.T) {
	ctx := context.Background()
	w, cl := newTestWriterAndLog(t, accountsSchema)

	toAdd := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1", "Balance": 100.0}},
	}
	require.NoError(t, w.Apply(ctx, cl, toAdd, nil, nil, false))

	toUpdate := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1", "Balance": 100.0}},
	}
	require.NoError(t, w.Apply(ctx, cl, nil, toUpdate, nil, false))

	entries, err := cl.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the original insert should be logged; the no-op update must be skipped")
}

func TestApply_UpdateAppliedWhenCRCChanges(t *testing.T) {
	ctx := context.Background()
	w, cl := newTestWriterAndLog(t, accountsSchema)

	toAdd := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1", "Balance": 100.0}},
	}
	require.NoError(t, w.Apply(ctx, cl, toAdd, nil, nil, false))

	toUpdate := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1", "Balance": 200.0}},
	}
	require.NoError(t, w.Apply(ctx, cl, nil, toUpdate, nil, false))

	var balance float64
	require.NoError(t, w.db.QueryRow(`SELECT Balance FROM Accounts WHERE AccountId = 'A1'`).Scan(&balance))
	assert.Equal(t, 200.0, balance)

	entries, err := cl.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.OpUpdate, entries[1].Operation)
}

func TestApply_ArchiveSoftDeletesWhenIsDeletedPresent(t *testing.T) {
	ctx := context.Background()
	w, cl := newTestWriterAndLog(t, accountsSchema)

	toAdd := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1", "Balance": 100.0}},
	}
	require.NoError(t, w.Apply(ctx, cl, toAdd, nil, nil, false))

	var insertedLastModified string
	require.NoError(t, w.db.QueryRow(`SELECT LastModified FROM Accounts WHERE AccountId = 'A1'`).Scan(&insertedLastModified))

	toArchive := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1"}},
	}
	require.NoError(t, w.Apply(ctx, cl, nil, nil, toArchive, false))

	var isDeleted bool
	var archivedLastModified string
	require.NoError(t, w.db.QueryRow(`SELECT IsDeleted, LastModified FROM Accounts WHERE AccountId = 'A1'`).Scan(&isDeleted, &archivedLastModified))
	assert.True(t, isDeleted)
	assert.NotEqual(t, insertedLastModified, archivedLastModified, "soft delete must stamp LastModified, per spec.md §4.6")

	var count int
	require.NoError(t, w.db.QueryRow(`SELECT COUNT(*) FROM Accounts WHERE AccountId = 'A1'`).Scan(&count))
	assert.Equal(t, 1, count, "soft delete must not remove the row")
}

const noMetadataSchema = `
CREATE TABLE Plain (
	Id TEXT PRIMARY KEY,
	Value TEXT
);
`

func TestApply_ArchiveHardDeletesWhenNoMetadataColumns(t *testing.T) {
	ctx := context.Background()
	w, cl := newTestWriterAndLog(t, noMetadataSchema)

	toAdd := []types.BatchRow{
		{Table: "Plain", Row: types.Row{"Id": "P1", "Value": "x"}},
	}
	require.NoError(t, w.Apply(ctx, cl, toAdd, nil, nil, false))

	toArchive := []types.BatchRow{
		{Table: "Plain", Row: types.Row{"Id": "P1"}},
	}
	require.NoError(t, w.Apply(ctx, cl, nil, nil, toArchive, false))

	var count int
	require.NoError(t, w.db.QueryRow(`SELECT COUNT(*) FROM Plain WHERE Id = 'P1'`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestApply_NoOpWhenAllListsEmpty(t *testing.T) {
	ctx := context.Background()
	w, cl := newTestWriterAndLog(t, accountsSchema)

	require.NoError(t, w.Apply(ctx, cl, nil, nil, nil, false))

	entries, err := cl.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApply_InsertBatchAcrossMultipleKeys(t *testing.T) {
	ctx := context.Background()
	w, cl := newTestWriterAndLog(t, accountsSchema)

	toAdd := []types.BatchRow{
		{Table: "Accounts", Row: types.Row{"AccountId": "A1", "Balance": 1.0}},
		{Table: "Accounts", Row: types.Row{"AccountId": "A2", "Balance": 2.0}},
		{Table: "Accounts", Row: types.Row{"AccountId": "A3", "Balance": 3.0}},
	}
	require.NoError(t, w.Apply(ctx, cl, toAdd, nil, nil, false))

	var count int
	require.NoError(t, w.db.QueryRow(`SELECT COUNT(*) FROM Accounts`).Scan(&count))
	assert.Equal(t, 3, count)

	entries, err := cl.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
