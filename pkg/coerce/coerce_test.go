package coerce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/reconsync/pkg/types"
)

func TestToStorage_Boolean(t *testing.T) {
	v, err := ToStorage(true, types.ColumnTypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = ToStorage(false, types.ColumnTypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestToStorage_NilPassesThrough(t *testing.T) {
	v, err := ToStorage(nil, types.ColumnTypeInteger)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestToStorage_TimestampNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	in := time.Date(2026, 3, 1, 12, 0, 0, 0, loc)

	v, err := ToStorage(in, types.ColumnTypeTimestamp)
	require.NoError(t, err)

	s, ok := v.(string)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339Nano, s)
	require.NoError(t, err)
	assert.Equal(t, in.UTC(), parsed.UTC())
}

func TestToStorage_IntegerFromString(t *testing.T) {
	v, err := ToStorage("42", types.ColumnTypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestToStorage_RealFromInt(t *testing.T) {
	v, err := ToStorage(7, types.ColumnTypeReal)
	require.NoError(t, err)
	assert.Equal(t, float64(7), v)
}

func TestFromStorage_BooleanFromInt(t *testing.T) {
	v, err := FromStorage(int64(1), types.ColumnTypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestFromStorage_TimestampFromString(t *testing.T) {
	v, err := FromStorage("2026-03-01T12:00:00Z", types.ColumnTypeTimestamp)
	require.NoError(t, err)
	tm, ok := v.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2026, tm.Year())
}

func TestStringify_TrimsAndFormats(t *testing.T) {
	assert.Equal(t, "hello", Stringify("  hello  "))
	assert.Equal(t, "1", Stringify(true))
	assert.Equal(t, "0", Stringify(false))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "42", Stringify(int64(42)))
}

func TestStringify_TimestampIsISO8601UTC(t *testing.T) {
	tm := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-01T12:00:00Z", Stringify(tm))
}
