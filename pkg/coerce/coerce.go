// Package coerce normalizes Go values against a column's declared
// storage type (pkg/schema's TableDescriptor), in both directions:
// ToStorage for statement binding, FromStorage for values scanned back
// out of the database. Per spec.md §9's design note, binding types are
// always derived from the schema type map, never from the Go runtime
// type of the value being bound.
package coerce

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meridian/reconsync/pkg/rerr"
	"github.com/meridian/reconsync/pkg/types"
)

// ToStorage coerces v into a database/sql/driver.Value appropriate for
// binding to a column of the given declared type.
func ToStorage(v any, declared types.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch declared {
	case types.ColumnTypeBoolean:
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil

	case types.ColumnTypeTimestamp:
		t, err := asTime(v)
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(time.RFC3339Nano), nil

	case types.ColumnTypeInteger:
		return asInt64(v)

	case types.ColumnTypeReal:
		return asFloat64(v)

	default:
		return v, nil
	}
}

// FromStorage coerces a value scanned from the database back into the
// Go representation reconsync's components expect (bool for BOOLEAN,
// time.Time for TIMESTAMP).
func FromStorage(v any, declared types.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch declared {
	case types.ColumnTypeBoolean:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		return n != 0, nil

	case types.ColumnTypeTimestamp:
		return asTime(v)

	default:
		return v, nil
	}
}

func asBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case string:
		return t == "1" || t == "true" || t == "TRUE", nil
	default:
		return false, rerr.New(rerr.KindSchemaMismatch, "cannot coerce %T to boolean", v)
	}
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, rerr.New(rerr.KindSchemaMismatch, "cannot parse %q as timestamp", t)
	case int64:
		// Numeric date representation: Unix seconds.
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	default:
		return time.Time{}, rerr.New(rerr.KindSchemaMismatch, "cannot coerce %T to timestamp", v)
	}
}

func asInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, rerr.Wrap(rerr.KindSchemaMismatch, err, "cannot coerce %q to integer", t)
		}
		return n, nil
	default:
		return 0, rerr.New(rerr.KindSchemaMismatch, "cannot coerce %T to integer", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, rerr.Wrap(rerr.KindSchemaMismatch, err, "cannot coerce %q to real", t)
		}
		return f, nil
	default:
		return 0, rerr.New(rerr.KindSchemaMismatch, "cannot coerce %T to real", v)
	}
}

// Stringify renders v as its invariant-culture, full-precision CRC
// field-value representation, per spec.md §4.3's normalization rules:
// trimmed strings, ISO-8601 UTC timestamps, "0"/"1" booleans, and
// full-precision decimal formatting for floats. Used by pkg/crc.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'G', 17, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'G', 9, 32)
	default:
		return fmt.Sprintf("%v", t)
	}
}
