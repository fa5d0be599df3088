// Package crc computes the stable CRC32 of a row's business-column
// projection, per spec.md §4.3. It uses the standard library's
// hash/crc32 with the IEEE polynomial (0xEDB88320), which is the exact
// polynomial the spec names — no third-party CRC library in the corpus
// offers anything beyond what hash/crc32 already provides here.
package crc

import (
	"hash/crc32"
	"sort"
	"strings"

	"github.com/meridian/reconsync/pkg/coerce"
	"github.com/meridian/reconsync/pkg/types"
)

// excludedColumns are never part of the CRC projection, per spec.md
// §4.3: primary key, the CRC column itself, and metadata columns whose
// mutation should not perturb the business-content hash.
var excludedColumns = map[string]bool{
	"crc":          true,
	"lastmodified": true,
	"isdeleted":    true,
	"deletedate":   true,
	"creationdate": true,
	"modifiedby":   true,
	"version":      true,
}

// unitSeparator is the single-byte field delimiter (0x1F) spec.md §4.3
// requires between normalized field values.
const unitSeparator = byte(0x1F)

// Compute returns the CRC32 of row's business-column projection for
// table td: the set of columns minus {PK, CRC, LastModified, IsDeleted,
// DeleteDate, CreationDate, ModifiedBy, Version}, sorted case-insensitive
// ascending, each value normalized via coerce.Stringify and joined with
// a 0x1F separator.
func Compute(td *types.TableDescriptor, row types.Row) uint32 {
	cols := projectionColumns(td)

	var buf strings.Builder
	for i, col := range cols {
		if i > 0 {
			buf.WriteByte(unitSeparator)
		}
		buf.WriteString(coerce.Stringify(row[col]))
	}

	// crc32.Update inverts the register on entry and on exit; starting
	// from ^0 and inverting the result yields init 0, no final XOR.
	return ^crc32.Update(^uint32(0), crc32.IEEETable, []byte(buf.String()))
}

// projectionColumns returns td's business columns (excluding the
// primary key and the fixed metadata set) sorted case-insensitive
// ascending.
func projectionColumns(td *types.TableDescriptor) []string {
	cols := make([]string, 0, len(td.Columns))
	for _, c := range td.Columns {
		lower := strings.ToLower(c)
		if lower == strings.ToLower(td.PrimaryKey) {
			continue
		}
		if excludedColumns[lower] {
			continue
		}
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool {
		return strings.ToLower(cols[i]) < strings.ToLower(cols[j])
	})
	return cols
}
