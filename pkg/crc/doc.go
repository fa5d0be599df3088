// Package crc is reconsync's CRC Engine (C3): a stable CRC32 (IEEE
// polynomial, init 0, no final XOR — hash/crc32's IEEE table with both
// of crc32.Update's register inversions undone)
// over a row's business-column projection, used by pkg/batch to skip
// no-op UPDATEs. Two rows whose normalized business-column values are
// byte-equal after coerce.Stringify always produce equal CRCs (spec.md
// invariant I4); the CRC is never used for security.
package crc
