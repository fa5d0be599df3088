// Package coerce is reconsync's Value Coercion (C2): it normalizes Go
// values to storage-bound values and back, and renders CRC-stable field
// strings for pkg/crc. Binding always derives from the column's declared
// type (pkg/schema), never from the Go runtime type of the value —
// per spec.md §9, the most error-prone surface in this domain.
package coerce
