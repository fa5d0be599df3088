// Package schema is reconsync's Schema Inspector (C1): given a live
// *sql.DB and a table name, it returns the column set, resolved primary
// key, and declared storage types as a types.TableDescriptor. Primary
// key resolution follows (a) declared primary key, (b) first unique
// index column, (c) a column literally named ID, (d) the first column.
// Descriptors are cached per Inspector for the life of one higher-level
// operation; callers create a fresh Inspector per batch apply or push
// cycle rather than sharing one across operations.
package schema
