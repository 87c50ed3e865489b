// Package store persists normalized quotes to Postgres and serves the
// read-side history queries. Writes are best-effort: a failed flush is
// logged and the batch dropped, never surfaced to the ingestion path.
package store
