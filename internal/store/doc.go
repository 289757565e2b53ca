// Package store is the durable sink for fetched events and relay metadata.
//
// All writes go through one bounded pgx connection pool. Event insertion is
// idempotent on the event's content-derived id; metadata documents are
// content-addressed and inserted with an atomic insert-if-absent at the
// storage layer, so two writers racing on identical content converge on one
// row. Transient failures are retried with bounded exponential backoff;
// exhaustion fails the batch and leaves the caller's cursor unchanged.
package store
