// Package store persists events for the relay.
//
// Two implementations of interfaces.Store are provided:
//
//   - Memory keeps every event in process, ordered newest first. It is the
//     default for development and tests.
//   - Postgres stores events in PostgreSQL through the pgx database/sql
//     driver. Its schema is managed with goose using migrations embedded
//     in the binary.
//
// Both stores treat an event id as the identity of an event: saving an id
// that is already present reports a duplicate instead of an error. Queries
// honor each filter's limit, capped by the store's query limit, and yield
// the union of all filters ordered by created_at descending with ties
// broken by ascending id.
package store
