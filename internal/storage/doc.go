// Package storage persists job definitions, job runs, job failures, the
// content queue and the delivery idempotency ledger.
//
// Drivers:
//   - "memory": process-local maps (tests, dry runs)
//   - "sqlite": embedded SQLite file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL through a pgx pool
//
// The ledger can additionally be backed by Redis or an append-only file,
// see OpenLedger.
package storage
