// Package storage is the durable key/value layer behind scores, the round
// pointer, the telegram reaction ledger and the audit trail.
//
// Drivers:
//   - "memory": process-local, for dry runs and tests
//   - "file": JSONL journal + periodic snapshot, no dependencies
//   - "sqlite": SQLite database file (modernc.org/sqlite)
package storage
