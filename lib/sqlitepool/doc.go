// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for the key authority's
// release ledger.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, do their work, and [Pool.Put] it back, or use
// [Pool.With] to do both. A connection is not safe for concurrent use.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: readers never block the single writer.
//   - synchronous=FULL: a committed ledger row survives power loss.
//     The ledger is an audit record, so fsync per commit is the price.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - foreign_keys=ON
//   - secure_delete=ON: deleted rows are overwritten, not just
//     unlinked.
//   - temp_store=MEMORY
//
// # Migrations
//
// [Config].Migrations is an ordered list of SQL scripts. Open applies
// the ones the database has not seen, tracked in PRAGMA user_version,
// inside one immediate transaction. Scripts are append-only: never edit
// or reorder a released migration.
package sqlitepool
