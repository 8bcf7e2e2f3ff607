// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keyrelease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/enclave/lib/sqlitepool"
)

var ledgerMigrations = []string{
	`CREATE TABLE releases (
		id           INTEGER PRIMARY KEY,
		session_id   INTEGER NOT NULL,
		module_id    TEXT    NOT NULL,
		measurement  TEXT    NOT NULL,
		granted      INTEGER NOT NULL,
		reason       TEXT    NOT NULL,
		peer         TEXT    NOT NULL,
		recorded_at  INTEGER NOT NULL
	);
	CREATE INDEX releases_recorded_at ON releases (recorded_at);`,
}

// LedgerEntry is one authority decision.
type LedgerEntry struct {
	SessionID   uint64
	ModuleID    string
	Measurement string
	Granted     bool

	// Reason is empty for grants and names the failed check for
	// denials.
	Reason string

	// Peer is the remote address of the caller, when known.
	Peer string

	RecordedAt time.Time
}

// Ledger is the append-only record of release decisions.
type Ledger struct {
	pool *sqlitepool.Pool
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:       path,
		Migrations: ledgerMigrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening release ledger: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// Record appends entry.
func (l *Ledger) Record(ctx context.Context, entry LedgerEntry) error {
	return l.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO releases (session_id, module_id, measurement, granted, reason, peer, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					int64(entry.SessionID),
					entry.ModuleID,
					entry.Measurement,
					entry.Granted,
					entry.Reason,
					entry.Peer,
					entry.RecordedAt.UnixNano(),
				},
			})
		if err != nil {
			return fmt.Errorf("recording release decision: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT session_id, module_id, measurement, granted, reason, peer, recorded_at
			 FROM releases ORDER BY recorded_at DESC, id DESC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entries = append(entries, LedgerEntry{
						SessionID:   uint64(stmt.ColumnInt64(0)),
						ModuleID:    stmt.ColumnText(1),
						Measurement: stmt.ColumnText(2),
						Granted:     stmt.ColumnBool(3),
						Reason:      stmt.ColumnText(4),
						Peer:        stmt.ColumnText(5),
						RecordedAt:  time.Unix(0, stmt.ColumnInt64(6)),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("reading release ledger: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.pool.Close()
}
