package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	slot BLOB PRIMARY KEY,
	claimant TEXT NOT NULL,
	receipt BLOB NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_claimant ON receipts(claimant);
`

// NewSQLiteLedger opens (creating if needed) a receipt ledger in a SQLite
// file. Call Migrate before use.
func NewSQLiteLedger(path string, logger *slog.Logger) (*SQLLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps the pragmas below in force for every statement.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return &SQLLedger{
		db:      db,
		logger:  nopLogger(logger),
		backend: "sqlite",
		schema:  sqliteSchema,
		insert:  `INSERT INTO receipts (slot, claimant, receipt, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(slot) DO NOTHING`,
		get:     `SELECT receipt FROM receipts WHERE slot = ?`,
		count:   `SELECT COUNT(*) FROM receipts`,
	}, nil
}
