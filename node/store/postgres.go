package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	slot BYTEA PRIMARY KEY,
	claimant TEXT NOT NULL,
	receipt BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_claimant ON receipts(claimant);
`

// NewPostgresLedger connects to url and returns a receipt ledger shared by
// every node pointed at the same database. Call Migrate before use.
func NewPostgresLedger(ctx context.Context, url string, logger *slog.Logger) (*SQLLedger, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &SQLLedger{
		db:      db,
		logger:  nopLogger(logger),
		backend: "postgres",
		schema:  postgresSchema,
		insert:  `INSERT INTO receipts (slot, claimant, receipt, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (slot) DO NOTHING`,
		get:     `SELECT receipt FROM receipts WHERE slot = $1`,
		count:   `SELECT COUNT(*) FROM receipts`,
	}, nil
}
