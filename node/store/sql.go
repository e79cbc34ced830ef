package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dispenser.dev/node/dispenser"
)

// SQLLedger is a ReceiptLedger over database/sql. The slot is the primary
// key, so a conflicting insert is the already-claimed signal.
type SQLLedger struct {
	db      *sql.DB
	logger  *slog.Logger
	backend string
	schema  string
	insert  string
	get     string
	count   string
}

func (s *SQLLedger) Close() error {
	return s.db.Close()
}

// Backend names the SQL engine behind the ledger.
func (s *SQLLedger) Backend() string { return s.backend }

func (s *SQLLedger) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.schema); err != nil {
		return fmt.Errorf("migrating %s ledger: %w", s.backend, err)
	}
	return nil
}

func (s *SQLLedger) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLLedger) CreateIfAbsent(ctx context.Context, r dispenser.Receipt) error {
	res, err := s.db.ExecContext(ctx, s.insert,
		r.Slot[:], r.Claimant.String(), dispenser.EncodeReceipt(r), r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}
	if n == 0 {
		return dispenser.ErrReceiptExists
	}
	s.logger.Debug("receipt created", "backend", s.backend, "claimant", r.Claimant.String())
	return nil
}

func (s *SQLLedger) Get(ctx context.Context, slot [32]byte) (dispenser.Receipt, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, s.get, slot[:]).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return dispenser.Receipt{}, dispenser.ErrReceiptNotFound
	}
	if err != nil {
		return dispenser.Receipt{}, fmt.Errorf("querying receipt: %w", err)
	}
	return dispenser.DecodeReceipt(slot, raw)
}

func (s *SQLLedger) ReceiptCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting receipts: %w", err)
	}
	return n, nil
}

func nopLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
