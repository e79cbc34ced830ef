package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/node/store"
)

// Backend holds the deployment state that lives next to the node: config,
// token accounts and the event log.
type Backend interface {
	dispenser.ConfigStore
	dispenser.Treasury
	dispenser.EventLog
	OpenAccount(ctx context.Context, account, mint dispenser.Pubkey) error
	Fund(ctx context.Context, account dispenser.Pubkey, amount uint64) (uint64, error)
	Events(ctx context.Context, limit int) ([]json.RawMessage, error)
	Ping(ctx context.Context) error
}

// Ledger is a receipt ledger the node can monitor.
type Ledger interface {
	dispenser.ReceiptLedger
	Ping(ctx context.Context) error
	ReceiptCount(ctx context.Context) (int, error)
}

// Stores is everything OpenStores opened, closed together.
type Stores struct {
	Backend Backend
	Ledger  Ledger
	Kind    string
	closers []func() error
}

func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStores opens the state backend and the configured receipt ledger.
// The memory ledger keeps everything in process; the others keep config,
// balances and events in the bbolt DB under the data directory.
func OpenStores(ctx context.Context, cfg Config, logger *slog.Logger) (*Stores, error) {
	id, err := dispenser.ParsePubkey(cfg.DispenserID)
	if err != nil {
		return nil, fmt.Errorf("dispenser_id: %w", err)
	}
	if cfg.Ledger == LedgerMemory {
		m := store.NewMemory()
		return &Stores{Backend: m, Ledger: m, Kind: LedgerMemory}, nil
	}

	db, err := store.Open(cfg.DataDir, id)
	if err != nil {
		return nil, err
	}
	s := &Stores{Backend: db, Kind: cfg.Ledger, closers: []func() error{db.Close}}

	switch cfg.Ledger {
	case LedgerBolt:
		s.Ledger = db
		return s, nil
	case LedgerSQLite:
		l, err := store.NewSQLiteLedger(cfg.SQLiteFile(), logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, l.Close)
		if err := l.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Ledger = l
		return s, nil
	case LedgerPostgres:
		l, err := store.NewPostgresLedger(ctx, cfg.PostgresURL, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, l.Close)
		if err := l.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Ledger = l
		return s, nil
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unknown ledger %q", cfg.Ledger)
	}
}

// Ping checks both stores.
func (s *Stores) Ping(ctx context.Context) error {
	if err := s.Backend.Ping(ctx); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := s.Ledger.Ping(ctx); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}
