package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dispenser.dev/node/crypto"
	"dispenser.dev/node/dispenser"
	"dispenser.dev/node/guard"
	"dispenser.dev/node/node/metrics"
)

// App is a wired node: stores, dispenser, claim processor, ledger monitor
// and, when a keystore is configured, the Discord guard.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Stores    *Stores
	Dispenser *dispenser.Dispenser
	Processor *Processor
	Monitor   *LedgerMonitor
	Metrics   *metrics.Metrics
	Guard     *guard.Guard
}

// NewApp opens the stores named by cfg and wires the claim path. onFailed
// runs once if the ledger monitor gives up.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger, onFailed func()) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	id, err := dispenser.ParsePubkey(cfg.DispenserID)
	if err != nil {
		return nil, err
	}
	deny, err := BuildDenylist(cfg)
	if err != nil {
		return nil, err
	}
	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Stores:  stores,
		Metrics: metrics.New(),
	}
	a.Dispenser = &dispenser.Dispenser{
		ID:           id,
		Configs:      stores.Backend,
		Ledger:       stores.Ledger,
		Treasury:     stores.Backend,
		Events:       stores.Backend,
		Denylist:     deny,
		CosmosChains: cfg.CosmosChains,
		Logger:       logger.With("component", "dispenser"),
	}
	a.Monitor = NewLedgerMonitor(MonitorConfigFrom(cfg), stores.Ping, onFailed, logger.With("component", "ledger-monitor"))
	a.Monitor.OnChange(func(s LedgerState) { a.Metrics.LedgerState(int(s)) })
	a.Processor = &Processor{
		Dispenser: a.Dispenser,
		Provider:  crypto.StdProvider{},
		Metrics:   a.Metrics,
		Monitor:   a.Monitor,
		Logger:    logger,
	}

	if cfg.GuardKeystore != "" {
		key, err := guard.LoadKey(cfg.GuardKeystore, cfg.GuardKEK)
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("guard keystore: %w", err)
		}
		g, err := guard.New(key, guard.NewHTTPVerifier(cfg.DiscordAPIBase), logger.With("component", "guard"))
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		a.Guard = g
	}

	logger.Info("node ready",
		"dispenser_id", id.String(),
		"ledger", stores.Kind,
		"cosmos_chains", len(cfg.CosmosChains),
		"denylist", deny.Len(),
		"guard", a.Guard != nil,
	)
	return a, nil
}

func (a *App) Close() error {
	return a.Stores.Close()
}

// InitDeployment opens and funds the treasury account and writes the
// dispenser config. Nothing is funded when the config is invalid or the
// deployment is already initialized.
func InitDeployment(ctx context.Context, b Backend, c dispenser.Config, fund uint64) error {
	if c.MerkleRoot.Size == 0 || c.Mint.IsZero() || c.Treasury.IsZero() {
		return dispenser.Initialize(ctx, b, b, c)
	}
	if _, err := b.LoadConfig(ctx); err == nil {
		return dispenser.Initialize(ctx, b, b, c)
	}
	if err := b.OpenAccount(ctx, c.Treasury, c.Mint); err != nil {
		if errors.Is(err, dispenser.ErrMintMismatch) {
			return dispenser.Initialize(ctx, b, b, c)
		}
		return fmt.Errorf("open treasury: %w", err)
	}
	if fund > 0 {
		if _, err := b.Fund(ctx, c.Treasury, fund); err != nil {
			return fmt.Errorf("fund treasury: %w", err)
		}
	}
	return dispenser.Initialize(ctx, b, b, c)
}
