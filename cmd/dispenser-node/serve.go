package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dispenser.dev/node/node"
	"dispenser.dev/node/node/api"
)

const shutdownTimeout = 30 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var dryRun, trustProxy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the claim API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd.Context(), dryRun, trustProxy)
		},
	}
	f := cmd.Flags()
	f.String("bind", "", "API listen address host:port")
	f.String("metrics", "", "metrics listen address host:port (empty disables)")
	f.String("ledger-sqlite", "", "sqlite ledger file (default <datadir>/receipts.sqlite)")
	f.StringSlice("cosmos-chain", nil, "allowed Cosmos chain id (repeatable)")
	f.BoolVar(&dryRun, "dry-run", false, "print effective config and exit")
	f.BoolVar(&trustProxy, "trust-proxy", false, "take client IPs from X-Forwarded-For / X-Real-IP")
	c.bind(f.Lookup, map[string]string{
		"bind_addr":     "bind",
		"metrics_addr":  "metrics",
		"sqlite_path":   "ledger-sqlite",
		"cosmos_chains": "cosmos-chain",
	})
	return cmd
}

func (c *cli) runServe(parent context.Context, dryRun, trustProxy bool) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	if err := printJSON(c.stdout, cfg); err != nil {
		return fmt.Errorf("config encode: %w", err)
	}
	if dryRun {
		return nil
	}
	logger, err := node.NewLogger(c.stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return exitCode(2, err)
	}
	logger.Info("starting dispenser-node", "version", version)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := node.NewApp(ctx, cfg, logger, stop)
	if err != nil {
		return exitCode(2, err)
	}
	defer app.Close()

	srv := api.New(app, api.Options{TrustProxy: trustProxy})
	defer srv.Close()

	errCh := make(chan error, 2)
	servers := []*http.Server{{
		Addr:              cfg.BindAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           app.Metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	for _, s := range servers {
		go listen(logger, s, errCh)
	}
	go app.Monitor.Run(ctx)

	var runErr error
	select {
	case runErr = <-errCh:
		stop()
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(sctx); err != nil {
			logger.Warn("shutdown", "addr", s.Addr, "error", err.Error())
		}
	}
	if app.Monitor.State() == node.LedgerFailed {
		return exitCode(3, errors.New("ledger unavailable past health timeout"))
	}
	if runErr != nil {
		return fmt.Errorf("server error: %w", runErr)
	}
	logger.Info("server stopped")
	return nil
}

func listen(logger *slog.Logger, s *http.Server, errCh chan<- error) {
	logger.Info("listening", "addr", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- err
	}
}
