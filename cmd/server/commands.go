package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/diewo77/go-ledger/internal/config"
	"github.com/diewo77/go-ledger/internal/logger"
	"github.com/diewo77/go-ledger/internal/production"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var cfg *config.Config
	var closeLog func() error

	root := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Transaction and ledger consistency engine",
		Long:          "ledgerd records purchases, sales, debts and ledger entries while keeping stock, account balances and the ledger consistent.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			lc := logger.DefaultConfig()
			lc.Level, lc.Format, lc.Output = cfg.Log.Level, cfg.Log.Format, cfg.Log.Output
			closeLog, err = logger.Setup(lc)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}
	root.SetVersionTemplate("ledgerd {{.Version}}\n")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, logger.WithComponent("migrate"))
			if err != nil {
				return err
			}
			defer a.close()
			return a.migrate()
		},
	}
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create the default account and counters and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, logger.WithComponent("seed"))
			if err != nil {
				return err
			}
			defer a.close()
			return a.seed()
		},
	}
	root.AddCommand(serve, migrate, seed)
	root.RunE = serve.RunE
	return root
}

// runServe starts the API and the stale production watcher, and shuts both
// down on SIGINT or SIGTERM.
func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logger.WithComponent("server")
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.prepare(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := production.NewWatcher(a.production, cfg.Production.StaleAfter, cfg.Production.PollInterval, logger.WithComponent("production"))
	go watcher.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("env", cfg.App.Env).Str("base_currency", cfg.Ledger.BaseCurrency).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
		return err
	}
	log.Info().Msg("server stopped gracefully")
	return nil
}
