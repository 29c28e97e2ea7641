package main

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/catalog"
	"github.com/diewo77/go-ledger/internal/config"
	"github.com/diewo77/go-ledger/internal/db"
	"github.com/diewo77/go-ledger/internal/production"
	"github.com/diewo77/go-ledger/internal/sequence"
	"github.com/diewo77/go-ledger/internal/server"
	"github.com/diewo77/go-ledger/internal/services"
)

// app holds the wired services for one process.
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	log        zerolog.Logger
	orch       *services.Orchestrator
	items      *catalog.Resolver
	production *production.Service
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	conn, err := db.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	orch, err := services.Build(conn, log, services.Options{
		BaseCurrency:      cfg.Ledger.BaseCurrency,
		LowStockThreshold: cfg.Ledger.LowStockThreshold,
		Tolerance:         cfg.Ledger.ToleranceDecimal(),
	})
	if err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}
	return &app{
		cfg:        cfg,
		db:         conn,
		log:        log,
		orch:       orch,
		items:      catalog.New(conn, log),
		production: production.NewService(conn, orch.Stock(), sequence.New(conn, log), log),
	}, nil
}

// migrate runs versioned SQL migrations when enabled on postgres, and gorm
// AutoMigrate otherwise.
func (a *app) migrate() error {
	if a.cfg.App.Migrations && a.cfg.Database.Driver == "postgres" {
		if err := db.RunSQLMigrations(a.cfg.Database.ConnString(), a.cfg.App.MigrationsDir, a.log); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		return db.CheckTables(a.db)
	}
	if err := db.Migrate(a.db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	a.log.Info().Msg("migrations completed")
	return nil
}

func (a *app) seed() error {
	if err := db.Seed(a.db); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	a.log.Info().Msg("seeding completed")
	return nil
}

// prepare runs on serve: migrations, then the seed when enabled.
func (a *app) prepare() error {
	if err := a.migrate(); err != nil {
		return err
	}
	if a.cfg.App.Seed {
		return a.seed()
	}
	return nil
}

func (a *app) handler() http.Handler {
	return server.New(server.Deps{
		DB:         a.db,
		Ledger:     a.orch,
		Items:      a.items,
		Production: a.production,
		Log:        a.log,
	})
}

func (a *app) close() {
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close database")
	}
}
