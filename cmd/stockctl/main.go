// Command stockctl runs the stock operations against the configured store
// without going through the API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/azizikri/offer-checkout/internal/config"
	"github.com/azizikri/offer-checkout/internal/logging"
	"github.com/azizikri/offer-checkout/internal/repository"
	"github.com/azizikri/offer-checkout/internal/repository/memstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(&app{
		logger: logger,
		open: func(ctx context.Context) (repository.Store, func(), error) {
			return openStore(ctx, cfg, logger)
		},
	})
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, func(), error) {
	if cfg.UseMemoryStore() {
		return memstore.New(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return repository.New(pool), pool.Close, nil
}
