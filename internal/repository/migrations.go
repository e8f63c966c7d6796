package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const migrationLockKey int64 = 0x4d49475241544520

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const migrationApplied = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`

const recordMigration = `INSERT INTO schema_migrations (version) VALUES ($1)`

// RunMigrations applies the *.up.sql files in dir that schema_migrations
// does not list yet, in lexical order, each in its own transaction.
// Instances starting together queue on an advisory lock.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, dir string, logger *zap.Logger) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %s", dir)
	}
	slices.Sort(files)

	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := 0
	for _, file := range files {
		version := strings.TrimSuffix(filepath.Base(file), ".up.sql")
		ran, err := applyMigration(ctx, pool, file, version)
		if err != nil {
			return err
		}
		if ran {
			applied++
			logger.Info("migration applied", zap.String("version", version))
		}
	}
	logger.Info("schema up to date", zap.Int("applied", applied), zap.Int("known", len(files)))
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, file, version string) (bool, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", version, err)
	}

	var ran bool
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		var done bool
		if err := tx.QueryRow(ctx, migrationApplied, version).Scan(&done); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if done {
			return nil
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
		if _, err := tx.Exec(ctx, recordMigration, version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		ran = true
		return nil
	})
	return ran, err
}
