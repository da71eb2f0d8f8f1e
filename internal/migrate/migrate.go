// Package migrate applies the embedded SQL migrations in filename order,
// tracking what has already run in a schema_migrations table. Grounded on
// the teacher's internal/migrate/migrate.go: same embed.FS-plus-tracking-
// table shape, adapted to log through slog instead of fmt.Printf and to
// apply each migration inside its own transaction so a failure partway
// through a file cannot leave the schema half-changed.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const createTrackingTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT        PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Run applies every migration under migrations/ not already recorded in
// schema_migrations, in filename order. Safe to call on every process
// startup: already-applied files are skipped.
func Run(ctx context.Context, pool *pgxpool.Pool) error {
	return RunWithLogger(ctx, pool, nil)
}

// RunWithLogger is Run, logging each newly-applied migration through
// logger (nil discards the log lines).
func RunWithLogger(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if _, err := pool.Exec(ctx, createTrackingTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	pending, err := pendingMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, version := range pending {
		sql, err := migrationFS.ReadFile("migrations/" + version + ".sql")
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if err := applyOne(ctx, pool, version, string(sql)); err != nil {
			return err
		}
		if logger != nil {
			logger.Info("applied migration", "version", version)
		}
	}
	return nil
}

// pendingMigrations lists embedded migration versions not yet recorded,
// sorted by filename so numeric prefixes order correctly.
func pendingMigrations(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		versions = append(versions, strings.TrimSuffix(e.Name(), ".sql"))
	}
	sort.Strings(versions)

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pending []string
	for _, v := range versions {
		if !applied[v] {
			pending = append(pending, v)
		}
	}
	return pending, nil
}

// applyOne runs one migration file and records it in the same transaction,
// so a mid-file failure never leaves a partially-applied, unrecorded
// migration that Run would then skip on the next attempt.
func applyOne(ctx context.Context, pool *pgxpool.Pool, version, sql string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("apply migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations(version) VALUES($1)", version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}
