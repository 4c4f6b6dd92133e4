// Package sqlbase holds the schema migrator shared by SQL persistence providers.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// migrationLockID keys the advisory lock held while migrating, so an API and a worker
// starting together apply each migration once.
const migrationLockID int64 = 0x63726561747965

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`

// Migrator applies numbered SQL scripts in ascending order and records each applied
// version in schema_migrations.
type Migrator struct {
	db      *sql.DB
	logger  *slog.Logger
	scripts map[int]string
}

func NewMigrator(logger *slog.Logger, db *sql.DB, scripts map[int]string) *Migrator {
	return &Migrator{
		db:      db,
		logger:  logger.With("component", "migrator"),
		scripts: scripts,
	}
}

// Versions returns the known migration versions in ascending order.
func (m *Migrator) Versions() []int {
	return slices.Sorted(maps.Keys(m.scripts))
}

// Migrate brings the schema up to the newest known version. It is safe to call from
// several processes against the same database.
func (m *Migrator) Migrate(ctx context.Context) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID)
	if err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}

	defer func() {
		_, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
		if err != nil {
			m.logger.WarnContext(ctx, "Failed to release migration lock", "error", err)
		}
	}()

	_, err = conn.ExecContext(ctx, createMigrationsTable)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int

	err = conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	applied := 0

	for _, version := range m.Versions() {
		if version <= current {
			continue
		}

		err = m.apply(ctx, conn, version)
		if err != nil {
			return err
		}

		applied++
	}

	m.logger.InfoContext(ctx, "Schema is up to date", "from", current, "applied", applied)

	return nil
}

func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, version int) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", version, err)
	}

	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, m.scripts[version])
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
	if err != nil {
		return fmt.Errorf("migration %d: record version: %w", version, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("migration %d: commit: %w", version, err)
	}

	m.logger.DebugContext(ctx, "Applied migration", "version", version)

	return nil
}
