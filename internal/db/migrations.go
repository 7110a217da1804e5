package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Migration holds one schema step. Statements run one at a time inside a single
// transaction.
type Migration struct {
	Version int
	Up      []string
	Down    []string
}

var sqliteMigrations = []Migration{
	{
		Version: 1,
		Up: []string{
			`CREATE TABLE IF NOT EXISTS ui_layout_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tsUtc TEXT NOT NULL,
	payload TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS ui_layout_presets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL COLLATE NOCASE,
	payload TEXT NOT NULL,
	createdUtc TEXT NOT NULL,
	updatedUtc TEXT NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS ui_layout_presets_name ON ui_layout_presets(name COLLATE NOCASE)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS ui_layout_presets`,
			`DROP TABLE IF EXISTS ui_layout_snapshots`,
		},
	},
	{
		Version: 2,
		Up: []string{
			`CREATE INDEX IF NOT EXISTS ui_layout_presets_updated ON ui_layout_presets(updatedUtc DESC, name)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS ui_layout_presets_updated`,
		},
	},
}

var postgresMigrations = []Migration{
	{
		Version: 1,
		Up: []string{
			`CREATE TABLE IF NOT EXISTS ui_layout_snapshots (
	id BIGSERIAL PRIMARY KEY,
	tsUtc TEXT NOT NULL,
	payload JSONB NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS ui_layout_presets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	payload JSONB NOT NULL,
	createdUtc TEXT NOT NULL,
	updatedUtc TEXT NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS ui_layout_presets_name ON ui_layout_presets(lower(name))`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS ui_layout_presets`,
			`DROP TABLE IF EXISTS ui_layout_snapshots`,
		},
	},
	{
		Version: 2,
		Up: []string{
			`CREATE INDEX IF NOT EXISTS ui_layout_presets_updated ON ui_layout_presets(updatedUtc DESC, name)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS ui_layout_presets_updated`,
		},
	},
}

func migrationsFor(d Dialect) []Migration {
	if d == DialectPostgres {
		return postgresMigrations
	}
	return sqliteMigrations
}

func ApplyMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrationsFor(d) {
		var exists int
		err := db.QueryRowContext(ctx, d.rebind(`SELECT 1 FROM schema_migrations WHERE version = ?`), m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		for _, stmt := range m.Up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("apply migration %d: %w", m.Version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, d.rebind(`INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`), m.Version, ts(time.Now())); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func RollbackAll(ctx context.Context, db *sql.DB, d Dialect) error {
	ms := migrationsFor(d)
	for i := len(ms) - 1; i >= 0; i-- {
		m := ms[i]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollback tx %d: %w", m.Version, err)
		}
		for _, stmt := range m.Down {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("rollback migration %d: %w", m.Version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM schema_migrations WHERE version = ?`), m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("unrecord migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rollback %d: %w", m.Version, err)
		}
	}
	return nil
}
