// Copyright 2025 Gosayram Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoMigrations is returned by Rollback when the schema is at version zero
var ErrNoMigrations = errors.New("no migrations to roll back")

// Migration is a reversible schema change
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations is the authgate_kv schema history, in version order
var migrations = []Migration{
	{
		Version:     1,
		Description: "create authgate_kv table",
		Up: `
			CREATE TABLE IF NOT EXISTS authgate_kv (
				key TEXT PRIMARY KEY,
				value BYTEA NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		Down: `DROP TABLE IF EXISTS authgate_kv`,
	},
	{
		Version:     2,
		Description: "index authgate_kv keys for prefix scans",
		Up:          `CREATE INDEX IF NOT EXISTS authgate_kv_key_prefix ON authgate_kv (key text_pattern_ops)`,
		Down:        `DROP INDEX IF EXISTS authgate_kv_key_prefix`,
	},
}

// Migrator applies and reverts migrations, recording the applied versions in
// authgate_schema_migrations.
type Migrator struct {
	pool       *pgxpool.Pool
	migrations []Migration
}

// NewMigrator creates a new migrator
func NewMigrator(pool *pgxpool.Pool, migrations []Migration) *Migrator {
	return &Migrator{
		pool:       pool,
		migrations: migrations,
	}
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS authgate_schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure migrations table: %w", err)
	}
	return nil
}

// CurrentVersion returns the highest applied migration version
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}

	var version int
	err := m.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM authgate_schema_migrations",
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending migrations, each in its own transaction
func (m *Migrator) Migrate(ctx context.Context) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}

		err := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migration.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO authgate_schema_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// Rollback reverts the most recently applied migration and returns the
// version it reverted
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return 0, err
	}
	if current == 0 {
		return 0, ErrNoMigrations
	}

	migration, ok := findMigration(m.migrations, current)
	if !ok {
		return 0, fmt.Errorf("migration version %d not found", current)
	}

	err = pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.Down); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM authgate_schema_migrations WHERE version = $1", current)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to roll back migration %d: %w", current, err)
	}

	return current, nil
}

func findMigration(migrations []Migration, version int) (Migration, bool) {
	for _, migration := range migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}

// Migrator returns a migrator for the backend's schema
func (p *PostgresBackend) Migrator() *Migrator {
	return NewMigrator(p.pool, migrations)
}
