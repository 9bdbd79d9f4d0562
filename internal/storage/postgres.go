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
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// defaultMaxConns is the default maximum number of connections
	defaultMaxConns = 10
	// defaultMinConns is the default minimum number of connections
	defaultMinConns = 1
	// defaultConnMaxLifetime is the default maximum connection lifetime
	defaultConnMaxLifetime = 5 * time.Minute
	// defaultConnMaxIdleTime is the default maximum idle connection time
	defaultConnMaxIdleTime = 10 * time.Minute
	// defaultPingTimeout bounds the connectivity check on open
	defaultPingTimeout = 5 * time.Second
	// defaultMigrationTimeout bounds schema migrations on open
	defaultMigrationTimeout = 30 * time.Second
)

// PostgresBackend stores keys in the authgate_kv table
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string
	// MaxConns is the maximum number of connections (default: 10)
	MaxConns int32
	// MinConns is the minimum number of connections (default: 1)
	MinConns int32
	// ConnMaxLifetime is the maximum connection lifetime (default: 5m)
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime is the maximum idle connection time (default: 10m)
	ConnMaxIdleTime time.Duration
}

// poolConfig parses the connection string and applies pool defaults
func poolConfig(config PostgresConfig) (*pgxpool.Config, error) {
	if config.ConnectionString == "" {
		return nil, errors.New("postgres connection string is required")
	}

	pgxConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pgxConfig.MaxConns = orDefault(config.MaxConns, defaultMaxConns)
	pgxConfig.MinConns = orDefault(config.MinConns, defaultMinConns)
	pgxConfig.MaxConnLifetime = orDefault(config.ConnMaxLifetime, defaultConnMaxLifetime)
	pgxConfig.MaxConnIdleTime = orDefault(config.ConnMaxIdleTime, defaultConnMaxIdleTime)

	return pgxConfig, nil
}

func orDefault[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}

// NewPostgresBackend connects to PostgreSQL and applies pending migrations
func NewPostgresBackend(ctx context.Context, config PostgresConfig) (*PostgresBackend, error) {
	pgxConfig, err := poolConfig(config)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrateCtx, migrateCancel := context.WithTimeout(ctx, defaultMigrationTimeout)
	defer migrateCancel()

	if err := NewMigrator(pool, migrations).Migrate(migrateCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

// Get retrieves a value by key
func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := p.pool.QueryRow(ctx, "SELECT value FROM authgate_kv WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get value: %w", err)
	}

	return value, nil
}

// Put stores a value with the given key
func (p *PostgresBackend) Put(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO authgate_kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := p.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to put value: %w", err)
	}
	return nil
}

// Delete removes a key-value pair
func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	result, err := p.pool.Exec(ctx, "DELETE FROM authgate_kv WHERE key = $1", key)
	if err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all keys with the given prefix in key order
func (p *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM authgate_kv WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// escapeLike quotes LIKE wildcards so prefix matches literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Close closes the backend
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks if the backend is available
func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
