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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresTestBackend connects to AUTHGATE_TEST_POSTGRES_DSN, skipping
// when it is not set.
func newPostgresTestBackend(t *testing.T) *PostgresBackend {
	t.Helper()

	dsn := os.Getenv("AUTHGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUTHGATE_TEST_POSTGRES_DSN not set")
	}

	backend, err := NewPostgresBackend(t.Context(), PostgresConfig{ConnectionString: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestPoolConfig(t *testing.T) {
	_, err := poolConfig(PostgresConfig{})
	require.Error(t, err)

	cfg, err := poolConfig(PostgresConfig{ConnectionString: "postgres://gw@localhost:5432/authgate"})
	require.NoError(t, err)
	assert.Equal(t, int32(defaultMaxConns), cfg.MaxConns)
	assert.Equal(t, int32(defaultMinConns), cfg.MinConns)
	assert.Equal(t, defaultConnMaxLifetime, cfg.MaxConnLifetime)
	assert.Equal(t, defaultConnMaxIdleTime, cfg.MaxConnIdleTime)

	cfg, err = poolConfig(PostgresConfig{
		ConnectionString: "postgres://gw@localhost:5432/authgate",
		MaxConns:         3,
		ConnMaxLifetime:  time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), cfg.MaxConns)
	assert.Equal(t, time.Minute, cfg.MaxConnLifetime)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "tokens/", escapeLike("tokens/"))
	assert.Equal(t, `a\%b\_c\\d`, escapeLike(`a%b_c\d`))
}

func TestMigrationsOrdered(t *testing.T) {
	for i, migration := range migrations {
		assert.Equal(t, i+1, migration.Version)
		assert.NotEmpty(t, migration.Up)
		assert.NotEmpty(t, migration.Down)
	}

	m, ok := findMigration(migrations, 2)
	require.True(t, ok)
	assert.Contains(t, m.Up, "text_pattern_ops")

	_, ok = findMigration(migrations, 99)
	assert.False(t, ok)
}

func TestPostgresBackend_Operations(t *testing.T) {
	backend := newPostgresTestBackend(t)
	ctx := t.Context()

	t.Cleanup(func() {
		for _, k := range []string{"pgtest/a", "pgtest/b", "pgtest%x"} {
			_ = backend.Delete(ctx, k)
		}
	})

	require.NoError(t, backend.Put(ctx, "pgtest/a", []byte("1")))
	require.NoError(t, backend.Put(ctx, "pgtest/b", []byte("2")))
	require.NoError(t, backend.Put(ctx, "pgtest%x", []byte("3")))
	require.NoError(t, backend.Put(ctx, "pgtest/a", []byte("updated")))

	value, err := backend.Get(ctx, "pgtest/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), value)

	keys, err := backend.List(ctx, "pgtest/")
	require.NoError(t, err)
	assert.Equal(t, []string{"pgtest/a", "pgtest/b"}, keys)

	require.NoError(t, backend.Delete(ctx, "pgtest/b"))
	assert.ErrorIs(t, backend.Delete(ctx, "pgtest/b"), ErrNotFound)
	_, err = backend.Get(ctx, "pgtest/b")
	assert.ErrorIs(t, err, ErrNotFound)

	version, err := backend.Migrator().CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}
