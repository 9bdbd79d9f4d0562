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

// Package main provides the authgate CLI for managing static API tokens.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Gosayram/authgate/internal/authn"
	"github.com/Gosayram/authgate/internal/storage"
	"github.com/Gosayram/authgate/internal/version"
)

const (
	// generatedTokenBytes is the entropy of generated tokens
	generatedTokenBytes = 32
	// fingerprintDisplayLen is how much of a fingerprint list prints
	fingerprintDisplayLen = 12
)

// CLI represents the root CLI structure
type CLI struct {
	StorageType   string   `flag:"storage-type" env:"AUTHGATE_STORAGE_TYPE" default:"bbolt" enum:"bbolt,etcd,postgres" help:"Token store backend"`
	Store         string   `flag:"store" env:"AUTHGATE_TOKEN_STORE_PATH" default:"./data/authgate.db" help:"Token store path (bbolt)"`
	EtcdEndpoints []string `flag:"etcd-endpoints" env:"AUTHGATE_ETCD_ENDPOINTS" help:"etcd endpoints"`
	EtcdPrefix    string   `flag:"etcd-prefix" env:"AUTHGATE_ETCD_PREFIX" help:"etcd key prefix"`
	PostgresDSN   string   `flag:"postgres-dsn" env:"AUTHGATE_POSTGRES_DSN" help:"PostgreSQL connection string"`

	Version VersionCmd `cmd:"" help:"Show version information"`
	Token   TokenCmd   `cmd:"" help:"Static token commands"`
	Migrate MigrateCmd `cmd:"" help:"PostgreSQL token store migrations"`

	out io.Writer `kong:"-"`
}

// storageConfig maps the global flags to a backend configuration
func (c *CLI) storageConfig() storage.Config {
	return storage.Config{
		Type: c.StorageType,
		Path: c.Store,
		Etcd: storage.EtcdConfig{
			Endpoints: c.EtcdEndpoints,
			KeyPrefix: c.EtcdPrefix,
		},
		Postgres: storage.PostgresConfig{
			ConnectionString: c.PostgresDSN,
		},
	}
}

// withStore opens the token store for the duration of fn
func (c *CLI) withStore(fn func(context.Context, *authn.TokenStore) error) error {
	ctx := context.Background()
	backend, err := storage.Open(ctx, c.storageConfig())
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	defer backend.Close()

	return fn(ctx, authn.NewTokenStore(backend))
}

// VersionCmd shows version information
type VersionCmd struct {
	CLI *CLI `kong:"-"`
}

// Run executes the version command
//
//nolint:unparam // error return is required by kong.Cmd interface
func (v *VersionCmd) Run() error {
	info := version.Info()
	fmt.Fprintln(v.CLI.out, "authgate-cli version", info["version"])
	fmt.Fprintln(v.CLI.out, "commit:", info["commit"])
	fmt.Fprintln(v.CLI.out, "date:", info["date"])
	return nil
}

// TokenCmd groups static token commands
type TokenCmd struct {
	Add    TokenAddCmd    `cmd:"" help:"Store a new static token"`
	Remove TokenRemoveCmd `cmd:"" help:"Remove a static token"`
	List   TokenListCmd   `cmd:"" help:"List stored static tokens"`
}

// TokenAddCmd stores a token for an identity
type TokenAddCmd struct {
	CLI      *CLI              `kong:"-"`
	Identity string            `arg:"" help:"Identity the token authenticates as"`
	Token    string            `flag:"token" help:"Token value, generated when empty"`
	Expires  time.Duration     `flag:"expires" help:"Lifetime of the token, zero never expires"`
	Metadata map[string]string `flag:"metadata" help:"Identity metadata as key=value pairs"`
}

// Run executes the token add command
func (t *TokenAddCmd) Run() error {
	token := t.Token
	if token == "" {
		generated, err := generateToken()
		if err != nil {
			return err
		}
		token = generated
	}

	var expiresAt *time.Time
	if t.Expires > 0 {
		at := time.Now().UTC().Add(t.Expires)
		expiresAt = &at
	}

	entry := authn.NewStaticToken(token, t.Identity, expiresAt)
	entry.Metadata = t.Metadata

	err := t.CLI.withStore(func(ctx context.Context, store *authn.TokenStore) error {
		return store.Put(ctx, entry)
	})
	if err != nil {
		return err
	}

	// The raw token is never stored, so this is the only time it is shown.
	fmt.Fprintf(t.CLI.out, "identity:    %s\n", entry.Identity)
	fmt.Fprintf(t.CLI.out, "fingerprint: %s\n", entry.Fingerprint)
	if t.Token == "" {
		fmt.Fprintf(t.CLI.out, "token:       %s\n", token)
	}
	return nil
}

// TokenRemoveCmd deletes a token by fingerprint
type TokenRemoveCmd struct {
	CLI         *CLI   `kong:"-"`
	Fingerprint string `arg:"" help:"Fingerprint, or unique fingerprint prefix, of the token"`
}

// Run executes the token remove command
func (t *TokenRemoveCmd) Run() error {
	return t.CLI.withStore(func(ctx context.Context, store *authn.TokenStore) error {
		fingerprint, err := resolveFingerprint(ctx, store, t.Fingerprint)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, fingerprint); err != nil {
			return fmt.Errorf("failed to remove token: %w", err)
		}
		fmt.Fprintf(t.CLI.out, "removed %s\n", fingerprint)
		return nil
	})
}

// TokenListCmd prints stored tokens
type TokenListCmd struct {
	CLI *CLI `kong:"-"`
}

// Run executes the token list command
func (t *TokenListCmd) Run() error {
	return t.CLI.withStore(func(ctx context.Context, store *authn.TokenStore) error {
		tokens, err := store.List(ctx)
		if err != nil {
			return err
		}

		now := time.Now()
		w := tabwriter.NewWriter(t.CLI.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FINGERPRINT\tIDENTITY\tCREATED\tEXPIRES")
		for _, token := range tokens {
			expires := "never"
			if token.ExpiresAt != nil {
				expires = token.ExpiresAt.Format(time.RFC3339)
				if token.Expired(now) {
					expires += " (expired)"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				token.Fingerprint[:fingerprintDisplayLen],
				token.Identity,
				token.CreatedAt.Format(time.RFC3339),
				expires,
			)
		}
		return w.Flush()
	})
}

// MigrateCmd groups schema migration commands. Opening the store applies
// pending migrations, so there is no separate up command.
type MigrateCmd struct {
	Status MigrateStatusCmd `cmd:"" help:"Show the applied schema version"`
	Down   MigrateDownCmd   `cmd:"" help:"Roll back the latest migration"`
}

// withMigrator opens the PostgreSQL store for the duration of fn
func (c *CLI) withMigrator(fn func(context.Context, *storage.Migrator) error) error {
	if c.StorageType != storage.TypePostgres {
		return fmt.Errorf("migrations require --storage-type=%s", storage.TypePostgres)
	}

	ctx := context.Background()
	backend, err := storage.NewPostgresBackend(ctx, c.storageConfig().Postgres)
	if err != nil {
		return err
	}
	defer backend.Close()

	return fn(ctx, backend.Migrator())
}

// MigrateStatusCmd prints the schema version
type MigrateStatusCmd struct {
	CLI *CLI `kong:"-"`
}

// Run executes the migrate status command
func (m *MigrateStatusCmd) Run() error {
	return m.CLI.withMigrator(func(ctx context.Context, migrator *storage.Migrator) error {
		current, err := migrator.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(m.CLI.out, "schema version: %d\n", current)
		return nil
	})
}

// MigrateDownCmd reverts the latest migration
type MigrateDownCmd struct {
	CLI *CLI `kong:"-"`
}

// Run executes the migrate down command
func (m *MigrateDownCmd) Run() error {
	return m.CLI.withMigrator(func(ctx context.Context, migrator *storage.Migrator) error {
		reverted, err := migrator.Rollback(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(m.CLI.out, "rolled back migration %d\n", reverted)
		return nil
	})
}

// resolveFingerprint expands a fingerprint prefix to the single stored
// fingerprint it matches.
func resolveFingerprint(ctx context.Context, store *authn.TokenStore, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("fingerprint is required")
	}

	tokens, err := store.List(ctx)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, token := range tokens {
		if strings.HasPrefix(token.Fingerprint, prefix) {
			matches = append(matches, token.Fingerprint)
		}
	}

	switch len(matches) {
	case 0:
		return "", authn.ErrTokenNotFound
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("fingerprint prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func generateToken() (string, error) {
	buf := make([]byte, generatedTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
