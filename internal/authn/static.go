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

package authn

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Gosayram/authgate/internal/gatewayerr"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// StaticToken represents a static authentication token. Only the fingerprint of
// the token is kept.
type StaticToken struct {
	Fingerprint string            `json:"fingerprint"`
	Identity    string            `json:"identity"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewStaticToken creates a static token entry for the raw token value
func NewStaticToken(token, identity string, expiresAt *time.Time) *StaticToken {
	return &StaticToken{
		Fingerprint: Fingerprint(token),
		Identity:    identity,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
}

// Expired reports whether the token has expired at now
func (t *StaticToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Fingerprint returns the hex encoded BLAKE2b-256 digest of a token
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// StaticProvider implements static token authentication
type StaticProvider struct {
	tokens map[string]*StaticToken
	mu     sync.RWMutex
}

// NewStaticProvider creates a new static token provider
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		tokens: make(map[string]*StaticToken),
	}
}

// Name implements Provider
func (s *StaticProvider) Name() string {
	return "static"
}

// IsApplicable implements Provider. Static tokens arrive in the X-API-Token header
// or as opaque (non-JWT) bearer tokens.
func (s *StaticProvider) IsApplicable(r *http.Request) bool {
	if r.Header.Get(apiTokenHeader) != "" {
		return true
	}
	token := bearerToken(r)
	return token != "" && !looksLikeJWT(token)
}

// AddToken adds a static token
func (s *StaticProvider) AddToken(token *StaticToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Fingerprint] = token
}

// RemoveToken removes a static token by fingerprint
func (s *StaticProvider) RemoveToken(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, fingerprint)
}

// Load replaces the in-memory tokens with the contents of store
func (s *StaticProvider) Load(ctx context.Context, store *TokenStore) error {
	tokens, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load static tokens: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]*StaticToken, len(tokens))
	for _, token := range tokens {
		s.tokens[token.Fingerprint] = token
	}
	return nil
}

// Follow loads the tokens in store and reloads them on every change until ctx
// is done. A failed reload keeps the previous tokens.
func (s *StaticProvider) Follow(ctx context.Context, store *TokenStore, logger *zap.Logger) error {
	events, err := store.Watch(ctx)
	if err != nil {
		return err
	}
	if err := s.Load(ctx, store); err != nil {
		return err
	}

	for range events {
		if err := s.Load(ctx, store); err != nil {
			logger.Warn("Failed to reload static tokens", zap.Error(err))
			continue
		}
		logger.Debug("Static tokens reloaded", zap.Int("count", len(s.ListTokens())))
	}

	if ctx.Err() != nil {
		return nil
	}
	return errors.New("token store watch closed")
}

// Authenticate authenticates using a static token
//
//nolint:revive // ctx parameter is required by Provider interface
func (s *StaticProvider) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	token := r.Header.Get(apiTokenHeader)
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		return nil, fmt.Errorf("no static token: %w", ErrUnauthorized)
	}

	fingerprint := Fingerprint(token)

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Use constant-time comparison to prevent timing attacks
	for storedFingerprint, tokenData := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(fingerprint), []byte(storedFingerprint)) != 1 {
			continue
		}
		if tokenData.Expired(time.Now()) {
			return nil, gatewayerr.TokenExpired().WithCause(ErrTokenExpired)
		}

		metadata := make(map[string]string, len(tokenData.Metadata)+1)
		for k, v := range tokenData.Metadata {
			metadata[k] = v
		}
		metadata["fingerprint"] = fingerprint[:12]

		return &Identity{
			ID:       tokenData.Identity,
			Type:     "token",
			Metadata: metadata,
		}, nil
	}

	return nil, gatewayerr.InvalidToken().WithCause(ErrInvalidToken)
}

// ListTokens returns all token identities (for admin use)
func (s *StaticProvider) ListTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identities := make([]string, 0, len(s.tokens))
	for _, token := range s.tokens {
		identities = append(identities, token.Identity)
	}

	return identities
}
