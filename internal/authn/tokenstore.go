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
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Gosayram/authgate/internal/storage"
)

const tokenKeyPrefix = "tokens/"

var (
	// ErrTokenNotFound is returned when a token fingerprint is not stored
	ErrTokenNotFound = errors.New("token not found")
	// ErrWatchUnsupported is returned by Watch when the backend cannot push changes
	ErrWatchUnsupported = errors.New("token store backend does not support watching")
)

// TokenStore persists static tokens in a storage backend
type TokenStore struct {
	backend storage.Backend
}

// NewTokenStore creates a token store on top of backend
func NewTokenStore(backend storage.Backend) *TokenStore {
	return &TokenStore{backend: backend}
}

// Put stores a token, replacing any token with the same fingerprint
func (s *TokenStore) Put(ctx context.Context, token *StaticToken) error {
	if token.Fingerprint == "" {
		return fmt.Errorf("token fingerprint is required")
	}
	if token.Identity == "" {
		return fmt.Errorf("token identity is required")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := s.backend.Put(ctx, tokenKeyPrefix+token.Fingerprint, data); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Delete removes the token with the given fingerprint
func (s *TokenStore) Delete(ctx context.Context, fingerprint string) error {
	err := s.backend.Delete(ctx, tokenKeyPrefix+fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrTokenNotFound
	}
	return err
}

// List returns all stored tokens ordered by identity
func (s *TokenStore) List(ctx context.Context) ([]*StaticToken, error) {
	keys, err := s.backend.List(ctx, tokenKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	tokens := make([]*StaticToken, 0, len(keys))
	for _, key := range keys {
		data, err := s.backend.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read token %s: %w", key, err)
		}
		var token StaticToken
		if err := json.Unmarshal(data, &token); err != nil {
			return nil, fmt.Errorf("failed to unmarshal token %s: %w", key, err)
		}
		tokens = append(tokens, &token)
	}

	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].Identity == tokens[j].Identity {
			return tokens[i].Fingerprint < tokens[j].Fingerprint
		}
		return tokens[i].Identity < tokens[j].Identity
	})
	return tokens, nil
}

// Watch streams token changes made by other processes. Backends that do not
// implement storage.Watcher return ErrWatchUnsupported.
func (s *TokenStore) Watch(ctx context.Context) (<-chan storage.WatchEvent, error) {
	watcher, ok := s.backend.(storage.Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return watcher.Watch(ctx, tokenKeyPrefix)
}
