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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// defaultDirMode is the default directory permissions (read, write, execute for owner only)
	defaultDirMode = 0o700
	// defaultFileMode is the default file permissions (read, write for owner only)
	defaultFileMode = 0o600
	// openTimeout bounds how long Open waits for the file lock held by another process
	openTimeout = 5 * time.Second
)

var bucketName = []byte("authgate")

// BoltBackend is a bbolt-based storage backend
type BoltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend creates a new bbolt-based storage backend
func NewBoltBackend(path string) (*BoltBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bbolt.Open(path, defaultFileMode, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, updateErr := tx.CreateBucketIfNotExists(bucketName)
		return updateErr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Get retrieves a value by key
func (b *BoltBackend) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte

	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketName).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}

		// Copy the value since it's only valid within the transaction
		value = make([]byte, len(val))
		copy(value, val)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Put stores a value with the given key
func (b *BoltBackend) Put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}

// Delete removes a key-value pair
func (b *BoltBackend) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(key))
	})
}

// List returns all keys with the given prefix
func (b *BoltBackend) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := b.db.View(func(tx *bbolt.Tx) error {
		prefixBytes := []byte(prefix)
		c := tx.Bucket(bucketName).Cursor()
		for k, _ := c.Seek(prefixBytes); k != nil && bytes.HasPrefix(k, prefixBytes); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})

	return keys, err
}

// Close closes the backend
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// Ping checks if the backend is available
func (b *BoltBackend) Ping(_ context.Context) error {
	return b.db.View(func(_ *bbolt.Tx) error {
		return nil
	})
}
