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

// Package storage provides the key-value backend used to persist gateway
// credentials.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("key not found")
)

// Backend defines the interface for storage backends
type Backend interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores a value with the given key
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes a key-value pair
	Delete(ctx context.Context, key string) error
	// List returns all keys with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)
	// Close closes the backend and releases resources
	Close() error
	// Ping checks if the backend is available
	Ping(ctx context.Context) error
}

// EventType describes a change reported by a Watcher
type EventType int

const (
	// EventPut is reported when a key is created or updated
	EventPut EventType = iota + 1
	// EventDelete is reported when a key is removed
	EventDelete
)

// WatchEvent is a single key change
type WatchEvent struct {
	Type  EventType
	Key   string
	Value []byte
}

// Watcher is implemented by backends able to push changes to other processes
type Watcher interface {
	// Watch streams changes below prefix until ctx is done
	Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error)
}
