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
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEtcdDialTimeout    = 5 * time.Second
	defaultEtcdRequestTimeout = 3 * time.Second
	defaultEtcdKeyPrefix      = "/authgate/"
	defaultEtcdRetryAttempts  = 3
	defaultEtcdRetryBackoff   = 100 * time.Millisecond
	etcdWatchBuffer           = 16
)

// errEtcdClosed is returned by every operation after Close
var errEtcdClosed = errors.New("etcd backend is closed")

// EtcdConfig holds etcd connection configuration
type EtcdConfig struct {
	// Endpoints is a list of etcd endpoints (e.g., ["localhost:2379"])
	Endpoints []string
	// DialTimeout bounds the initial connection (default: 5s)
	DialTimeout time.Duration
	// RequestTimeout bounds every request (default: 3s)
	RequestTimeout time.Duration
	// KeyPrefix namespaces all keys (default: "/authgate/")
	KeyPrefix string
	// RetryAttempts is how often transient failures are tried (default: 3)
	RetryAttempts int
	// RetryBackoff is the first retry delay, doubled per attempt (default: 100ms)
	RetryBackoff time.Duration
}

// withDefaults fills zero fields and normalizes the key prefix
func (c EtcdConfig) withDefaults() (EtcdConfig, error) {
	if len(c.Endpoints) == 0 {
		return c, errors.New("at least one etcd endpoint is required")
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultEtcdDialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultEtcdRequestTimeout
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultEtcdKeyPrefix
	}
	if !strings.HasSuffix(c.KeyPrefix, "/") {
		c.KeyPrefix += "/"
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultEtcdRetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultEtcdRetryBackoff
	}
	return c, nil
}

// EtcdBackend stores keys below a prefix in an etcd cluster. It is shared by
// every gateway replica and implements Watcher.
type EtcdBackend struct {
	client *clientv3.Client
	config EtcdConfig
	mu     sync.RWMutex
	closed bool
}

// NewEtcdBackend connects to etcd and checks the first endpoint is reachable
func NewEtcdBackend(ctx context.Context, config EtcdConfig) (*EtcdBackend, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	statusCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	if _, err := client.Status(statusCtx, config.Endpoints[0]); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdBackend{client: client, config: config}, nil
}

func (e *EtcdBackend) prefixKey(key string) string {
	return e.config.KeyPrefix + key
}

func (e *EtcdBackend) stripPrefix(key string) string {
	return strings.TrimPrefix(key, e.config.KeyPrefix)
}

// do runs op under the request timeout, retrying transient failures with
// exponential backoff
func (e *EtcdBackend) do(ctx context.Context, op func(context.Context) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return errEtcdClosed
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	backoff := e.config.RetryBackoff
	var err error
	for attempt := range e.config.RetryAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		if err = op(ctx); err == nil || !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", e.config.RetryAttempts, err)
}

// isRetryableError reports whether err is a transient cluster condition
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, rpctypes.ErrNoLeader) || errors.Is(err, rpctypes.ErrLeaderChanged) ||
		errors.Is(err, rpctypes.ErrTimeout) || errors.Is(err, rpctypes.ErrTimeoutDueToLeaderFail) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Get retrieves a value by key
func (e *EtcdBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var resp *clientv3.GetResponse
	err := e.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.client.Get(ctx, e.prefixKey(key))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Put stores a value with the given key
func (e *EtcdBackend) Put(ctx context.Context, key string, value []byte) error {
	err := e.do(ctx, func(ctx context.Context) error {
		_, err := e.client.Put(ctx, e.prefixKey(key), string(value))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put value: %w", err)
	}
	return nil
}

// Delete removes a key-value pair
func (e *EtcdBackend) Delete(ctx context.Context, key string) error {
	var resp *clientv3.DeleteResponse
	err := e.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.client.Delete(ctx, e.prefixKey(key))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	if resp.Deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all keys with the given prefix in key order
func (e *EtcdBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var resp *clientv3.GetResponse
	err := e.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.client.Get(ctx, e.prefixKey(prefix),
			clientv3.WithPrefix(), clientv3.WithKeysOnly(),
			clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, e.stripPrefix(string(kv.Key)))
	}
	return keys, nil
}

// Close closes the backend
func (e *EtcdBackend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.client.Close()
}

// Ping checks the first endpoint answers status requests
func (e *EtcdBackend) Ping(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		_, err := e.client.Status(ctx, e.config.Endpoints[0])
		return err
	})
}

// Watch implements Watcher. The returned channel is closed when ctx is done
// or the watch is cancelled by the cluster.
func (e *EtcdBackend) Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errEtcdClosed
	}

	watchChan := e.client.Watch(clientv3.WithRequireLeader(ctx), e.prefixKey(prefix), clientv3.WithPrefix())
	events := make(chan WatchEvent, etcdWatchBuffer)

	go func() {
		defer close(events)

		for resp := range watchChan {
			if resp.Canceled {
				return
			}
			for _, ev := range resp.Events {
				event := WatchEvent{Key: e.stripPrefix(string(ev.Kv.Key))}
				switch ev.Type {
				case clientv3.EventTypePut:
					event.Type = EventPut
					event.Value = ev.Kv.Value
				case clientv3.EventTypeDelete:
					event.Type = EventDelete
				}

				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
