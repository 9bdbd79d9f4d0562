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
	"fmt"
)

// Backend types accepted by Open
const (
	TypeBolt     = "bbolt"
	TypeEtcd     = "etcd"
	TypePostgres = "postgres"
)

// Config selects and configures a backend
type Config struct {
	Type     string
	Path     string
	Etcd     EtcdConfig
	Postgres PostgresConfig
}

// Shared reports whether the backend may be held open while other processes
// write to it. bbolt keeps an exclusive file lock and is not shared.
func (c Config) Shared() bool {
	return c.Type == TypeEtcd || c.Type == TypePostgres
}

// Open creates the backend described by config. An empty type selects bbolt.
func Open(ctx context.Context, config Config) (Backend, error) {
	var (
		backend Backend
		err     error
	)
	switch config.Type {
	case "", TypeBolt:
		backend, err = NewBoltBackend(config.Path)
	case TypeEtcd:
		backend, err = NewEtcdBackend(ctx, config.Etcd)
	case TypePostgres:
		backend, err = NewPostgresBackend(ctx, config.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage type %q", config.Type)
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}
