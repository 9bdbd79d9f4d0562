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

// Package validation checks request headers after authentication and before
// access is granted.
package validation

import (
	"context"

	"github.com/Gosayram/authgate/internal/async"
	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/Gosayram/authgate/internal/headers"
)

const (
	// DefaultMaxBytes is the default upper bound for the summed header size
	DefaultMaxBytes = 5 * 1024
	// DefaultMaxAuthSubjects is the default upper bound for authorization subjects
	DefaultMaxAuthSubjects = 100
)

// Validator checks headers asynchronously. A failed future signals rejection.
type Validator interface {
	Validate(ctx context.Context, h *headers.Map) *async.Future[*headers.Map]
}

// SizeValidator limits the header byte size and the number of authorization subjects
type SizeValidator struct {
	MaxBytes        int
	MaxAuthSubjects int
}

// NewSizeValidator creates a validator; non-positive limits fall back to defaults
func NewSizeValidator(maxBytes, maxAuthSubjects int) *SizeValidator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxAuthSubjects <= 0 {
		maxAuthSubjects = DefaultMaxAuthSubjects
	}
	return &SizeValidator{
		MaxBytes:        maxBytes,
		MaxAuthSubjects: maxAuthSubjects,
	}
}

// Validate implements Validator. The headers are returned unchanged on success.
func (v *SizeValidator) Validate(_ context.Context, h *headers.Map) *async.Future[*headers.Map] {
	return async.Go(func() (*headers.Map, error) {
		if size := h.ByteSize(); size > v.MaxBytes {
			return nil, gatewayerr.HeadersTooLarge(v.MaxBytes).WithHeaders(h)
		}
		if n := len(h.Subjects()); n > v.MaxAuthSubjects {
			return nil, gatewayerr.TooManyAuthSubjects(n, v.MaxAuthSubjects).WithHeaders(h)
		}
		return h, nil
	})
}

// Func adapts a plain function to the Validator interface
type Func func(ctx context.Context, h *headers.Map) (*headers.Map, error)

// Validate implements Validator
func (f Func) Validate(ctx context.Context, h *headers.Map) *async.Future[*headers.Map] {
	return async.Go(func() (*headers.Map, error) {
		return f(ctx, h)
	})
}
