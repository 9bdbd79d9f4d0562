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
	"errors"
	"net/http"

	"github.com/Gosayram/authgate/internal/async"
	"github.com/Gosayram/authgate/internal/headers"
)

var (
	// ErrUnauthorized is returned when a provider cannot establish an identity
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken is returned when token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when token has expired
	ErrTokenExpired = errors.New("token expired")
)

// Identity represents an authenticated identity
type Identity struct {
	ID       string
	Type     string // "token", "mtls", "spiffe", "oidc", "jwt", "pre-authenticated"
	Metadata map[string]string
	// Subjects overrides the single Subject() when a provider asserts several
	Subjects []string
}

// Subject returns the authorization subject of the identity, e.g. "oidc:alice"
func (i *Identity) Subject() string {
	return i.Type + ":" + i.ID
}

// AuthorizationSubjects returns every subject the identity was authenticated as
func (i *Identity) AuthorizationSubjects() []string {
	if len(i.Subjects) > 0 {
		return append([]string(nil), i.Subjects...)
	}
	return []string{i.Subject()}
}

// Result is the outcome of running the authentication chain for one request.
// It is either a success carrying the (possibly enriched) headers and identity,
// or a failure carrying the reason.
type Result struct {
	Headers  *headers.Map
	Identity *Identity
	Err      error
}

// Succeeded creates a successful result
func Succeeded(h *headers.Map, identity *Identity) *Result {
	return &Result{Headers: h, Identity: identity}
}

// Failed creates a failed result
func Failed(h *headers.Map, err error) *Result {
	if err == nil {
		err = ErrUnauthorized
	}
	return &Result{Headers: h, Err: err}
}

// Succeeded reports whether the result grants access
func (r *Result) Succeeded() bool {
	return r != nil && r.Err == nil
}

// Provider defines the interface for authentication providers
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string
	// IsApplicable reports whether the request carries credentials this provider handles
	IsApplicable(r *http.Request) bool
	// Authenticate authenticates a request and returns identity
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// Chain authenticates a request asynchronously and yields exactly one result.
// Expected failures are reported as a failed Result, never as a panic.
type Chain interface {
	Authenticate(r *http.Request, h *headers.Map) *async.Future[*Result]
}
