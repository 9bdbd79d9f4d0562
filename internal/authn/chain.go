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
	"net/http"

	"github.com/Gosayram/authgate/internal/async"
	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/Gosayram/authgate/internal/headers"
	"github.com/Gosayram/authgate/internal/metrics"
	"go.uber.org/zap"
)

// ProviderChain evaluates providers in order. The first applicable provider that
// succeeds wins; if every applicable provider fails, the most specific failure is
// reported.
type ProviderChain struct {
	providers []Provider
	logger    *zap.Logger
}

// NewChain creates a new authentication chain
func NewChain(logger *zap.Logger, providers ...Provider) *ProviderChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderChain{
		providers: append([]Provider(nil), providers...),
		logger:    logger,
	}
}

// Providers returns the names of the configured providers in evaluation order
func (c *ProviderChain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Authenticate implements Chain
func (c *ProviderChain) Authenticate(r *http.Request, h *headers.Map) *async.Future[*Result] {
	return async.Go(func() (*Result, error) {
		return c.authenticate(r, h), nil
	})
}

func (c *ProviderChain) authenticate(r *http.Request, h *headers.Map) *Result {
	logger := c.logger.With(zap.String(headers.CorrelationID, h.CorrelationID()))

	var failure error
	for _, provider := range c.providers {
		if !provider.IsApplicable(r) {
			continue
		}

		identity, err := provider.Authenticate(r.Context(), r)
		if err == nil && identity != nil {
			metrics.RecordProviderAttempt(provider.Name(), "success")
			logger.Debug("Authentication succeeded",
				zap.String("provider", provider.Name()),
				zap.Strings("subjects", identity.AuthorizationSubjects()),
			)
			return Succeeded(h.WithSubjects(identity.AuthorizationSubjects()...), identity)
		}
		if err == nil {
			err = ErrUnauthorized
		}

		metrics.RecordProviderAttempt(provider.Name(), "failure")
		logger.Debug("Authentication provider failed",
			zap.String("provider", provider.Name()),
			zap.Error(err),
		)

		// Continue to next provider, keeping the first recognized failure
		if failure == nil {
			failure = err
		} else if _, known := gatewayerr.As(failure); !known {
			if _, ok := gatewayerr.As(err); ok {
				failure = err
			}
		}
	}

	if failure == nil {
		return Failed(h, gatewayerr.NoApplicableProvider().WithHeaders(h))
	}
	if gwErr, ok := gatewayerr.As(failure); ok && gwErr.Headers == nil {
		failure = gwErr.WithHeaders(h)
	}
	return Failed(h, failure)
}
