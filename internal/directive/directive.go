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

// Package directive performs request authentication for the gateway: it runs the
// authentication chain, validates the resulting headers and routes the request
// either to the protected handler or to exactly one failure response.
package directive

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gosayram/authgate/internal/async"
	"github.com/Gosayram/authgate/internal/authn"
	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/Gosayram/authgate/internal/headers"
	"github.com/Gosayram/authgate/internal/logging"
	"github.com/Gosayram/authgate/internal/metrics"
	"github.com/Gosayram/authgate/internal/tracing"
	"github.com/Gosayram/authgate/internal/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrInvalidArgument is returned when a required argument is missing
var ErrInvalidArgument = errors.New("invalid argument")

var errNoResult = errors.New("authentication chain returned no result")

// UnauthorizedFactory builds the error reported when no specific cause may be disclosed
type UnauthorizedFactory func(h *headers.Map) *gatewayerr.Error

// ErrorHandler writes the response for a failed authentication
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option configures an Authentication
type Option func(*Authentication) error

// WithUnauthorizedFactory overrides the default-unauthorized error
func WithUnauthorizedFactory(factory UnauthorizedFactory) Option {
	return func(a *Authentication) error {
		if factory == nil {
			return fmt.Errorf("unauthorized factory is nil: %w", ErrInvalidArgument)
		}
		a.unauthorized = factory
		return nil
	}
}

// WithErrorHandler overrides how failures are rendered
func WithErrorHandler(handler ErrorHandler) Option {
	return func(a *Authentication) error {
		if handler == nil {
			return fmt.Errorf("error handler is nil: %w", ErrInvalidArgument)
		}
		a.errorHandler = handler
		return nil
	}
}

// Authentication applies the authentication chain to requests
type Authentication struct {
	chain        authn.Chain
	logger       *zap.Logger
	tracer       trace.Tracer
	unauthorized UnauthorizedFactory
	errorHandler ErrorHandler
}

// NewAuthentication creates the authentication directive for chain
func NewAuthentication(chain authn.Chain, logger *zap.Logger, tracer trace.Tracer, opts ...Option) (*Authentication, error) {
	if chain == nil {
		return nil, fmt.Errorf("authentication chain is nil: %w", ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = tracing.NoopTracer()
	}

	a := &Authentication{
		chain:        chain,
		logger:       logger,
		tracer:       tracer,
		unauthorized: gatewayerr.Unauthorized,
		errorHandler: gatewayerr.WriteHTTP,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Resolve runs the chain for r and, once the chain has produced a result, gates
// it through v. The returned future yields the original chain result, or fails
// with the chain's or the validator's error.
func (a *Authentication) Resolve(r *http.Request, h *headers.Map, v validation.Validator) *async.Future[*authn.Result] {
	return async.Then(a.chain.Authenticate(r, h), func(res *authn.Result) *async.Future[*authn.Result] {
		if res == nil {
			return async.Failed[*authn.Result](errNoResult)
		}
		return async.Then(v.Validate(r.Context(), res.Headers), func(*headers.Map) *async.Future[*authn.Result] {
			return async.Completed(res)
		})
	})
}

// Authenticate returns a handler that authenticates each request using h as the
// context gathered so far. On success inner is invoked with the result; otherwise
// either the recognized authentication error or the default-unauthorized error is
// handed to the error handler.
func (a *Authentication) Authenticate(
	h *headers.Map,
	v validation.Validator,
	inner func(*authn.Result) http.Handler,
) (http.Handler, error) {
	if h == nil {
		return nil, fmt.Errorf("headers are nil: %w", ErrInvalidArgument)
	}
	if v == nil {
		return nil, fmt.Errorf("headers validator is nil: %w", ErrInvalidArgument)
	}
	if inner == nil {
		return nil, fmt.Errorf("inner route is nil: %w", ErrInvalidArgument)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestURI := r.URL.RequestURI()

		future := a.Resolve(r, h, v)
		<-future.Done()
		res, err := future.Result()

		if err == nil && res.Succeeded() {
			metrics.RecordAuthentication(metrics.OutcomeSuccess, time.Since(start).Seconds())
			inner(res).ServeHTTP(w, r)
			return
		}

		cause := err
		if cause == nil {
			cause = res.Err
		}
		failure, outcome := a.handleFailedAuthentication(r, cause, requestURI, h)
		metrics.RecordAuthentication(outcome, time.Since(start).Seconds())
		a.errorHandler(w, r, failure)
	}), nil
}

// Middleware authenticates every request, building headers from the inbound
// request. The identity and result are stored in the request context.
func (a *Authentication) Middleware(v validation.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := headers.FromHTTP(r.Header)
			handler, err := a.Authenticate(h, v, func(res *authn.Result) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					ctx := authn.WithIdentity(r.Context(), res.Identity)
					ctx = authn.WithResult(ctx, res)
					next.ServeHTTP(w, r.WithContext(ctx))
				})
			})
			if err != nil {
				a.logger.Error("Failed to build authentication route", zap.Error(err))
				a.errorHandler(w, r, a.unauthorized(h))
				return
			}
			handler.ServeHTTP(w, r)
		})
	}
}

// handleFailedAuthentication classifies cause and returns the single error to
// report together with the metrics outcome.
func (a *Authentication) handleFailedAuthentication(
	r *http.Request,
	cause error,
	requestURI string,
	h *headers.Map,
) (*gatewayerr.Error, string) {
	logger := logging.WithCorrelationID(a.logger, h.CorrelationID())

	if gwErr, ok := gatewayerr.As(cause); ok {
		logger.Debug("Authentication failed, reporting gateway error",
			zap.String("uri", requestURI),
			zap.String("code", gwErr.Code),
			zap.Error(cause),
		)

		ctx := tracing.ContextFromHeaders(r.Context(), h)
		_, span := a.tracer.Start(ctx, tracing.SpanFilterAuth, trace.WithAttributes(
			attribute.Bool(tracing.TagAuthSuccess, false),
			attribute.Bool(tracing.TagAuthError, true),
			attribute.String(tracing.TagCorrelationID, h.CorrelationID()),
		))
		tracing.TagAsFailed(span, cause)
		span.End()

		return gwErr, metrics.OutcomeRecognizedFailure
	}

	logger.Warn("Unexpected authentication failure",
		zap.String("uri", requestURI),
		zap.String("error_type", fmt.Sprintf("%T", cause)),
		zap.String("error_message", errorMessage(cause)),
		zap.Error(cause),
	)

	return a.unauthorized(h), metrics.OutcomeUnexpectedFailure
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
