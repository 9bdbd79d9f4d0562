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

package directive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Gosayram/authgate/internal/async"
	"github.com/Gosayram/authgate/internal/authn"
	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/Gosayram/authgate/internal/headers"
	"github.com/Gosayram/authgate/internal/metrics"
	"github.com/Gosayram/authgate/internal/tracing"
	"github.com/Gosayram/authgate/internal/validation"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeChain returns whatever future fn produces and counts invocations
type fakeChain struct {
	calls atomic.Int32
	fn    func(r *http.Request, h *headers.Map) *async.Future[*authn.Result]
}

func (c *fakeChain) Authenticate(r *http.Request, h *headers.Map) *async.Future[*authn.Result] {
	c.calls.Add(1)
	return c.fn(r, h)
}

func chainReturning(f func(h *headers.Map) *async.Future[*authn.Result]) *fakeChain {
	return &fakeChain{fn: func(_ *http.Request, h *headers.Map) *async.Future[*authn.Result] {
		return f(h)
	}}
}

// fakeValidator counts invocations and delegates to fn
type fakeValidator struct {
	calls atomic.Int32
	fn    func(h *headers.Map) *async.Future[*headers.Map]
}

func (v *fakeValidator) Validate(_ context.Context, h *headers.Map) *async.Future[*headers.Map] {
	v.calls.Add(1)
	return v.fn(h)
}

func passingValidator() *fakeValidator {
	return &fakeValidator{fn: func(h *headers.Map) *async.Future[*headers.Map] {
		return async.Completed(h)
	}}
}

func failingValidator(err error) *fakeValidator {
	return &fakeValidator{fn: func(*headers.Map) *async.Future[*headers.Map] {
		return async.Failed[*headers.Map](err)
	}}
}

type harness struct {
	auth     *Authentication
	recorder *tracetest.SpanRecorder
	logs     *observer.ObservedLogs

	mu     sync.Mutex
	errs   []error
	inner  int
	result *authn.Result
}

func newHarness(t *testing.T, chain authn.Chain, opts ...Option) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	h := &harness{recorder: recorder, logs: logs}
	opts = append([]Option{WithErrorHandler(h.handleError)}, opts...)

	auth, err := NewAuthentication(chain, zap.New(core), tracer, opts...)
	require.NoError(t, err)
	h.auth = auth
	return h
}

func (h *harness) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
	gatewayerr.WriteHTTP(w, r, err)
}

func (h *harness) continuation(res *authn.Result) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.mu.Lock()
		h.inner++
		h.result = res
		h.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *harness) serve(t *testing.T, hdrs *headers.Map, v validation.Validator) *httptest.ResponseRecorder {
	t.Helper()

	handler, err := h.auth.Authenticate(hdrs, v, h.continuation)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/things?id=7", nil))
	return rec
}

func authCount(outcome string) float64 {
	return testutil.ToFloat64(metrics.AuthenticationTotal.WithLabelValues(outcome))
}

func TestNewAuthentication(t *testing.T) {
	chain := chainReturning(nil)

	t.Run("nil chain", func(t *testing.T) {
		_, err := NewAuthentication(nil, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("nil unauthorized factory", func(t *testing.T) {
		_, err := NewAuthentication(chain, nil, nil, WithUnauthorizedFactory(nil))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("nil error handler", func(t *testing.T) {
		_, err := NewAuthentication(chain, nil, nil, WithErrorHandler(nil))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("defaults", func(t *testing.T) {
		auth, err := NewAuthentication(chain, nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, auth.logger)
		assert.NotNil(t, auth.tracer)
		assert.NotNil(t, auth.unauthorized)
		assert.NotNil(t, auth.errorHandler)
	})
}

func TestAuthenticate_InvalidArguments(t *testing.T) {
	chain := chainReturning(nil)
	auth, err := NewAuthentication(chain, nil, nil)
	require.NoError(t, err)

	inner := func(*authn.Result) http.Handler { return http.NotFoundHandler() }
	h := headers.New(headers.CorrelationID, "abc")
	v := passingValidator()

	tests := []struct {
		name  string
		h     *headers.Map
		v     validation.Validator
		inner func(*authn.Result) http.Handler
	}{
		{name: "nil headers", v: v, inner: inner},
		{name: "nil validator", h: h, inner: inner},
		{name: "nil continuation", h: h, v: v},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := auth.Authenticate(tt.h, tt.v, tt.inner)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Nil(t, handler)
		})
	}
	assert.Zero(t, chain.calls.Load())
}

func TestAuthenticate_Success(t *testing.T) {
	in := headers.New(headers.CorrelationID, "abc")
	enriched := in.WithSubjects("token:alice")
	want := authn.Succeeded(enriched, &authn.Identity{ID: "alice", Type: "token"})

	chain := chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
		return async.Completed(want)
	})
	v := passingValidator()
	h := newHarness(t, chain)
	before := authCount(metrics.OutcomeSuccess)

	rec := h.serve(t, in, v)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, h.inner)
	assert.Same(t, want, h.result)
	assert.Empty(t, h.errs)
	assert.Empty(t, h.recorder.Ended())
	assert.EqualValues(t, 1, v.calls.Load())
	assert.InDelta(t, before+1, authCount(metrics.OutcomeSuccess), 0)
}

func TestAuthenticate_ValidationIsAGate(t *testing.T) {
	in := headers.New(headers.CorrelationID, "abc")
	want := authn.Succeeded(in, &authn.Identity{ID: "alice", Type: "token"})

	chain := chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
		return async.Completed(want)
	})
	v := &fakeValidator{fn: func(*headers.Map) *async.Future[*headers.Map] {
		return async.Completed(headers.New("rewritten", "true"))
	}}
	h := newHarness(t, chain)

	res, err := h.auth.Resolve(httptest.NewRequest(http.MethodGet, "/", nil), in, v).Result()
	require.NoError(t, err)
	assert.Same(t, want, res)
}

func TestAuthenticate_RecognizedFailure(t *testing.T) {
	in := headers.New(headers.CorrelationID, "abc")
	expired := gatewayerr.TokenExpired().WithHeaders(in)

	tests := []struct {
		name  string
		chain *fakeChain
		v     *fakeValidator
	}{
		{
			name: "failure result",
			chain: chainReturning(func(h *headers.Map) *async.Future[*authn.Result] {
				return async.Completed(authn.Failed(h, expired))
			}),
			v: passingValidator(),
		},
		{
			name: "failed chain future",
			chain: chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
				return async.Failed[*authn.Result](expired)
			}),
			v: passingValidator(),
		},
		{
			name: "wrapped in failed chain future",
			chain: chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
				return async.Go(func() (*authn.Result, error) {
					return nil, errors.Join(errors.New("introspection"), expired)
				})
			}),
			v: passingValidator(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.chain)
			before := authCount(metrics.OutcomeRecognizedFailure)

			rec := h.serve(t, in, tt.v)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "abc", rec.Header().Get(headers.CorrelationID))
			assert.Zero(t, h.inner)
			require.Len(t, h.errs, 1)
			gwErr, ok := gatewayerr.As(h.errs[0])
			require.True(t, ok)
			assert.Same(t, expired, gwErr)

			spans := h.recorder.Ended()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, tracing.SpanFilterAuth, span.Name())
			assert.Contains(t, span.Attributes(), attribute.Bool(tracing.TagAuthSuccess, false))
			assert.Contains(t, span.Attributes(), attribute.Bool(tracing.TagAuthError, true))
			assert.Equal(t, codes.Error, span.Status().Code)
			assert.Len(t, h.recorder.Started(), 1)

			debug := h.logs.FilterLevelExact(zapcore.DebugLevel).All()
			require.Len(t, debug, 1)
			fields := debug[0].ContextMap()
			assert.Equal(t, "/api/things?id=7", fields["uri"])
			assert.Equal(t, "abc", fields["correlation-id"])
			assert.Equal(t, gatewayerr.CodeTokenExpired, fields["code"])

			assert.InDelta(t, before+1, authCount(metrics.OutcomeRecognizedFailure), 0)
		})
	}
}

func TestAuthenticate_ChainFailureSkipsValidation(t *testing.T) {
	chain := chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
		return async.Failed[*authn.Result](gatewayerr.InvalidToken())
	})
	v := passingValidator()
	h := newHarness(t, chain)

	h.serve(t, headers.New(headers.CorrelationID, "abc"), v)

	assert.Zero(t, v.calls.Load())
	require.Len(t, h.errs, 1)
}

func TestAuthenticate_UnexpectedFailure(t *testing.T) {
	in := headers.New(headers.CorrelationID, "abc")
	succeeded := func(h *headers.Map) *async.Future[*authn.Result] {
		return async.Completed(authn.Succeeded(h, &authn.Identity{ID: "alice", Type: "token"}))
	}

	tests := []struct {
		name      string
		chain     *fakeChain
		v         *fakeValidator
		errorType string
		message   string
	}{
		{
			name: "generic fault from chain",
			chain: chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
				return async.Failed[*authn.Result](errors.New("connection reset"))
			}),
			v:         passingValidator(),
			errorType: "*errors.errorString",
			message:   "connection reset",
		},
		{
			name: "panic inside chain",
			chain: chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
				return async.Go(func() (*authn.Result, error) {
					panic("provider bug")
				})
			}),
			v:         passingValidator(),
			errorType: "*async.PanicError",
			message:   "panic: provider bug",
		},
		{
			name: "nil result",
			chain: chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
				return async.Completed[*authn.Result](nil)
			}),
			v:         passingValidator(),
			errorType: "*errors.errorString",
			message:   "authentication chain returned no result",
		},
		{
			name:      "generic fault from validator",
			chain:     chainReturning(succeeded),
			v:         failingValidator(errors.New("validator exploded")),
			errorType: "*errors.errorString",
			message:   "validator exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.chain)
			before := authCount(metrics.OutcomeUnexpectedFailure)

			rec := h.serve(t, in, tt.v)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Zero(t, h.inner)
			require.Len(t, h.errs, 1)
			gwErr, ok := gatewayerr.As(h.errs[0])
			require.True(t, ok)
			assert.Equal(t, "Unauthorized.", gwErr.Message)
			assert.Same(t, in, gwErr.Headers)
			assert.NotContains(t, gwErr.Error(), tt.message)

			assert.Empty(t, h.recorder.Started())

			warn := h.logs.FilterLevelExact(zapcore.WarnLevel).All()
			require.Len(t, warn, 1)
			fields := warn[0].ContextMap()
			assert.Equal(t, "/api/things?id=7", fields["uri"])
			assert.Equal(t, tt.errorType, fields["error_type"])
			assert.Equal(t, tt.message, fields["error_message"])

			assert.InDelta(t, before+1, authCount(metrics.OutcomeUnexpectedFailure), 0)
		})
	}
}

func TestAuthenticate_ValidatorRejects(t *testing.T) {
	in := headers.New(headers.CorrelationID, "abc")
	chain := chainReturning(func(h *headers.Map) *async.Future[*authn.Result] {
		return async.Completed(authn.Succeeded(h.WithSubjects("token:alice"), &authn.Identity{ID: "alice", Type: "token"}))
	})
	h := newHarness(t, chain)

	rec := h.serve(t, in, validation.NewSizeValidator(16, 0))

	assert.Equal(t, http.StatusRequestHeaderFieldsTooLarge, rec.Code)
	assert.Zero(t, h.inner)
	require.Len(t, h.errs, 1)
	gwErr, ok := gatewayerr.As(h.errs[0])
	require.True(t, ok)
	assert.Equal(t, gatewayerr.CodeHeadersTooLarge, gwErr.Code)
	assert.Len(t, h.recorder.Ended(), 1)
}

func TestAuthenticate_CustomUnauthorizedFactory(t *testing.T) {
	custom := gatewayerr.AuthenticationFailed("Go away.")
	chain := chainReturning(func(*headers.Map) *async.Future[*authn.Result] {
		return async.Failed[*authn.Result](errors.New("boom"))
	})
	h := newHarness(t, chain, WithUnauthorizedFactory(func(hdrs *headers.Map) *gatewayerr.Error {
		return custom.WithHeaders(hdrs)
	}))

	h.serve(t, headers.New(headers.CorrelationID, "abc"), passingValidator())

	require.Len(t, h.errs, 1)
	gwErr, ok := gatewayerr.As(h.errs[0])
	require.True(t, ok)
	assert.Equal(t, "Go away.", gwErr.Message)
}

func TestAuthenticate_Idempotent(t *testing.T) {
	in := headers.New(headers.CorrelationID, "abc")
	chain := chainReturning(func(h *headers.Map) *async.Future[*authn.Result] {
		return async.Completed(authn.Failed(h, gatewayerr.InvalidToken()))
	})
	h := newHarness(t, chain)

	first := h.serve(t, in, passingValidator())
	second := h.serve(t, in, passingValidator())

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	require.Len(t, h.errs, 2)
	assert.Equal(t, h.errs[0], h.errs[1])
	assert.EqualValues(t, 2, chain.calls.Load())
}

func TestAuthenticate_SpanJoinsHeaderTrace(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	in := headers.New(
		headers.CorrelationID, "abc",
		headers.TraceParent, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	)
	chain := chainReturning(func(h *headers.Map) *async.Future[*authn.Result] {
		return async.Completed(authn.Failed(h, gatewayerr.TokenExpired()))
	})
	h := newHarness(t, chain)

	h.serve(t, in, passingValidator())

	spans := h.recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}

func TestMiddleware(t *testing.T) {
	identity := &authn.Identity{ID: "alice", Type: "token"}
	chain := &fakeChain{fn: func(r *http.Request, h *headers.Map) *async.Future[*authn.Result] {
		if r.Header.Get("X-API-Token") != "secret" {
			return async.Completed(authn.Failed(h, gatewayerr.InvalidToken().WithHeaders(h)))
		}
		return async.Completed(authn.Succeeded(h.WithSubjects(identity.Subject()), identity))
	}}
	auth, err := NewAuthentication(chain, zap.NewNop(), nil)
	require.NoError(t, err)

	var seen *authn.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = authn.MustGetIdentity(r.Context())
		res, ok := authn.GetResult(r.Context())
		require.True(t, ok)
		assert.Equal(t, []string{"token:alice"}, res.Headers.Subjects())
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.Middleware(validation.NewSizeValidator(0, 0))(next)

	t.Run("authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
		req.Header.Set("X-API-Token", "secret")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Same(t, identity, seen)
	})

	t.Run("rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
		req.Header.Set("X-API-Token", "wrong")
		req.Header.Set("X-Correlation-ID", "req-42")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "req-42", rec.Header().Get(headers.CorrelationID))
		assert.Contains(t, rec.Body.String(), gatewayerr.CodeTokenInvalid)
	})
}

func TestMiddleware_CookiesDoNotCountTowardsHeaderLimit(t *testing.T) {
	static := authn.NewStaticProvider()
	static.AddToken(authn.NewStaticToken("secret", "alice", nil))
	auth, err := NewAuthentication(authn.NewChain(zap.NewNop(), static), zap.NewNop(), nil)
	require.NoError(t, err)

	handler := auth.Middleware(validation.NewSizeValidator(0, 0))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	tests := []struct {
		name     string
		header   string
		value    string
		wantCode int
	}{
		{name: "large session cookie", header: "Cookie", value: "session=" + strings.Repeat("c", 5100), wantCode: http.StatusOK},
		{name: "large metadata header", header: "X-Trace-Context", value: strings.Repeat("m", 5200), wantCode: http.StatusRequestHeaderFieldsTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
			req.Header.Set("X-API-Token", "secret")
			req.Header.Set(tt.header, tt.value)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestMiddleware_TooManyPreAuthenticatedSubjects(t *testing.T) {
	chain := authn.NewChain(zap.NewNop(), authn.NewPreAuthenticatedProvider())
	auth, err := NewAuthentication(chain, zap.NewNop(), nil)
	require.NoError(t, err)

	handler := auth.Middleware(validation.NewSizeValidator(0, 2))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	tests := []struct {
		name     string
		subjects string
		wantCode int
	}{
		{name: "within limit", subjects: "nginx:alice,ldap:alice", wantCode: http.StatusOK},
		{name: "over limit", subjects: "nginx:alice,ldap:alice,saml:alice", wantCode: http.StatusRequestHeaderFieldsTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
			req.Header.Set(headers.PreAuthenticated, tt.subjects)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
