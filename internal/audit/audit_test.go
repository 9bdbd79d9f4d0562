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

package audit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gosayram/authgate/internal/authn"
	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/Gosayram/authgate/internal/headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return NewLogger(zap.New(core)), logs
}

func TestNewEvent(t *testing.T) {
	success := NewEvent(EventTypeAuthSuccess, "token:alice")
	failure := NewEvent(EventTypeAuthFailure, "anonymous")

	assert.Equal(t, ResultSuccess, success.Result)
	assert.Equal(t, ResultDenied, failure.Result)
	assert.NotEqual(t, success.ID, failure.ID)
	assert.Len(t, success.ID, 36)
}

func TestLogger_SanitizesMetadata(t *testing.T) {
	auditLogger, logs := newObservedLogger()

	event := NewEvent(EventTypeAuthSuccess, "token:alice").
		WithMetadata("team", "payments").
		WithMetadata("token", "do-not-log")
	auditLogger.Log(t.Context(), event)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "auth.success", fields["audit_type"])
	assert.Equal(t, `{"team":"payments"}`, fields["audit_metadata"])
	assert.Equal(t, "audit", entries[0].LoggerName)
}

func TestMiddleware(t *testing.T) {
	auditLogger, logs := newObservedLogger()
	identity := &authn.Identity{ID: "alice", Type: "token", Metadata: map[string]string{"team": "payments"}}
	res := authn.Succeeded(headers.New(headers.CorrelationID, "abc"), identity)

	handler := Middleware(auditLogger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/echo/things", nil)
	req = req.WithContext(authn.WithResult(authn.WithIdentity(req.Context(), identity), res))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "auth.success", fields["audit_type"])
	assert.Equal(t, "token:alice", fields["audit_identity"])
	assert.Equal(t, "abc", fields["correlation-id"])
	assert.Equal(t, "POST /api/echo/things", fields["audit_operation"])
	assert.EqualValues(t, http.StatusAccepted, fields["audit_status"])
}

func TestFailureHandler(t *testing.T) {
	h := headers.New(headers.CorrelationID, "abc")

	tests := []struct {
		name      string
		err       error
		wantType  string
		wantError string
	}{
		{
			name:      "authentication failure",
			err:       gatewayerr.TokenExpired().WithHeaders(h),
			wantType:  "auth.failure",
			wantError: gatewayerr.CodeTokenExpired,
		},
		{
			name:      "headers rejected",
			err:       gatewayerr.HeadersTooLarge(10).WithHeaders(h),
			wantType:  "headers.rejected",
			wantError: gatewayerr.CodeHeadersTooLarge,
		},
		{
			name:     "unrecognized error",
			err:      errors.New("boom"),
			wantType: "auth.failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditLogger, logs := newObservedLogger()
			var forwarded error
			handler := auditLogger.FailureHandler(func(_ http.ResponseWriter, _ *http.Request, err error) {
				forwarded = err
			})

			handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/whoami", nil), tt.err)

			assert.Same(t, tt.err, forwarded)
			entries := logs.All()
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, tt.wantType, fields["audit_type"])
			assert.Equal(t, ResultDenied, fields["audit_result"])
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, fields["audit_error"])
				assert.Equal(t, "abc", fields["correlation-id"])
			}
		})
	}
}
