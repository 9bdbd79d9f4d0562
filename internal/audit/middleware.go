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
	"net/http"

	"github.com/Gosayram/authgate/internal/authn"
	"github.com/Gosayram/authgate/internal/gatewayerr"
)

// Middleware records an auth.success event for every request that reached the
// protected handlers. It must run after authentication.
func Middleware(auditLogger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			identity, ok := authn.GetIdentity(r.Context())
			if !ok || identity == nil {
				identity = &authn.Identity{ID: "unknown", Type: "unknown"}
			}

			event := requestEvent(EventTypeAuthSuccess, identity.Subject(), r).
				WithStatus(rw.statusCode)
			if res, ok := authn.GetResult(r.Context()); ok {
				event.WithCorrelationID(res.Headers.CorrelationID())
			}
			for k, v := range identity.Metadata {
				event.WithMetadata(k, v)
			}

			auditLogger.Log(r.Context(), event)
		})
	}
}

// FailureHandler wraps the error handler of the authentication directive and
// records each refused request before the response is written.
func (l *Logger) FailureHandler(
	next func(http.ResponseWriter, *http.Request, error),
) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		event := requestEvent(EventTypeAuthFailure, "anonymous", r)

		if gwErr, ok := gatewayerr.As(err); ok {
			if gwErr.Code == gatewayerr.CodeHeadersTooLarge {
				event.Type = EventTypeHeadersRejected
			}
			event.WithError(gwErr.Code).
				WithStatus(gwErr.Status).
				WithCorrelationID(gwErr.Headers.CorrelationID())
		}

		l.Log(r.Context(), event)
		next(w, r, err)
	}
}

func requestEvent(eventType EventType, identity string, r *http.Request) *Event {
	return NewEvent(eventType, identity).
		WithIP(r.RemoteAddr).
		WithUserAgent(r.UserAgent()).
		WithOperation(r.Method + " " + r.URL.Path)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
