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

// Package server provides the HTTP surface of the authgate gateway.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/Gosayram/authgate/internal/authn"
	"github.com/Gosayram/authgate/internal/health"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	logger    *zap.Logger
	readiness *health.Checker
}

// NewHandlers creates new HTTP handlers. A nil readiness checker reports ready.
func NewHandlers(logger *zap.Logger, readiness *health.Checker) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if readiness == nil {
		readiness = health.NewChecker()
	}
	return &Handlers{logger: logger, readiness: readiness}
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// Ready reports whether the gateway's dependencies are reachable. Degraded
// still counts as ready.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	report := h.readiness.Check(r.Context())

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
		h.logger.Warn("Readiness check failed", zap.Any("components", report.Components))
	}
	h.respondJSON(w, status, report)
}

// WhoAmI returns the identity established by the authentication chain
func (h *Handlers) WhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, res, ok := authenticated(r)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "request was not authenticated", nil)
		return
	}

	h.respondJSON(w, http.StatusOK, WhoAmIResponse{
		ID:            identity.ID,
		Type:          identity.Type,
		Subject:       identity.Subject(),
		Subjects:      res.Headers.Subjects(),
		CorrelationID: res.Headers.CorrelationID(),
		Metadata:      identity.Metadata,
	})
}

// Echo reflects the request for any method below /api/echo/
func (h *Handlers) Echo(w http.ResponseWriter, r *http.Request) {
	identity, res, ok := authenticated(r)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "request was not authenticated", nil)
		return
	}

	h.respondJSON(w, http.StatusOK, EchoResponse{
		Method:        r.Method,
		Path:          "/" + chi.URLParam(r, "*"),
		Subject:       identity.Subject(),
		CorrelationID: res.Headers.CorrelationID(),
		Query:         r.URL.Query(),
	})
}

func authenticated(r *http.Request) (*authn.Identity, *authn.Result, bool) {
	identity, ok := authn.GetIdentity(r.Context())
	if !ok || identity == nil {
		return nil, nil, false
	}
	res, ok := authn.GetResult(r.Context())
	if !ok || res == nil {
		return nil, nil, false
	}
	return identity, res, true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	details := ""
	if err != nil {
		details = err.Error()
	}
	h.respondJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
