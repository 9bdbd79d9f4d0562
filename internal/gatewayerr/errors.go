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

// Package gatewayerr defines the domain errors the gateway discloses to clients.
package gatewayerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gosayram/authgate/internal/headers"
)

// Error codes
const (
	CodeAuthenticationFailed = "gateway:authentication.failed"
	CodeTokenExpired         = "gateway:jwt.expired"
	CodeTokenInvalid         = "gateway:jwt.invalid"
	CodeHeadersTooLarge      = "headers.too.large"
)

const (
	defaultAuthDescription    = "Check if all required JWT claims are present or the provided credentials are correct."
	defaultHeadersDescription = "Reduce the size of the request headers."
)

// Error is a recognized gateway error. It carries everything needed to build a
// client-facing response.
type Error struct {
	Code        string
	Status      int
	Message     string
	Description string
	Headers     *headers.Map
	cause       error
}

// Error implements error
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// WithHeaders returns a copy of e bound to the given headers
func (e *Error) WithHeaders(h *headers.Map) *Error {
	cp := *e
	cp.Headers = h
	return &cp
}

// WithCause returns a copy of e wrapping cause
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// WithDescription returns a copy of e with a different description
func (e *Error) WithDescription(description string) *Error {
	cp := *e
	cp.Description = description
	return &cp
}

// As reports whether err is, or wraps, a recognized gateway error
func As(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// AuthenticationFailed creates a generic authentication failure
func AuthenticationFailed(message string) *Error {
	return &Error{
		Code:        CodeAuthenticationFailed,
		Status:      http.StatusUnauthorized,
		Message:     message,
		Description: defaultAuthDescription,
	}
}

// Unauthorized is the default-unauthorized error bound to h
func Unauthorized(h *headers.Map) *Error {
	return AuthenticationFailed("Unauthorized.").WithHeaders(h)
}

// NoApplicableProvider is returned when no provider in the chain can handle the request
func NoApplicableProvider() *Error {
	return AuthenticationFailed("No applicable authentication provider was found!").
		WithDescription("Provide credentials using one of the supported authentication mechanisms.")
}

// TokenExpired reports an expired credential
func TokenExpired() *Error {
	return &Error{
		Code:        CodeTokenExpired,
		Status:      http.StatusUnauthorized,
		Message:     "The provided token has expired.",
		Description: "Renew the token and retry the request.",
	}
}

// InvalidToken reports a credential that could not be verified
func InvalidToken() *Error {
	return &Error{
		Code:        CodeTokenInvalid,
		Status:      http.StatusUnauthorized,
		Message:     "The provided token is invalid.",
		Description: defaultAuthDescription,
	}
}

// HeadersTooLarge reports headers exceeding the configured byte limit
func HeadersTooLarge(maxBytes int) *Error {
	return &Error{
		Code:        CodeHeadersTooLarge,
		Status:      http.StatusRequestHeaderFieldsTooLarge,
		Message:     fmt.Sprintf("The headers are too large, the maximum allowed size is %d bytes.", maxBytes),
		Description: defaultHeadersDescription,
	}
}

// TooManyAuthSubjects reports more authorization subjects than allowed
func TooManyAuthSubjects(count, maxSubjects int) *Error {
	return &Error{
		Code:   CodeHeadersTooLarge,
		Status: http.StatusRequestHeaderFieldsTooLarge,
		Message: fmt.Sprintf("The number of authorization subjects (%d) exceeds the maximum of %d.",
			count, maxSubjects),
		Description: "Use fewer authorization subjects.",
	}
}

// response is the JSON body written for a gateway error
type response struct {
	Status      int    `json:"status"`
	Error       string `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// WriteHTTP renders err as a JSON error response. Errors that are not recognized
// gateway errors are rendered as a generic internal error.
func WriteHTTP(w http.ResponseWriter, _ *http.Request, err error) {
	gwErr, ok := As(err)
	if !ok {
		gwErr = &Error{
			Code:    "gateway:internal.error",
			Status:  http.StatusInternalServerError,
			Message: "Internal server error.",
		}
	}

	if id := gwErr.Headers.CorrelationID(); id != "" {
		w.Header().Set(headers.CorrelationID, id)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gwErr.Status)
	_ = json.NewEncoder(w).Encode(response{
		Status:      gwErr.Status,
		Error:       gwErr.Code,
		Message:     gwErr.Message,
		Description: gwErr.Description,
	})
}
