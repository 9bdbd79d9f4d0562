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

package sdk

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HealthResponse is returned by Health
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessReport is returned by Ready
type ReadinessReport struct {
	Status     string                        `json:"status"`
	Components map[string]ReadinessComponent `json:"components,omitempty"`
}

// ReadinessComponent is the result of one readiness check
type ReadinessComponent struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Identity describes the authenticated caller
type Identity struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Subject       string            `json:"subject"`
	Subjects      []string          `json:"subjects"`
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// EchoResponse reflects a protected request
type EchoResponse struct {
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	Subject       string              `json:"subject"`
	CorrelationID string              `json:"correlation_id"`
	Query         map[string][]string `json:"query,omitempty"`
}

// Health checks liveness
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready returns the readiness report. An unready gateway answers 503, which
// is returned as an *APIError.
func (c *Client) Ready(ctx context.Context) (*ReadinessReport, error) {
	var out ReadinessReport
	if err := c.get(ctx, "/ready", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WhoAmI returns the identity the gateway resolved for the client's credential
func (c *Client) WhoAmI(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := c.get(ctx, "/api/whoami", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Echo sends method to /api/echo/<path> and returns what the gateway saw
func (c *Client) Echo(ctx context.Context, method, path string, query url.Values, body io.Reader) (*EchoResponse, error) {
	target := "/api/echo/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var (
		resp *http.Response
		err  error
	)
	if method == http.MethodGet {
		resp, err = c.doRequestWithRetry(ctx, target)
	} else {
		resp, err = c.doRequest(ctx, method, target, body)
	}
	if err != nil {
		return nil, err
	}

	var out EchoResponse
	if err := parseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	resp, err := c.doRequestWithRetry(ctx, path)
	if err != nil {
		return err
	}
	return parseResponse(resp, v)
}
