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

// Package sdk provides a Go client for services published behind authgate.
package sdk

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// defaultClientTimeout is the default timeout for HTTP client requests
	defaultClientTimeout = 30 * time.Second
	// defaultMaxRetries is how often idempotent requests are retried on 5xx
	defaultMaxRetries = 2
	// defaultRetryBackoff is the first retry delay, doubled per attempt
	defaultRetryBackoff = 200 * time.Millisecond

	apiTokenHeader      = "X-API-Token"
	correlationIDHeader = "X-Correlation-ID"
)

// Client calls an authgate deployment
type Client struct {
	baseURL      string
	httpClient   *http.Client
	authHeader   string
	authValue    string
	maxRetries   int
	retryBackoff time.Duration
}

// Config contains client configuration
type Config struct {
	BaseURL string
	// Token is sent as a bearer token. Static tokens may use APIToken instead.
	Token string
	// APIToken is sent in the X-API-Token header
	APIToken string
	Timeout  time.Duration
	// TLSConfig carries the client certificate for mTLS and SPIFFE deployments
	TLSConfig  *tls.Config
	HTTPClient *http.Client
	// MaxRetries applies to GET requests answered with 5xx (default: 2)
	MaxRetries int
}

// NewClient creates a new client. Requests propagate the caller's trace
// context through the global OpenTelemetry propagator.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.Token != "" && config.APIToken != "" {
		return nil, fmt.Errorf("token and API token are mutually exclusive")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = defaultClientTimeout
		}

		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = config.TLSConfig

		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		}
	}

	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	c := &Client{
		baseURL:      config.BaseURL,
		httpClient:   httpClient,
		maxRetries:   maxRetries,
		retryBackoff: defaultRetryBackoff,
	}
	switch {
	case config.Token != "":
		c.SetToken(config.Token)
	case config.APIToken != "":
		c.authHeader, c.authValue = apiTokenHeader, config.APIToken
	}
	return c, nil
}

// SetToken replaces the credential with a bearer token
func (c *Client) SetToken(token string) {
	c.authHeader, c.authValue = "Authorization", "Bearer "+token
}

// doRequest performs a single HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}
	if id := correlationIDFromContext(ctx); id != "" {
		req.Header.Set(correlationIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// doRequestWithRetry retries GET requests that fail or return 5xx
func (c *Client) doRequestWithRetry(ctx context.Context, path string) (*http.Response, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Join(lastErr, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < http.StatusInternalServerError || attempt == c.maxRetries {
			return resp, nil
		}
		lastErr = parseResponse(resp, nil)
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

// parseResponse decodes a JSON response into v, or the gateway error body
// into an *APIError
func parseResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{
			StatusCode:    resp.StatusCode,
			CorrelationID: resp.Header.Get("Correlation-Id"),
		}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "http.error"
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// APIError is a gateway error response
type APIError struct {
	StatusCode    int    `json:"status"`
	Code          string `json:"error"`
	Message       string `json:"message"`
	Description   string `json:"description,omitempty"`
	CorrelationID string `json:"-"`
}

// Error implements error
func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 gateway error
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

type correlationIDKey struct{}

// WithCorrelationID attaches a correlation id sent with every request made
// with ctx
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func correlationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
