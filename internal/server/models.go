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

package server

// Response models

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// WhoAmIResponse describes the authenticated caller
type WhoAmIResponse struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Subject       string            `json:"subject"`
	Subjects      []string          `json:"subjects"`
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// EchoResponse reflects a protected request back to the caller
type EchoResponse struct {
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	Subject       string              `json:"subject"`
	CorrelationID string              `json:"correlation_id"`
	Query         map[string][]string `json:"query,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
