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

// Package audit records authentication decisions as structured audit events.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event
type EventType string

const (
	// EventTypeAuthSuccess is emitted when a request was authenticated
	EventTypeAuthSuccess EventType = "auth.success"
	// EventTypeAuthFailure is emitted when authentication was refused
	EventTypeAuthFailure EventType = "auth.failure"
	// EventTypeHeadersRejected is emitted when the header validator refused a request
	EventTypeHeadersRejected EventType = "headers.rejected"
)

// Event results
const (
	ResultSuccess = "success"
	ResultDenied  = "denied"
)

// Event represents an audit event
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	Timestamp     time.Time         `json:"timestamp"`
	Identity      string            `json:"identity"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Operation     string            `json:"operation,omitempty"`
	Result        string            `json:"result"`
	Status        int               `json:"status,omitempty"`
	Error         string            `json:"error,omitempty"`
	IP            string            `json:"ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a new audit event
func NewEvent(eventType EventType, identity string) *Event {
	result := ResultSuccess
	if eventType != EventTypeAuthSuccess {
		result = ResultDenied
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Identity:  identity,
		Result:    result,
		Metadata:  make(map[string]string),
	}
}

// WithCorrelationID sets the correlation id
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithOperation sets the operation
func (e *Event) WithOperation(operation string) *Event {
	e.Operation = operation
	return e
}

// WithStatus sets the HTTP status returned to the client
func (e *Event) WithStatus(status int) *Event {
	e.Status = status
	return e
}

// WithError records the error code reported to the client
func (e *Event) WithError(code string) *Event {
	e.Error = code
	return e
}

// WithIP sets the IP address
func (e *Event) WithIP(ip string) *Event {
	e.IP = ip
	return e
}

// WithUserAgent sets the user agent
func (e *Event) WithUserAgent(userAgent string) *Event {
	e.UserAgent = userAgent
	return e
}

// WithMetadata adds metadata
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}
