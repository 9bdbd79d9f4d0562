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
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// sensitiveKeys never reach the audit log
var sensitiveKeys = []string{"token", "authorization", "password", "secret", "x-api-token"}

// Logger provides audit logging functionality
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new audit logger
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("audit")}
}

// Log logs an audit event
//
//nolint:revive // ctx parameter may be used for future context-aware logging
func (l *Logger) Log(ctx context.Context, event *Event) {
	sanitizeEvent(event)

	fields := []zap.Field{
		zap.String("audit_id", event.ID),
		zap.String("audit_type", string(event.Type)),
		zap.Time("audit_timestamp", event.Timestamp),
		zap.String("audit_identity", event.Identity),
		zap.String("audit_result", event.Result),
	}

	if event.CorrelationID != "" {
		fields = append(fields, zap.String("correlation-id", event.CorrelationID))
	}

	if event.Operation != "" {
		fields = append(fields, zap.String("audit_operation", event.Operation))
	}

	if event.Status != 0 {
		fields = append(fields, zap.Int("audit_status", event.Status))
	}

	if event.IP != "" {
		fields = append(fields, zap.String("audit_ip", event.IP))
	}

	if event.UserAgent != "" {
		fields = append(fields, zap.String("audit_user_agent", event.UserAgent))
	}

	if event.Error != "" {
		fields = append(fields, zap.String("audit_error", event.Error))
	}

	// Log metadata as JSON
	if len(event.Metadata) > 0 {
		metadataJSON, _ := json.Marshal(event.Metadata)
		fields = append(fields, zap.String("audit_metadata", string(metadataJSON)))
	}

	l.logger.Info("Audit event", fields...)
}

// sanitizeEvent removes credentials from event metadata
func sanitizeEvent(event *Event) {
	for _, key := range sensitiveKeys {
		delete(event.Metadata, key)
	}
}
