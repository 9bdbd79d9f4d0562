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

// Package metrics provides Prometheus metrics for authgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authentication outcomes
const (
	OutcomeSuccess           = "success"
	OutcomeRecognizedFailure = "recognized_failure"
	OutcomeUnexpectedFailure = "unexpected_failure"
)

var (
	// RequestDuration tracks the duration of HTTP requests in seconds
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authgate_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)

	// RequestTotal tracks the total number of HTTP requests
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	// AuthenticationTotal tracks terminal authentication outcomes
	AuthenticationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_authentications_total",
			Help: "Total number of authentication attempts by outcome",
		},
		[]string{"outcome"},
	)

	// AuthenticationDuration tracks how long authentication took until its terminal outcome
	AuthenticationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authgate_authentication_duration_seconds",
			Help:    "Duration of authentication in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// ProviderAttempts tracks attempts per authentication provider
	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_provider_attempts_total",
			Help: "Total number of authentication provider attempts",
		},
		[]string{"provider", "result"},
	)
)

// RecordRequest records an HTTP request with duration and status
func RecordRequest(route, status string, duration float64) {
	RequestDuration.WithLabelValues(route, status).Observe(duration)
	RequestTotal.WithLabelValues(route, status).Inc()
}

// RecordAuthentication records a terminal authentication outcome
func RecordAuthentication(outcome string, duration float64) {
	AuthenticationTotal.WithLabelValues(outcome).Inc()
	AuthenticationDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordProviderAttempt records a single provider attempt
func RecordProviderAttempt(provider, result string) {
	ProviderAttempts.WithLabelValues(provider, result).Inc()
}
