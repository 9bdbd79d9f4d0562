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

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gosayram/authgate/internal/audit"
	"github.com/Gosayram/authgate/internal/directive"
	"github.com/Gosayram/authgate/internal/health"
	"github.com/Gosayram/authgate/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	// defaultRequestTimeout is the default timeout for HTTP requests
	defaultRequestTimeout = 60 * time.Second
	// serviceOperation names the server span created for each request
	serviceOperation = "authgate"
)

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger
	config     *Config
}

// Config contains server configuration
type Config struct {
	Address           string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	TLSEnabled        bool
	TLSCertFile       string
	TLSKeyFile        string
	TLSCACertFile     string
	RequireClientCert bool
}

// NewServer creates a new HTTP server. Routes below /api are authenticated by
// auth and gated by validator. /ready reports the readiness checks.
func NewServer(
	config *Config,
	logger *zap.Logger,
	auth *directive.Authentication,
	validator validation.Validator,
	auditLogger *audit.Logger,
	readiness *health.Checker,
) *Server {
	router := chi.NewRouter()
	handlers := NewHandlers(logger, readiness)

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(defaultRequestTimeout))
	router.Use(MetricsMiddleware)

	router.Get("/health", handlers.Health)
	router.Get("/ready", handlers.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(validator))
		r.Use(audit.Middleware(auditLogger))

		r.Get("/whoami", handlers.WhoAmI)
		r.HandleFunc("/echo/*", handlers.Echo)
	})

	s := &Server{
		router: router,
		logger: logger,
		config: config,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Address, config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the instrumented root handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, serviceOperation)
}

// Start starts the HTTP server. It returns http.ErrServerClosed once Shutdown
// was called, even when Shutdown ran first.
func (s *Server) Start() error {
	// Configure TLS if enabled
	if s.config.TLSEnabled {
		tlsConfig, err := buildTLSConfig(s.config)
		if err != nil {
			return fmt.Errorf("failed to build TLS config: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	s.logger.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr),
		zap.Bool("tls_enabled", s.config.TLSEnabled),
	)

	if s.config.TLSEnabled {
		return s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs every request once it completed
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
