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

// Package main provides the authgate server application.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gosayram/authgate/internal/audit"
	"github.com/Gosayram/authgate/internal/authn"
	"github.com/Gosayram/authgate/internal/config"
	"github.com/Gosayram/authgate/internal/directive"
	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/Gosayram/authgate/internal/health"
	"github.com/Gosayram/authgate/internal/logging"
	"github.com/Gosayram/authgate/internal/server"
	"github.com/Gosayram/authgate/internal/storage"
	"github.com/Gosayram/authgate/internal/tracing"
	"github.com/Gosayram/authgate/internal/validation"
	"github.com/Gosayram/authgate/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// metricsReadHeaderTimeout bounds header reads on the metrics listener
const metricsReadHeaderTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger := initializeConfigAndLogger()
	defer func() {
		_ = logger.Sync() // Ignore sync errors on exit
	}()

	logStartupInfo(logger, cfg)

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  cfg.Tracing.ServiceName,
		Endpoint:     cfg.Tracing.Endpoint,
		Protocol:     cfg.Tracing.Protocol,
		SamplingRate: cfg.Tracing.SamplingRate,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	components, err := initializeComponents(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.tokens.Close()

	httpServer := setupHTTPServer(cfg, logger.Logger, components)
	if err := run(ctx, cfg, logger.Logger, httpServer, components); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1) //nolint:gocritic // deferred flushes are best effort on failure
	}

	logger.Info("Server stopped")
}

// appComponents holds all initialized application components
type appComponents struct {
	staticProvider *authn.StaticProvider
	tokens         *tokenSource
	validator      *validation.SizeValidator
	auditLogger    *audit.Logger
	authentication *directive.Authentication
	readiness      *health.Checker
}

// initializeConfigAndLogger loads configuration and initializes logger
func initializeConfigAndLogger() (*config.Config, *logging.Logger) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	return cfg, logger
}

// logStartupInfo logs server startup information
func logStartupInfo(logger *logging.Logger, cfg *config.Config) {
	info := version.Info()
	logger.Info("Starting authgate-server",
		zap.String("version", info["version"]),
		zap.String("commit", info["commit"]),
		zap.String("date", info["date"]),
		zap.String("address", cfg.Server.Address),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("providers", cfg.Auth.Providers),
	)
}

// initializeComponents builds the provider chain and the directive guarding /api
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*appComponents, error) {
	tokens := &tokenSource{config: cfg.Storage.Backend()}
	chain, staticProvider, err := initializeAuth(ctx, cfg, tokens, logger)
	if err != nil {
		_ = tokens.Close()
		return nil, err
	}

	auditLogger := audit.NewLogger(logger)
	authentication, err := directive.NewAuthentication(
		chain,
		logger,
		tracing.Tracer(),
		directive.WithErrorHandler(auditLogger.FailureHandler(gatewayerr.WriteHTTP)),
	)
	if err != nil {
		_ = tokens.Close()
		return nil, fmt.Errorf("failed to create authentication directive: %w", err)
	}

	readiness := health.NewChecker()
	if staticProvider != nil {
		readiness.Register("token_store", tokens, true)
	}

	return &appComponents{
		staticProvider: staticProvider,
		tokens:         tokens,
		readiness:      readiness,
		validator:      validation.NewSizeValidator(cfg.Headers.MaxBytes, cfg.Headers.MaxAuthSubjects),
		auditLogger:    auditLogger,
		authentication: authentication,
	}, nil
}

// initializeAuth creates the enabled providers in configured order. The static
// provider is returned separately so its tokens can be reloaded.
func initializeAuth(
	ctx context.Context,
	cfg *config.Config,
	tokens *tokenSource,
	logger *zap.Logger,
) (*authn.ProviderChain, *authn.StaticProvider, error) {
	var (
		providers      []authn.Provider
		staticProvider *authn.StaticProvider
	)

	for _, name := range cfg.Auth.Providers {
		switch name {
		case config.ProviderStatic:
			staticProvider = authn.NewStaticProvider()
			if err := tokens.Load(ctx, staticProvider); err != nil {
				return nil, nil, err
			}
			providers = append(providers, staticProvider)
		case config.ProviderMTLS:
			providers = append(providers, authn.NewMTLSProvider())
		case config.ProviderSPIFFE:
			provider, err := authn.NewSPIFFEProvider(ctx, &authn.SPIFFEConfig{
				TrustDomain:    cfg.Auth.SPIFFE.TrustDomain,
				BundlePaths:    cfg.Auth.SPIFFE.BundlePaths,
				WorkloadSocket: cfg.Auth.SPIFFE.WorkloadSocket,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("failed to initialize SPIFFE provider: %w", err)
			}
			providers = append(providers, provider)
		case config.ProviderOIDC:
			provider, err := authn.NewOIDCProvider(ctx, &authn.OIDCConfig{
				Issuer:      cfg.Auth.OIDC.Issuer,
				ClientID:    cfg.Auth.OIDC.ClientID,
				UserIDClaim: cfg.Auth.OIDC.UserIDClaim,
				UserInfo:    cfg.Auth.OIDC.UserInfo,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
			}
			providers = append(providers, provider)
		case config.ProviderJWT:
			provider, err := authn.NewJWTProvider(authn.JWTConfig{
				Secret:    []byte(cfg.Auth.JWT.Secret),
				Issuer:    cfg.Auth.JWT.Issuer,
				Audience:  cfg.Auth.JWT.Audience,
				UserClaim: cfg.Auth.JWT.UserClaim,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("failed to initialize JWT provider: %w", err)
			}
			providers = append(providers, provider)
		case config.ProviderPreAuth:
			providers = append(providers, authn.NewPreAuthenticatedProvider())
		default:
			return nil, nil, fmt.Errorf("unknown authentication provider %q", name)
		}
	}

	chain := authn.NewChain(logger, providers...)
	logger.Info("Authentication chain initialized", zap.Strings("providers", chain.Providers()))
	return chain, staticProvider, nil
}

// tokenSource opens the static token store. Shared backends stay open for
// the process lifetime. bbolt is opened per load and closed again so
// authgate-cli can write to it while the server runs.
type tokenSource struct {
	config  storage.Config
	backend storage.Backend
}

// store returns the token store and a release function
func (s *tokenSource) store(ctx context.Context) (*authn.TokenStore, func(), error) {
	if s.backend != nil {
		return authn.NewTokenStore(s.backend), func() {}, nil
	}

	backend, err := storage.Open(ctx, s.config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open token store: %w", err)
	}
	if s.config.Shared() {
		s.backend = backend
		return authn.NewTokenStore(backend), func() {}, nil
	}
	return authn.NewTokenStore(backend), func() { _ = backend.Close() }, nil
}

// Load replaces the provider's tokens with the store contents
func (s *tokenSource) Load(ctx context.Context, provider *authn.StaticProvider) error {
	store, release, err := s.store(ctx)
	if err != nil {
		return err
	}
	defer release()

	return provider.Load(ctx, store)
}

// Follow keeps provider in sync with backends that push changes. It returns
// authn.ErrWatchUnsupported for the others.
func (s *tokenSource) Follow(ctx context.Context, provider *authn.StaticProvider, logger *zap.Logger) error {
	if !s.config.Shared() {
		return authn.ErrWatchUnsupported
	}
	store, release, err := s.store(ctx)
	if err != nil {
		return err
	}
	defer release()

	return provider.Follow(ctx, store, logger)
}

// Ping implements health.Pinger
func (s *tokenSource) Ping(ctx context.Context) error {
	if s.backend != nil {
		return s.backend.Ping(ctx)
	}

	backend, err := storage.Open(ctx, s.config)
	if err != nil {
		return err
	}
	defer backend.Close()

	return backend.Ping(ctx)
}

// Close releases a shared backend
func (s *tokenSource) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// setupHTTPServer configures and sets up the HTTP server
func setupHTTPServer(cfg *config.Config, logger *zap.Logger, components *appComponents) *server.Server {
	serverConfig := &server.Config{
		Address:           cfg.Server.Address,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		TLSEnabled:        cfg.Server.TLSEnabled,
		TLSCertFile:       cfg.Server.TLSCertFile,
		TLSKeyFile:        cfg.Server.TLSKeyFile,
		TLSCACertFile:     cfg.Server.TLSCACertFile,
		RequireClientCert: cfg.Server.RequireClientCert,
	}

	return server.NewServer(
		serverConfig,
		logger,
		components.authentication,
		components.validator,
		components.auditLogger,
		components.readiness,
	)
}

// newMetricsServer exposes Prometheus metrics on a dedicated listener
func newMetricsServer(cfg *config.Config) *http.Server {
	router := chi.NewRouter()
	router.Handle(cfg.Metrics.Path, promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Metrics.Port),
		Handler:           router,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
}

// run serves until ctx is cancelled or a listener fails, then shuts every
// listener down within the configured timeout.
func run(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	httpServer *server.Server,
	components *appComponents,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreServerClosed(httpServer.Start())
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		metricsServer = newMetricsServer(cfg)
		g.Go(func() error {
			logger.Info("Starting metrics server", zap.String("address", metricsServer.Addr))
			return ignoreServerClosed(metricsServer.ListenAndServe())
		})
	}

	if components.staticProvider != nil {
		g.Go(func() error {
			reloadOnHangup(gctx, components.tokens, components.staticProvider, logger)
			return nil
		})
		g.Go(func() error {
			err := components.tokens.Follow(gctx, components.staticProvider, logger)
			switch {
			case errors.Is(err, authn.ErrWatchUnsupported):
				logger.Debug("Token store does not push changes, reload with SIGHUP")
			case err != nil && gctx.Err() == nil:
				logger.Warn("Stopped following token store changes", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			err = errors.Join(err, metricsServer.Shutdown(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}

// reloadOnHangup reloads static tokens from the store on every SIGHUP
func reloadOnHangup(ctx context.Context, tokens *tokenSource, provider *authn.StaticProvider, logger *zap.Logger) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			if err := tokens.Load(ctx, provider); err != nil {
				logger.Error("Failed to reload static tokens", zap.Error(err))
				continue
			}
			logger.Info("Static tokens reloaded", zap.Int("count", len(provider.ListTokens())))
		}
	}
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
