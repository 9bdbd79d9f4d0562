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

// Package config provides configuration loading and management for the authgate gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Gosayram/authgate/internal/storage"
)

const (
	// defaultServerPort is the default HTTP server port
	defaultServerPort = 8080
	// defaultReadTimeout is the default read timeout for HTTP server
	defaultReadTimeout = 30 * time.Second
	// defaultWriteTimeout is the default write timeout for HTTP server
	defaultWriteTimeout = 30 * time.Second
	// defaultIdleTimeout is the default idle timeout for HTTP server
	defaultIdleTimeout = 120 * time.Second
	// defaultShutdownTimeout bounds graceful shutdown
	defaultShutdownTimeout = 15 * time.Second
	// defaultMetricsPort is the default metrics server port
	defaultMetricsPort = 9090
	// defaultMaxHeaderBytes is the default limit for the summed header size
	defaultMaxHeaderBytes = 5 * 1024
	// defaultMaxAuthSubjects is the default limit for authorization subjects
	defaultMaxAuthSubjects = 100
	// maxPort is the highest valid TCP port
	maxPort = 65535
)

// Provider names accepted in AUTHGATE_AUTH_PROVIDERS
const (
	ProviderStatic  = "static"
	ProviderMTLS    = "mtls"
	ProviderSPIFFE  = "spiffe"
	ProviderOIDC    = "oidc"
	ProviderJWT     = "jwt"
	ProviderPreAuth = "preauth"
)

var knownProviders = map[string]bool{
	ProviderStatic:  true,
	ProviderMTLS:    true,
	ProviderSPIFFE:  true,
	ProviderOIDC:    true,
	ProviderJWT:     true,
	ProviderPreAuth: true,
}

// Config represents the application configuration
type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	Headers HeadersConfig
	Storage StorageConfig
	Logging LoggingConfig
	Metrics MetricsConfig
	Tracing TracingConfig
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Address           string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	TLSEnabled        bool
	TLSCertFile       string
	TLSKeyFile        string
	TLSCACertFile     string
	RequireClientCert bool
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	// Providers in evaluation order
	Providers []string
	OIDC      OIDCConfig
	JWT       JWTConfig
	SPIFFE    SPIFFEConfig
}

// OIDCConfig contains OIDC provider configuration
type OIDCConfig struct {
	Issuer      string
	ClientID    string
	UserIDClaim string
	UserInfo    bool
}

// JWTConfig contains shared-secret JWT configuration
type JWTConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	UserClaim string
}

// SPIFFEConfig contains SPIFFE configuration
type SPIFFEConfig struct {
	TrustDomain    string
	BundlePaths    []string
	WorkloadSocket string
}

// HeadersConfig contains header validation limits
type HeadersConfig struct {
	MaxBytes        int
	MaxAuthSubjects int
}

// StorageConfig contains token store configuration
type StorageConfig struct {
	Type          string // "bbolt", "etcd", "postgres"
	Path          string
	EtcdEndpoints []string
	EtcdPrefix    string
	PostgresDSN   string
}

// Backend returns the storage backend configuration
func (s StorageConfig) Backend() storage.Config {
	return storage.Config{
		Type: s.Type,
		Path: s.Path,
		Etcd: storage.EtcdConfig{
			Endpoints: s.EtcdEndpoints,
			KeyPrefix: s.EtcdPrefix,
		},
		Postgres: storage.PostgresConfig{
			ConnectionString: s.PostgresDSN,
		},
	}
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string // "debug", "info", "warn", "error"
	Format     string // "json", "text"
	OutputPath string
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool
	Path    string
	Port    int
}

// TracingConfig contains OpenTelemetry configuration. Tracing export is
// disabled when Endpoint is empty.
type TracingConfig struct {
	ServiceName  string
	Endpoint     string
	Protocol     string // "grpc", "http"
	SamplingRate float64
	Insecure     bool
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address:           getEnv("AUTHGATE_SERVER_ADDRESS", "0.0.0.0"),
			Port:              getEnvInt("AUTHGATE_SERVER_PORT", defaultServerPort),
			ReadTimeout:       getEnvDuration("AUTHGATE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:      getEnvDuration("AUTHGATE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:       getEnvDuration("AUTHGATE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout:   getEnvDuration("AUTHGATE_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			TLSEnabled:        getEnvBool("AUTHGATE_TLS_ENABLED", false),
			TLSCertFile:       getEnv("AUTHGATE_TLS_CERT_FILE", ""),
			TLSKeyFile:        getEnv("AUTHGATE_TLS_KEY_FILE", ""),
			TLSCACertFile:     getEnv("AUTHGATE_TLS_CA_CERT_FILE", ""),
			RequireClientCert: getEnvBool("AUTHGATE_TLS_REQUIRE_CLIENT_CERT", false),
		},
		Auth: AuthConfig{
			Providers: getEnvSlice("AUTHGATE_AUTH_PROVIDERS", []string{ProviderStatic}),
			OIDC: OIDCConfig{
				Issuer:      getEnv("AUTHGATE_OIDC_ISSUER", ""),
				ClientID:    getEnv("AUTHGATE_OIDC_CLIENT_ID", ""),
				UserIDClaim: getEnv("AUTHGATE_OIDC_USER_ID_CLAIM", "sub"),
				UserInfo:    getEnvBool("AUTHGATE_OIDC_USERINFO", false),
			},
			JWT: JWTConfig{
				Secret:    getEnv("AUTHGATE_JWT_SECRET", ""),
				Issuer:    getEnv("AUTHGATE_JWT_ISSUER", ""),
				Audience:  getEnv("AUTHGATE_JWT_AUDIENCE", ""),
				UserClaim: getEnv("AUTHGATE_JWT_USER_CLAIM", "sub"),
			},
			SPIFFE: SPIFFEConfig{
				TrustDomain:    getEnv("AUTHGATE_SPIFFE_TRUST_DOMAIN", ""),
				BundlePaths:    getEnvSlice("AUTHGATE_SPIFFE_BUNDLE_PATHS", nil),
				WorkloadSocket: getEnv("AUTHGATE_SPIFFE_WORKLOAD_SOCKET", ""),
			},
		},
		Headers: HeadersConfig{
			MaxBytes:        getEnvInt("AUTHGATE_HEADERS_MAX_BYTES", defaultMaxHeaderBytes),
			MaxAuthSubjects: getEnvInt("AUTHGATE_HEADERS_MAX_AUTH_SUBJECTS", defaultMaxAuthSubjects),
		},
		Storage: StorageConfig{
			Type:          getEnv("AUTHGATE_STORAGE_TYPE", storage.TypeBolt),
			Path:          getEnv("AUTHGATE_TOKEN_STORE_PATH", "./data/authgate.db"),
			EtcdEndpoints: getEnvSlice("AUTHGATE_ETCD_ENDPOINTS", nil),
			EtcdPrefix:    getEnv("AUTHGATE_ETCD_PREFIX", ""),
			PostgresDSN:   getEnv("AUTHGATE_POSTGRES_DSN", ""),
		},
		Logging: LoggingConfig{
			Level:      getEnv("AUTHGATE_LOG_LEVEL", "info"),
			Format:     getEnv("AUTHGATE_LOG_FORMAT", "json"),
			OutputPath: getEnv("AUTHGATE_LOG_OUTPUT", ""),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("AUTHGATE_METRICS_ENABLED", true),
			Path:    getEnv("AUTHGATE_METRICS_PATH", "/metrics"),
			Port:    getEnvInt("AUTHGATE_METRICS_PORT", defaultMetricsPort),
		},
		Tracing: TracingConfig{
			ServiceName:  getEnv("AUTHGATE_TRACING_SERVICE_NAME", "authgate"),
			Endpoint:     getEnv("AUTHGATE_TRACING_ENDPOINT", ""),
			Protocol:     getEnv("AUTHGATE_TRACING_PROTOCOL", "grpc"),
			SamplingRate: getEnvFloat("AUTHGATE_TRACING_SAMPLE_RATE", 1.0),
			Insecure:     getEnvBool("AUTHGATE_TRACING_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// HasProvider reports whether the named provider is enabled
func (c *Config) HasProvider(name string) bool {
	for _, p := range c.Auth.Providers {
		if p == name {
			return true
		}
	}
	return false
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > maxPort {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > maxPort) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertFile == "" {
			return fmt.Errorf("TLS enabled but cert file not specified")
		}
		if c.Server.TLSKeyFile == "" {
			return fmt.Errorf("TLS enabled but key file not specified")
		}
		if c.Server.RequireClientCert && c.Server.TLSCACertFile == "" {
			return fmt.Errorf("client cert required but CA cert file not specified")
		}
	}

	if len(c.Auth.Providers) == 0 {
		return fmt.Errorf("at least one authentication provider is required")
	}
	for _, p := range c.Auth.Providers {
		if !knownProviders[p] {
			return fmt.Errorf("unknown authentication provider: %s", p)
		}
	}

	if (c.HasProvider(ProviderMTLS) || c.HasProvider(ProviderSPIFFE)) && !c.Server.TLSEnabled {
		return fmt.Errorf("certificate based providers require TLS to be enabled")
	}
	if c.HasProvider(ProviderSPIFFE) && c.Auth.SPIFFE.TrustDomain == "" {
		return fmt.Errorf("spiffe provider requires a trust domain")
	}
	if c.HasProvider(ProviderOIDC) && (c.Auth.OIDC.Issuer == "" || c.Auth.OIDC.ClientID == "") {
		return fmt.Errorf("oidc provider requires issuer and client ID")
	}
	if c.HasProvider(ProviderJWT) && c.Auth.JWT.Secret == "" {
		return fmt.Errorf("jwt provider requires a secret")
	}
	if c.HasProvider(ProviderStatic) {
		if err := c.Storage.validate(); err != nil {
			return err
		}
	}

	if c.Headers.MaxBytes <= 0 {
		return fmt.Errorf("invalid header size limit: %d", c.Headers.MaxBytes)
	}
	if c.Headers.MaxAuthSubjects <= 0 {
		return fmt.Errorf("invalid authorization subject limit: %d", c.Headers.MaxAuthSubjects)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1, got %v", c.Tracing.SamplingRate)
	}
	if c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		return fmt.Errorf("unsupported tracing protocol: %s", c.Tracing.Protocol)
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Split by comma
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part != "" {
				result = append(result, part)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (s StorageConfig) validate() error {
	switch s.Type {
	case storage.TypeBolt:
		if s.Path == "" {
			return fmt.Errorf("static provider requires a token store path")
		}
	case storage.TypeEtcd:
		if len(s.EtcdEndpoints) == 0 {
			return fmt.Errorf("etcd token store requires endpoints")
		}
	case storage.TypePostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("postgres token store requires a DSN")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", s.Type)
	}
	return nil
}
