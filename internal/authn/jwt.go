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

package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gosayram/authgate/internal/gatewayerr"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds configuration for shared-secret JWT authentication
type JWTConfig struct {
	// Secret is the HMAC key tokens are signed with
	Secret []byte
	// Issuer is the expected iss claim. If empty, issuer is not validated.
	Issuer string
	// Audience is the expected aud claim. If empty, audience is not validated.
	Audience string
	// UserClaim is the claim used as identity ID. Default: "sub".
	UserClaim string
}

// JWTProvider validates HMAC-signed bearer tokens
type JWTProvider struct {
	config JWTConfig
	parser *jwtlib.Parser
}

// NewJWTProvider creates a JWT provider
func NewJWTProvider(config JWTConfig) (*JWTProvider, error) {
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if config.UserClaim == "" {
		config.UserClaim = defaultUserIDClaim
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(config.Audience))
	}

	return &JWTProvider{
		config: config,
		parser: jwtlib.NewParser(opts...),
	}, nil
}

// Name implements Provider
func (j *JWTProvider) Name() string {
	return "jwt"
}

// IsApplicable implements Provider
func (j *JWTProvider) IsApplicable(r *http.Request) bool {
	return looksLikeJWT(bearerToken(r))
}

// Authenticate validates the bearer token signature and claims
//
//nolint:revive // ctx parameter is required by Provider interface
func (j *JWTProvider) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		return nil, fmt.Errorf("no bearer token: %w", ErrUnauthorized)
	}

	claims := jwtlib.MapClaims{}
	_, err := j.parser.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (interface{}, error) {
		return j.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, gatewayerr.TokenExpired().WithCause(fmt.Errorf("%w: %w", ErrTokenExpired, err))
		}
		return nil, gatewayerr.InvalidToken().WithCause(fmt.Errorf("%w: %w", ErrInvalidToken, err))
	}

	userID, ok := claims[j.config.UserClaim].(string)
	if !ok || userID == "" {
		return nil, gatewayerr.InvalidToken().
			WithCause(fmt.Errorf("user claim %q not found or invalid", j.config.UserClaim))
	}

	metadata := make(map[string]string)
	for key, value := range claims {
		switch v := value.(type) {
		case string:
			metadata[key] = v
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			metadata[key] = strings.Join(parts, " ")
		}
	}

	return &Identity{
		ID:       userID,
		Type:     "jwt",
		Metadata: metadata,
	}, nil
}
