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
	"sync"
	"time"

	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider implements OIDC/JWT bearer authentication
type OIDCProvider struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	userIDClaim  string
	userInfo     bool
	mu           sync.RWMutex
	tokenCache   map[string]*cachedToken
	cacheTimeout time.Duration
}

// cachedToken stores a validated token with expiration
type cachedToken struct {
	identity  *Identity
	expiresAt time.Time
}

// OIDCConfig contains OIDC provider configuration
type OIDCConfig struct {
	Issuer      string
	ClientID    string
	UserIDClaim string // Claim to use as user ID (default: "sub")
	// UserInfo enriches identities with claims from the userinfo endpoint
	UserInfo bool
}

const (
	// defaultCacheTimeout is the default cache timeout for validated tokens
	defaultCacheTimeout = 5 * time.Minute
	// defaultUserIDClaim is used when no user ID claim is configured
	defaultUserIDClaim = "sub"
)

// NewOIDCProvider creates a new OIDC authentication provider using issuer discovery
func NewOIDCProvider(ctx context.Context, config *OIDCConfig) (*OIDCProvider, error) {
	if config.Issuer == "" {
		return nil, fmt.Errorf("OIDC issuer is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	o := newOIDCProvider(provider.Verifier(&oidc.Config{ClientID: config.ClientID}), config.UserIDClaim)
	o.provider = provider
	o.userInfo = config.UserInfo
	return o, nil
}

// newOIDCProvider creates a provider around an existing verifier
func newOIDCProvider(verifier *oidc.IDTokenVerifier, userIDClaim string) *OIDCProvider {
	if userIDClaim == "" {
		userIDClaim = defaultUserIDClaim
	}
	return &OIDCProvider{
		verifier:     verifier,
		userIDClaim:  userIDClaim,
		tokenCache:   make(map[string]*cachedToken),
		cacheTimeout: defaultCacheTimeout,
	}
}

// Name implements Provider
func (o *OIDCProvider) Name() string {
	return "oidc"
}

// IsApplicable implements Provider
func (o *OIDCProvider) IsApplicable(r *http.Request) bool {
	return looksLikeJWT(bearerToken(r))
}

// Authenticate verifies the bearer JWT and returns identity
func (o *OIDCProvider) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, fmt.Errorf("no bearer token: %w", ErrUnauthorized)
	}

	if identity, ok := o.cached(token); ok {
		return identity, nil
	}

	idToken, err := o.verifier.Verify(ctx, token)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, gatewayerr.TokenExpired().WithCause(fmt.Errorf("%w: %w", ErrTokenExpired, err))
		}
		return nil, gatewayerr.InvalidToken().WithCause(fmt.Errorf("%w: %w", ErrInvalidToken, err))
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	userID, ok := claims[o.userIDClaim].(string)
	if !ok || userID == "" {
		return nil, gatewayerr.InvalidToken().
			WithCause(fmt.Errorf("user ID claim %q not found or invalid", o.userIDClaim))
	}

	metadata := make(map[string]string)
	for key, value := range claims {
		if strValue, ok := value.(string); ok {
			metadata[key] = strValue
		}
	}

	if o.userInfo && o.provider != nil {
		info, err := o.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch user info: %w", err)
		}
		if info.Email != "" {
			metadata["email"] = info.Email
		}
		metadata["email_verified"] = fmt.Sprintf("%t", info.EmailVerified)
	}

	identity := &Identity{
		ID:       userID,
		Type:     "oidc",
		Metadata: metadata,
	}

	expiresAt := idToken.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(o.cacheTimeout)
	}
	o.store(token, identity, expiresAt)

	return identity, nil
}

// cached returns a still valid cached identity for token
func (o *OIDCProvider) cached(token string) (*Identity, bool) {
	o.mu.RLock()
	entry, ok := o.tokenCache[token]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().Before(entry.expiresAt) {
		return entry.identity, true
	}

	o.mu.Lock()
	delete(o.tokenCache, token)
	o.mu.Unlock()
	return nil, false
}

// store caches identity and drops expired entries
func (o *OIDCProvider) store(token string, identity *Identity, expiresAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	for t, entry := range o.tokenCache {
		if now.After(entry.expiresAt) {
			delete(o.tokenCache, t)
		}
	}
	o.tokenCache[token] = &cachedToken{identity: identity, expiresAt: expiresAt}
}
