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
	"crypto/x509"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

const defaultWorkloadSocket = "unix:///tmp/spire-agent/public/api.sock"

// SPIFFEProvider implements SPIFFE-based authentication using X.509 SVIDs
type SPIFFEProvider struct {
	trustDomain spiffeid.TrustDomain
	bundle      *x509bundle.Bundle
}

// SPIFFEConfig holds configuration for SPIFFE authentication
type SPIFFEConfig struct {
	TrustDomain string
	BundlePaths []string
	// WorkloadAPI socket address, defaults to the SPIRE agent socket
	WorkloadSocket string
}

// NewSPIFFEProvider creates a new SPIFFE authentication provider
func NewSPIFFEProvider(ctx context.Context, config *SPIFFEConfig) (*SPIFFEProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("SPIFFE config cannot be nil")
	}

	if config.TrustDomain == "" {
		return nil, fmt.Errorf("trust domain is required")
	}

	trustDomain, err := spiffeid.TrustDomainFromString(config.TrustDomain)
	if err != nil {
		return nil, fmt.Errorf("invalid trust domain: %w", err)
	}

	provider := &SPIFFEProvider{
		trustDomain: trustDomain,
	}

	// Bundle files take precedence over the workload API
	if len(config.BundlePaths) > 0 {
		var loadErr error
		for _, bundlePath := range config.BundlePaths {
			bundle, err := x509bundle.Load(trustDomain, bundlePath)
			if err != nil {
				loadErr = fmt.Errorf("failed to load bundle from %s: %w", bundlePath, err)
				continue
			}
			provider.bundle = bundle
			return provider, nil
		}
		return nil, loadErr
	}

	socket := config.WorkloadSocket
	if socket == "" {
		socket = defaultWorkloadSocket
	}

	client, err := workloadapi.New(ctx, workloadapi.WithAddr(socket))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SPIFFE bundle: %w", err)
	}
	defer client.Close()

	bundles, err := client.FetchX509Bundles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SPIFFE bundle: %w", err)
	}
	bundle, err := bundles.GetX509BundleForTrustDomain(trustDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SPIFFE bundle: %w", err)
	}
	provider.bundle = bundle

	return provider, nil
}

// NewSPIFFEProviderWithBundle creates a provider from an already loaded bundle
func NewSPIFFEProviderWithBundle(bundle *x509bundle.Bundle) *SPIFFEProvider {
	return &SPIFFEProvider{
		trustDomain: bundle.TrustDomain(),
		bundle:      bundle,
	}
}

// Name implements Provider
func (s *SPIFFEProvider) Name() string {
	return "spiffe"
}

// IsApplicable implements Provider. Only client certificates carrying a SPIFFE
// URI SAN are handled.
func (s *SPIFFEProvider) IsApplicable(r *http.Request) bool {
	if !hasPeerCertificate(r) {
		return false
	}
	for _, uri := range r.TLS.PeerCertificates[0].URIs {
		if uri.Scheme == "spiffe" {
			return true
		}
	}
	return false
}

// Authenticate authenticates from HTTP request with SPIFFE SVID
//
//nolint:revive // ctx parameter is required by Provider interface
func (s *SPIFFEProvider) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	if !hasPeerCertificate(r) {
		return nil, gatewayerr.AuthenticationFailed("No client certificate was provided.").
			WithCause(fmt.Errorf("no client certificate: %w", ErrUnauthorized))
	}

	return s.authenticateFromCertificates(r.TLS.PeerCertificates)
}

// authenticateFromCertificates authenticates using the presented X.509 chain
func (s *SPIFFEProvider) authenticateFromCertificates(certs []*x509.Certificate) (*Identity, error) {
	leaf := certs[0]

	var (
		spiffeID spiffeid.ID
		err      error
	)
	if s.bundle != nil {
		spiffeID, _, err = x509svid.Verify(certs, s.bundle)
	} else {
		spiffeID, err = x509svid.IDFromCert(leaf)
	}
	if err != nil {
		return nil, gatewayerr.AuthenticationFailed("The provided SPIFFE SVID is invalid.").
			WithCause(fmt.Errorf("failed to verify SVID: %w", err))
	}

	// Verify the SPIFFE ID belongs to our trust domain
	if spiffeID.TrustDomain() != s.trustDomain {
		return nil, gatewayerr.AuthenticationFailed("The SPIFFE ID belongs to an untrusted trust domain.").
			WithCause(fmt.Errorf("SPIFFE ID trust domain %s does not match expected %s: %w",
				spiffeID.TrustDomain(), s.trustDomain, ErrUnauthorized))
	}

	spiffeIDStr := spiffeID.String()

	metadata := map[string]string{
		"spiffe_id":    spiffeIDStr,
		"trust_domain": s.trustDomain.String(),
		"serial":       leaf.SerialNumber.String(),
		"not_before":   leaf.NotBefore.Format(certTimeLayout),
		"not_after":    leaf.NotAfter.Format(certTimeLayout),
	}

	for i, component := range strings.Split(strings.TrimPrefix(spiffeID.Path(), "/"), "/") {
		if component != "" {
			metadata[fmt.Sprintf("path_%d", i)] = component
		}
	}

	if leaf.Subject.CommonName != "" {
		metadata["cn"] = leaf.Subject.CommonName
	}

	if len(leaf.Subject.Organization) > 0 {
		metadata["organization"] = leaf.Subject.Organization[0]
	}

	return &Identity{
		ID:       spiffeIDStr,
		Type:     "spiffe",
		Metadata: metadata,
	}, nil
}

// GetTrustDomain returns the configured trust domain
func (s *SPIFFEProvider) GetTrustDomain() spiffeid.TrustDomain {
	return s.trustDomain
}
