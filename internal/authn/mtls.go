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

	"github.com/Gosayram/authgate/internal/gatewayerr"
)

// certTimeLayout formats certificate validity bounds in identity metadata
const certTimeLayout = "2006-01-02T15:04:05Z"

// MTLSProvider implements mTLS certificate-based authentication
type MTLSProvider struct{}

// NewMTLSProvider creates a new mTLS authentication provider
func NewMTLSProvider() *MTLSProvider {
	return &MTLSProvider{}
}

// Name implements Provider
func (m *MTLSProvider) Name() string {
	return "mtls"
}

// IsApplicable implements Provider
func (m *MTLSProvider) IsApplicable(r *http.Request) bool {
	return hasPeerCertificate(r)
}

// Authenticate authenticates from the verified client certificate
//
//nolint:revive // ctx parameter is required by Provider interface
func (m *MTLSProvider) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	if !hasPeerCertificate(r) {
		return nil, gatewayerr.AuthenticationFailed("No client certificate was provided.").
			WithCause(fmt.Errorf("no client certificate: %w", ErrUnauthorized))
	}

	cert := r.TLS.PeerCertificates[0]

	return &Identity{
		ID:   extractIdentityFromCert(cert),
		Type: "mtls",
		Metadata: map[string]string{
			"cn":         cert.Subject.CommonName,
			"serial":     cert.SerialNumber.String(),
			"issuer":     cert.Issuer.String(),
			"not_before": cert.NotBefore.Format(certTimeLayout),
			"not_after":  cert.NotAfter.Format(certTimeLayout),
		},
	}, nil
}

// extractIdentityFromCert extracts identity from certificate
func extractIdentityFromCert(cert *x509.Certificate) string {
	// Try Subject Alternative Name (SAN) first
	if len(cert.DNSNames) > 0 {
		return cert.DNSNames[0]
	}

	if len(cert.EmailAddresses) > 0 {
		return cert.EmailAddresses[0]
	}

	if len(cert.IPAddresses) > 0 {
		return cert.IPAddresses[0].String()
	}

	if cert.Subject.CommonName != "" {
		return cert.Subject.CommonName
	}

	// Last resort: use serial number
	return cert.SerialNumber.String()
}
