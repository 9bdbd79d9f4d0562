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
	"crypto/x509/pkix"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMTLSProvider_Authenticate(t *testing.T) {
	ca := newTestCA(t, "internal CA")
	provider := NewMTLSProvider()

	tests := []struct {
		name   string
		modify func(*x509.Certificate)
		wantID string
	}{
		{
			name: "DNS SAN preferred",
			modify: func(c *x509.Certificate) {
				c.DNSNames = []string{"billing.internal"}
				c.EmailAddresses = []string{"ops@example.org"}
				c.Subject = pkix.Name{CommonName: "billing"}
			},
			wantID: "billing.internal",
		},
		{
			name: "email SAN",
			modify: func(c *x509.Certificate) {
				c.EmailAddresses = []string{"ops@example.org"}
			},
			wantID: "ops@example.org",
		},
		{
			name: "IP SAN",
			modify: func(c *x509.Certificate) {
				c.IPAddresses = []net.IP{net.ParseIP("10.0.0.7")}
			},
			wantID: "10.0.0.7",
		},
		{
			name: "common name",
			modify: func(c *x509.Certificate) {
				c.Subject = pkix.Name{CommonName: "billing"}
			},
			wantID: "billing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := ca.issue(t, tt.modify)
			r := tlsRequest(cert)
			require.True(t, provider.IsApplicable(r))

			identity, err := provider.Authenticate(context.Background(), r)

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, identity.ID)
			assert.Equal(t, "mtls", identity.Type)
			assert.Equal(t, cert.SerialNumber.String(), identity.Metadata["serial"])
			assert.Equal(t, "CN=internal CA", identity.Metadata["issuer"])
		})
	}
}

func TestMTLSProvider_SerialFallback(t *testing.T) {
	cert := newTestCA(t, "internal CA").issue(t, nil)

	identity, err := NewMTLSProvider().Authenticate(context.Background(), tlsRequest(cert))

	require.NoError(t, err)
	assert.Equal(t, cert.SerialNumber.String(), identity.ID)
}

func TestMTLSProvider_NoCertificate(t *testing.T) {
	provider := NewMTLSProvider()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.False(t, provider.IsApplicable(r))

	identity, err := provider.Authenticate(context.Background(), r)
	assert.Nil(t, identity)
	gwErr, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.CodeAuthenticationFailed, gwErr.Code)
}
