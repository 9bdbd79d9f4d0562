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
	"fmt"
	"net/http"
	"strings"

	"github.com/Gosayram/authgate/internal/gatewayerr"
	"github.com/Gosayram/authgate/internal/headers"
)

// PreAuthenticatedProvider trusts subjects asserted by a fronting reverse proxy
// in the x-pre-authenticated header, formatted as "issuer:subject[,issuer:subject]".
// It must only be enabled when the gateway is not reachable directly.
type PreAuthenticatedProvider struct{}

// NewPreAuthenticatedProvider creates a new pre-authenticated provider
func NewPreAuthenticatedProvider() *PreAuthenticatedProvider {
	return &PreAuthenticatedProvider{}
}

// Name implements Provider
func (p *PreAuthenticatedProvider) Name() string {
	return "preauth"
}

// IsApplicable implements Provider
func (p *PreAuthenticatedProvider) IsApplicable(r *http.Request) bool {
	return r.Header.Get(headers.PreAuthenticated) != ""
}

// Authenticate implements Provider. The first subject becomes the identity ID and
// every asserted subject becomes an authorization subject.
//
//nolint:revive // ctx parameter is required by Provider interface
func (p *PreAuthenticatedProvider) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	raw := r.Header.Get(headers.PreAuthenticated)

	var subjects []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		issuer, subject, ok := strings.Cut(part, ":")
		if !ok || issuer == "" || subject == "" {
			return nil, gatewayerr.AuthenticationFailed("The pre-authenticated header is malformed.").
				WithDescription("Use the format '<issuer>:<subject>'.").
				WithCause(fmt.Errorf("invalid pre-authenticated subject %q", part))
		}
		subjects = append(subjects, part)
	}

	if len(subjects) == 0 {
		return nil, gatewayerr.AuthenticationFailed("The pre-authenticated header is empty.")
	}

	issuer, subject, _ := strings.Cut(subjects[0], ":")
	return &Identity{
		ID:   subject,
		Type: "pre-authenticated",
		Metadata: map[string]string{
			"issuer":   issuer,
			"subjects": strings.Join(subjects, ","),
		},
		Subjects: subjects,
	}, nil
}
