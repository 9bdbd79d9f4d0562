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
	"net/http"
	"strings"
)

const (
	// authHeaderPartsCount is the expected number of parts in Authorization header (scheme and token)
	authHeaderPartsCount = 2
	// jwtSegments is the number of dot-separated segments of a compact JWS
	jwtSegments = 3
	// apiTokenHeader carries static API tokens
	apiTokenHeader = "X-API-Token"
)

// bearerToken extracts the token from an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", authHeaderPartsCount)
	if len(parts) == authHeaderPartsCount && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// looksLikeJWT reports whether token has the compact JWS shape
func looksLikeJWT(token string) bool {
	return token != "" && strings.Count(token, ".") == jwtSegments-1
}

// hasPeerCertificate reports whether the request was made with a client certificate
func hasPeerCertificate(r *http.Request) bool {
	return r.TLS != nil && len(r.TLS.PeerCertificates) > 0
}
