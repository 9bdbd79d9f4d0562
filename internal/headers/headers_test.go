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

package headers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_CaseInsensitive(t *testing.T) {
	m := New("Correlation-ID", "abc")

	v, ok := m.Get("CORRELATION-id")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
	assert.Equal(t, "abc", m.CorrelationID())
}

func TestMap_Immutable(t *testing.T) {
	original := New("a", "1")
	changed := original.With("b", "2").With("a", "3")

	assert.Equal(t, "1", original.Value("a"))
	assert.Equal(t, 1, original.Len())
	assert.Equal(t, "3", changed.Value("a"))
	assert.Equal(t, []string{"a", "b"}, changed.Keys())
}

func TestMap_Without(t *testing.T) {
	m := New("a", "1", "b", "2", "c", "3").Without("B")

	assert.Equal(t, []string{"a", "c"}, m.Keys())
	_, ok := m.Get("b")
	assert.False(t, ok)
	assert.Equal(t, "3", m.Value("c"))
}

func TestMap_NilSafe(t *testing.T) {
	var m *Map

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.ByteSize())
	assert.Empty(t, m.CorrelationID())
	assert.Equal(t, "x", m.With("k", "x").Value("k"))
}

func TestMap_ByteSize(t *testing.T) {
	m := New("ab", "cde", "f", "")

	assert.Equal(t, 6, m.ByteSize())
}

func TestMap_Subjects(t *testing.T) {
	m := New().WithSubjects("oidc:alice", "token:ci")

	assert.Equal(t, "oidc:alice,token:ci", m.Value(AuthorizationSubjects))
	assert.Equal(t, []string{"oidc:alice", "token:ci"}, m.Subjects())
	assert.Nil(t, New().Subjects())
}

func TestFromHTTP(t *testing.T) {
	tests := []struct {
		name          string
		header        http.Header
		correlationID string
	}{
		{
			name:          "x-correlation-id alias",
			header:        http.Header{"X-Correlation-Id": []string{"abc"}},
			correlationID: "abc",
		},
		{
			name:          "correlation-id header",
			header:        http.Header{"Correlation-Id": []string{"def"}},
			correlationID: "def",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := FromHTTP(tt.header)
			assert.Equal(t, tt.correlationID, m.CorrelationID())
		})
	}
}

func TestFromHTTP_GeneratesCorrelationID(t *testing.T) {
	m := FromHTTP(http.Header{"Accept": []string{"application/json"}})

	assert.NotEmpty(t, m.CorrelationID())
	assert.Equal(t, "application/json", m.Value("accept"))
}

func TestFromHTTP_LeavesOutCredentials(t *testing.T) {
	m := FromHTTP(http.Header{
		"Authorization":       []string{"Bearer abc"},
		"X-Api-Token":         []string{"secret"},
		"Cookie":              []string{"session=xyz"},
		"Connection":          []string{"keep-alive"},
		"Transfer-Encoding":   []string{"chunked"},
		"X-Correlation-Id":    []string{"abc"},
		"X-Pre-Authenticated": []string{"nginx:alice"},
	})

	assert.Equal(t, []string{CorrelationID, PreAuthenticated}, m.Keys())
	assert.Equal(t, "abc", m.CorrelationID())
	assert.Equal(t, "nginx:alice", m.Value(PreAuthenticated))
}
