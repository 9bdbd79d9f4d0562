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

// Package headers provides the ordered, case-insensitive header map that carries
// correlation and authentication metadata through the gateway.
package headers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Well-known header keys
const (
	CorrelationID         = "correlation-id"
	AuthorizationSubjects = "authorization-subjects"
	PreAuthenticated      = "x-pre-authenticated"
	TraceParent           = "traceparent"

	// inboundCorrelationID is accepted from clients as an alias of CorrelationID
	inboundCorrelationID = "x-correlation-id"
	subjectSeparator     = ","
)

// excluded lists inbound headers that never enter the map. Providers read
// credentials from the request itself, and hop-by-hop headers describe the
// connection rather than the request.
var excluded = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"x-api-token":         {},
	"cookie":              {},
	"connection":          {},
	"keep-alive":          {},
	"proxy-connection":    {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

type entry struct {
	key   string
	value string
}

// Map is an immutable, insertion-ordered header map with lower-cased keys.
// The zero value is an empty map.
type Map struct {
	entries []entry
	index   map[string]int
}

// New creates a map from alternating key/value pairs; an odd trailing key is ignored
func New(pairs ...string) *Map {
	m := &Map{}
	for i := 0; i+1 < len(pairs); i += 2 {
		m = m.With(pairs[i], pairs[i+1])
	}
	return m
}

// FromHTTP builds a map from inbound request headers. Only the first value of each
// header is kept, and credential, cookie and hop-by-hop headers are left out. A
// correlation id is generated if the request did not carry one.
func FromHTTP(h http.Header) *Map {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := &Map{}
	for _, k := range keys {
		values := h[k]
		if len(values) == 0 {
			continue
		}
		key := strings.ToLower(k)
		if _, skip := excluded[key]; skip {
			continue
		}
		if key == inboundCorrelationID {
			key = CorrelationID
		}
		m = m.With(key, values[0])
	}

	if m.CorrelationID() == "" {
		m = m.With(CorrelationID, uuid.NewString())
	}

	return m
}

// Get returns the value stored under key
func (m *Map) Get(key string) (string, bool) {
	if m == nil || m.index == nil {
		return "", false
	}
	i, ok := m.index[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	return m.entries[i].value, true
}

// Value returns the value stored under key or an empty string
func (m *Map) Value(key string) string {
	v, _ := m.Get(key)
	return v
}

// With returns a copy of m with key set to value. An existing key keeps its position.
func (m *Map) With(key, value string) *Map {
	key = strings.ToLower(key)
	out := m.clone()
	if i, ok := out.index[key]; ok {
		out.entries[i].value = value
		return out
	}
	out.index[key] = len(out.entries)
	out.entries = append(out.entries, entry{key: key, value: value})
	return out
}

// Without returns a copy of m without key
func (m *Map) Without(key string) *Map {
	key = strings.ToLower(key)
	out := &Map{index: make(map[string]int)}
	if m == nil {
		return out
	}
	for _, e := range m.entries {
		if e.key == key {
			continue
		}
		out.index[e.key] = len(out.entries)
		out.entries = append(out.entries, e)
	}
	return out
}

// Keys returns the keys in insertion order
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of entries
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// ByteSize returns the summed length of all keys and values
func (m *Map) ByteSize() int {
	if m == nil {
		return 0
	}
	size := 0
	for _, e := range m.entries {
		size += len(e.key) + len(e.value)
	}
	return size
}

// ToMap returns a plain map copy, e.g. for use as a propagation carrier
func (m *Map) ToMap() map[string]string {
	out := make(map[string]string, m.Len())
	if m == nil {
		return out
	}
	for _, e := range m.entries {
		out[e.key] = e.value
	}
	return out
}

// CorrelationID returns the correlation id or an empty string
func (m *Map) CorrelationID() string {
	return m.Value(CorrelationID)
}

// Subjects returns the authorization subjects carried in the map
func (m *Map) Subjects() []string {
	raw := m.Value(AuthorizationSubjects)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, subjectSeparator)
	subjects := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			subjects = append(subjects, p)
		}
	}
	return subjects
}

// WithSubjects returns a copy of m carrying the given authorization subjects
func (m *Map) WithSubjects(subjects ...string) *Map {
	return m.With(AuthorizationSubjects, strings.Join(subjects, subjectSeparator))
}

func (m *Map) clone() *Map {
	out := &Map{index: make(map[string]int)}
	if m == nil {
		return out
	}
	out.entries = make([]entry, len(m.entries), len(m.entries)+1)
	copy(out.entries, m.entries)
	for k, v := range m.index {
		out.index[k] = v
	}
	return out
}
