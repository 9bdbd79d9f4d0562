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

// Package health reports gateway readiness from named component checks.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// defaultCheckTimeout bounds a full readiness check
const defaultCheckTimeout = 5 * time.Second

// Status represents the health status of a component
type Status string

const (
	// StatusHealthy indicates the component is healthy
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component failed but is not required
	StatusDegraded Status = "degraded"
)

// Pinger is implemented by dependencies that can report availability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping implements Pinger
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Report is the result of a readiness check
type Report struct {
	Status     Status               `json:"status"`
	Timestamp  time.Time            `json:"timestamp"`
	Components map[string]Component `json:"components,omitempty"`
}

// Component is the result of a single check
type Component struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type check struct {
	pinger   Pinger
	required bool
}

// Checker runs the registered checks concurrently
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]check
	timeout time.Duration
}

// NewChecker creates a checker with no checks, which always reports healthy
func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]check),
		timeout: defaultCheckTimeout,
	}
}

// Register adds a check. A failing required check makes the report unhealthy,
// a failing optional one degraded.
func (c *Checker) Register(name string, pinger Pinger, required bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check{pinger: pinger, required: required}
}

// Names returns the registered check names in sorted order
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check
func (c *Checker) Check(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	checks := make(map[string]check, len(c.checks))
	for name, chk := range c.checks {
		checks[name] = chk
	}
	c.mu.RUnlock()

	report := &Report{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]Component, len(checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, chk := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			component := run(ctx, chk)

			mu.Lock()
			defer mu.Unlock()
			report.Components[name] = component
			report.Status = worst(report.Status, component.Status)
		}()
	}
	wg.Wait()

	return report
}

func run(ctx context.Context, chk check) Component {
	if err := chk.pinger.Ping(ctx); err != nil {
		status := StatusDegraded
		if chk.required {
			status = StatusUnhealthy
		}
		return Component{Status: status, Message: err.Error()}
	}
	return Component{Status: StatusHealthy}
}

func worst(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
