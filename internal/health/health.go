/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package health runs health checks against an open SecureDB database.

STATUS VALUES:
==============
  - healthy: All checks pass
  - degraded: Some non-critical checks fail
  - unhealthy: Critical checks fail

CHECKS:
=======
  - store: the store is readable and the persisted metadata is intact
  - nonce_headroom: enough counter values remain before exhaustion
  - decryption: no entry has failed authentication this session
*/
package health

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"securedb/internal/logging"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// DefaultHeadroom is the remaining counter space below which the
// nonce_headroom check reports degraded.
const DefaultHeadroom uint64 = 1 << 32

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_us"`
}

// Report is the outcome of running every registered check.
type Report struct {
	Status    Status        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Check is a function that performs a health check.
type Check func() CheckResult

// Checker manages health checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	version string
	logger  *logging.Logger
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		version: version,
		logger:  logging.NewLogger("health"),
	}
}

// RegisterCheck registers a health check, replacing any with the same name.
func (c *Checker) RegisterCheck(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// RunChecks runs all registered checks in name order.
func (c *Checker) RunChecks() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
		Checks:    make([]CheckResult, 0, len(names)),
	}

	for _, name := range names {
		start := time.Now()
		result := c.checks[name]()
		result.Name = name
		result.Latency = time.Since(start).Microseconds()
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
			c.logger.Warn("Health check failed", "check", name, "message", result.Message)
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
			c.logger.Warn("Health check degraded", "check", name, "message", result.Message)
		}
	}

	return report
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	return c.RunChecks().Status == StatusHealthy
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Common health checks

// StoreCheck creates a store health check. Any error is critical.
func StoreCheck(checkFn func() error) Check {
	return func() CheckResult {
		if err := checkFn(); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: err.Error(),
			}
		}
		return CheckResult{
			Status: StatusHealthy,
		}
	}
}

// NonceHeadroomCheck reports degraded once fewer than headroom counter
// values remain, and unhealthy when the counter is exhausted.
func NonceHeadroomCheck(counterFn func() (uint64, error), headroom uint64) Check {
	return func() CheckResult {
		counter, err := counterFn()
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		remaining := math.MaxUint64 - counter
		message := fmt.Sprintf("counter %d, %d remaining", counter, remaining)
		switch {
		case remaining == 0:
			return CheckResult{Status: StatusUnhealthy, Message: "nonce counter exhausted"}
		case remaining < headroom:
			return CheckResult{Status: StatusDegraded, Message: message}
		default:
			return CheckResult{Status: StatusHealthy, Message: message}
		}
	}
}

// DecryptionCheck reports degraded when entries have failed
// authentication, which usually means a wrong key or tampering.
func DecryptionCheck(failuresFn func() uint64) Check {
	return func() CheckResult {
		if n := failuresFn(); n > 0 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d entries failed authentication", n),
			}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
