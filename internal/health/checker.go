// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ReadinessChecker is a dependency that can report whether it is usable.
// The job store and the queue both implement it.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker runs named readiness checks against dependencies.
type Checker struct {
	checks   map[string]ReadinessChecker
	timeout  time.Duration
	cacheTTL time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a health checker over the given named dependencies.
func NewChecker(checks map[string]ReadinessChecker) *Checker {
	return &Checker{
		checks:   checks,
		timeout:  5 * time.Second,
		cacheTTL: time.Second,
	}
}

// Liveness reports that the process is up. It never touches dependencies;
// failing it should trigger a restart.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks every dependency concurrently. Any failing check makes the
// service unready; failing it should remove the instance from rotation.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent (avoid hammering the database and broker)
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheTTL {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.check(ctx, c.checks[name])
		}()
	}
	wg.Wait()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(names))}
	if len(names) == 0 {
		response.Status = StatusUnhealthy
		response.Checks["dependencies"] = CheckResult{Status: StatusUnhealthy, Message: "no dependencies configured"}
	}
	for i, name := range names {
		response.Checks[name] = results[i]
		if results[i].Status != StatusHealthy {
			response.Status = StatusUnhealthy
		}
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) check(ctx context.Context, dep ReadinessChecker) CheckResult {
	if dep == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := dep.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil // Clear cache to ensure immediate effect
}
