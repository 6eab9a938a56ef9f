// Package handlers contains the health checks and reusable middleware of the HTTP API.
package handlers

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coachlab/extension-tracker/pkg/timeutil"
)

// HealthChecker aggregates the state of the service's dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc checks one dependency; nil means healthy.
type HealthCheckFunc func(ctx context.Context) error

const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the aggregated report. Healthy is false only when a
// required check failed; Ready always equals Healthy because the startup
// preload does not gate readiness.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type registeredCheck struct {
	name     string
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker checks all registered dependencies concurrently,
// each under its own timeout.
type CompositeHealthChecker struct {
	mu     sync.RWMutex
	checks map[string]registeredCheck

	version string
	timeout time.Duration
	started time.Time
	now     timeutil.Clock
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:  make(map[string]registeredCheck),
		version: version,
		timeout: 5 * time.Second,
		started: time.Now(),
		now:     timeutil.SystemClock,
	}
}

// SetTimeout bounds each check. Non-positive values are ignored.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

// AddCheck registers a required check; its failure makes the service unhealthy.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.register(registeredCheck{name: name, fn: check})
}

// AddOptionalCheck registers a check whose failure only degrades the service.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.register(registeredCheck{name: name, fn: check, optional: true})
}

func (c *CompositeHealthChecker) register(rc registeredCheck) {
	if rc.fn == nil {
		return
	}
	c.mu.Lock()
	c.checks[rc.name] = rc
	c.mu.Unlock()
}

// snapshot returns the registered checks ordered by name.
func (c *CompositeHealthChecker) snapshot() []registeredCheck {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]registeredCheck, 0, len(c.checks))
	for _, rc := range c.checks {
		out = append(out, rc)
	}
	slices.SortFunc(out, func(a, b registeredCheck) int { return strings.Compare(a.name, b.name) })
	return out
}

func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	checks := c.snapshot()

	status := HealthStatus{
		Status:    StatusOK,
		Healthy:   true,
		Ready:     true,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: c.now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "no health checks registered"
		return status
	}

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, rc := range checks {
		g.Go(func() error {
			results[i] = c.runCheck(ctx, rc)
			return nil
		})
	}
	_ = g.Wait()

	status.Checks = make(map[string]CheckResult, len(checks))
	var failed, degraded []string
	for i, rc := range checks {
		res := results[i]
		status.Checks[rc.name] = res
		switch {
		case res.Healthy:
		case rc.optional:
			degraded = append(degraded, rc.name)
		default:
			failed = append(failed, rc.name)
		}
	}

	switch {
	case len(failed) > 0:
		status.Status = StatusUnhealthy
		status.Healthy, status.Ready = false, false
		status.Message = "checks failed: " + strings.Join(failed, ", ")
	case len(degraded) > 0:
		status.Status = StatusDegraded
		status.Message = "degraded: " + strings.Join(degraded, ", ")
	default:
		status.Message = "all checks passed"
	}
	return status
}

// runCheck runs one check under the per-check timeout. A panicking check
// counts as failed.
func (c *CompositeHealthChecker) runCheck(ctx context.Context, rc registeredCheck) (res CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res = CheckResult{Healthy: true, Optional: rc.optional, Message: "OK"}
	defer func() {
		if p := recover(); p != nil {
			res.Healthy, res.Message = false, "check panicked"
		}
		res.Duration = time.Since(start).Round(time.Millisecond).String()
	}()

	if err := rc.fn(ctx); err != nil {
		res.Healthy, res.Message = false, err.Error()
	}
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is implemented by the database connections and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// AvailabilityChecker is implemented by the source adapters; it reports
// whether their circuit breaker lets requests through.
type AvailabilityChecker interface {
	Available() bool
}

// ErrSourceUnavailable is reported when an adapter's breaker is open.
var ErrSourceUnavailable = errors.New("circuit breaker open")

// NewAvailabilityCheck creates a check from an adapter's breaker state.
func NewAvailabilityCheck(a AvailabilityChecker) HealthCheckFunc {
	return func(context.Context) error {
		if !a.Available() {
			return ErrSourceUnavailable
		}
		return nil
	}
}
