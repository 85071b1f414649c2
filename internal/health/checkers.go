package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
)

const (
	defaultCheckTimeout = 5 * time.Second

	// Above this, a successful ping still reports degraded.
	slowPingThreshold = 100 * time.Millisecond
)

// Pinger is satisfied by db.Client and anything else that answers a
// connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker probes PostgreSQL connectivity
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (d *DatabaseChecker) Name() string           { return "database" }
func (d *DatabaseChecker) IsCritical() bool       { return true }
func (d *DatabaseChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: d.Name(), Critical: true, Timestamp: start}

	err := d.db.Ping(ctx)
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
	case result.Duration > slowPingThreshold:
		result.Status = StatusDegraded
		result.Message = "Database responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}
	return result
}

// RedisChecker probes Redis connectivity
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return false } // event mirroring degrades, jobs still run
func (r *RedisChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: r.Name(), Timestamp: start}

	err := r.client.Ping(ctx).Err()
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
	case result.Duration > slowPingThreshold:
		result.Status = StatusDegraded
		result.Message = "Redis responding with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	return result
}

// TemporalChecker probes the Temporal frontend
type TemporalChecker struct {
	client client.Client
}

func NewTemporalChecker(c client.Client) *TemporalChecker {
	return &TemporalChecker{client: c}
}

func (t *TemporalChecker) Name() string           { return "temporal" }
func (t *TemporalChecker) IsCritical() bool       { return true }
func (t *TemporalChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (t *TemporalChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: t.Name(), Critical: true, Timestamp: start}

	_, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Temporal frontend unreachable"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "Temporal healthy"
	return result
}

// ServiceChecker probes a collaborator service's HTTP health endpoint.
// Used for the LLM and search services.
type ServiceChecker struct {
	name     string
	url      string
	critical bool
	http     *http.Client
}

func NewServiceChecker(name, baseURL string, critical bool) *ServiceChecker {
	return &ServiceChecker{
		name:     name,
		url:      baseURL + "/health",
		critical: critical,
		http:     &http.Client{Timeout: defaultCheckTimeout},
	}
}

func (s *ServiceChecker) Name() string           { return s.name }
func (s *ServiceChecker) IsCritical() bool       { return s.critical }
func (s *ServiceChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (s *ServiceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: s.name, Critical: s.critical, Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	resp, err := s.http.Do(req)
	result.Duration = time.Since(start)
	result.Details = map[string]interface{}{
		"url":        s.url,
		"latency_ms": result.Duration.Milliseconds(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s unreachable", s.name)
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%s returned %d", s.name, resp.StatusCode)
	case resp.StatusCode >= 300:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s returned %d", s.name, resp.StatusCode)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s healthy", s.name)
	}
	return result
}

// CheckFunc adapts a plain function into a Checker
type CheckFunc struct {
	name     string
	critical bool
	fn       func(ctx context.Context) CheckResult
}

func NewCheckFunc(name string, critical bool, fn func(ctx context.Context) CheckResult) *CheckFunc {
	return &CheckFunc{name: name, critical: critical, fn: fn}
}

func (c *CheckFunc) Name() string                          { return c.name }
func (c *CheckFunc) IsCritical() bool                      { return c.critical }
func (c *CheckFunc) Timeout() time.Duration                { return defaultCheckTimeout }
func (c *CheckFunc) Check(ctx context.Context) CheckResult { return c.fn(ctx) }
