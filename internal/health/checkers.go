package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/circuitbreaker"
)

// RedisHealthChecker checks Redis connectivity
type RedisHealthChecker struct {
	client  redis.UniversalClient
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client redis.UniversalClient, wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:  client,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "redis",
		Critical:  true,
		Timestamp: startTime,
	}

	// Check circuit breaker state
	if r.wrapper != nil && r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	// Try to ping Redis
	err := r.client.Ping(ctx).Err()
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	// Check if degraded (high latency)
	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}

	return result
}

// DatabaseHealthChecker checks PostgreSQL connectivity
type DatabaseHealthChecker struct {
	db      *sql.DB
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(db *sql.DB, wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		db:      db,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "database",
		Critical:  true,
		Timestamp: startTime,
	}

	// Check circuit breaker state
	if d.wrapper != nil && d.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Database circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	// Try to ping database
	err := d.db.PingContext(ctx)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	// Get connection stats
	stats := d.db.Stats()

	// Check for connection pool issues
	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	} else if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
		"circuit_breaker_open": false,
	}

	return result
}

// TaskQueueHealthChecker probes the task queue's worker pool, grounded on
// SPEC_FULL §10.6 ("task-queue worker liveness"). isRunning and
// runningCount are closures over a *taskqueue.Queue so this package stays
// free of a dependency on internal/taskqueue.
type TaskQueueHealthChecker struct {
	isRunning    func() bool
	runningCount func() int
	logger       *zap.Logger
	timeout      time.Duration
}

// NewTaskQueueHealthChecker creates a task queue health checker.
func NewTaskQueueHealthChecker(isRunning func() bool, runningCount func() int, logger *zap.Logger) *TaskQueueHealthChecker {
	return &TaskQueueHealthChecker{
		isRunning:    isRunning,
		runningCount: runningCount,
		logger:       logger,
		timeout:      5 * time.Second,
	}
}

func (t *TaskQueueHealthChecker) Name() string           { return "task_queue" }
func (t *TaskQueueHealthChecker) IsCritical() bool       { return true }
func (t *TaskQueueHealthChecker) Timeout() time.Duration { return t.timeout }

func (t *TaskQueueHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "task_queue",
		Critical:  true,
		Timestamp: startTime,
	}

	running := t.isRunning()
	result.Duration = time.Since(startTime)

	if !running {
		result.Status = StatusUnhealthy
		result.Message = "task queue worker loop is not running"
		result.Details = map[string]interface{}{"running": false}
		return result
	}

	result.Status = StatusHealthy
	result.Message = "task queue healthy"
	result.Details = map[string]interface{}{
		"running":        true,
		"running_count":  t.runningCount(),
		"latency_ms":     result.Duration.Milliseconds(),
	}
	return result
}

// StreamingCoreHealthChecker probes the streaming Core's background cleanup
// loop, grounded on SPEC_FULL §10.6 ("streaming-core cleanup-loop
// liveness"). cleanupAlive reports whether the loop has ticked within the
// expected interval.
type StreamingCoreHealthChecker struct {
	cleanupAlive func() bool
	logger       *zap.Logger
	timeout      time.Duration
}

// NewStreamingCoreHealthChecker creates a streaming core health checker.
func NewStreamingCoreHealthChecker(cleanupAlive func() bool, logger *zap.Logger) *StreamingCoreHealthChecker {
	return &StreamingCoreHealthChecker{
		cleanupAlive: cleanupAlive,
		logger:       logger,
		timeout:      5 * time.Second,
	}
}

func (s *StreamingCoreHealthChecker) Name() string           { return "streaming_core" }
func (s *StreamingCoreHealthChecker) IsCritical() bool       { return true }
func (s *StreamingCoreHealthChecker) Timeout() time.Duration { return s.timeout }

func (s *StreamingCoreHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "streaming_core",
		Critical:  true,
		Timestamp: startTime,
	}

	alive := s.cleanupAlive()
	result.Duration = time.Since(startTime)

	if !alive {
		result.Status = StatusDegraded
		result.Message = "streaming core cleanup loop has not ticked recently"
		result.Details = map[string]interface{}{"cleanup_alive": false}
		return result
	}

	result.Status = StatusHealthy
	result.Message = "streaming core healthy"
	result.Details = map[string]interface{}{"cleanup_alive": true, "latency_ms": result.Duration.Milliseconds()}
	return result
}

// LLMServiceHealthChecker checks LLM service HTTP endpoint
type LLMServiceHealthChecker struct {
	baseURL string
	logger  *zap.Logger
	timeout time.Duration
}

// NewLLMServiceHealthChecker creates an LLM service health checker
func NewLLMServiceHealthChecker(baseURL string, logger *zap.Logger) *LLMServiceHealthChecker {
	return &LLMServiceHealthChecker{
		baseURL: baseURL,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (l *LLMServiceHealthChecker) Name() string           { return "llm_service" }
func (l *LLMServiceHealthChecker) IsCritical() bool       { return false } // Non-critical, can fallback
func (l *LLMServiceHealthChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMServiceHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "llm_service",
		Critical:  false,
		Timestamp: startTime,
	}

	// For now, implement a simple check
	// In a real implementation, you'd make an HTTP call to the health endpoint
	result.Duration = time.Since(startTime)
	result.Status = StatusHealthy
	result.Message = "LLM service assumed healthy (not implemented)"

	result.Details = map[string]interface{}{
		"base_url":   l.baseURL,
		"latency_ms": result.Duration.Milliseconds(),
		"note":       "Health check not fully implemented",
	}

	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
