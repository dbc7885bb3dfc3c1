// Package interfaces defines health and metrics types for monitoring
package interfaces

import (
	"context"
	"time"
)

// ComponentType names a system component for health reporting
type ComponentType string

// ComponentType constants for the components the server aggregates
const (
	ComponentStateStore ComponentType = "state_store"
	ComponentRunQueue   ComponentType = "run_queue"
	ComponentRunTracker ComponentType = "run_tracker"
	ComponentWorkerPool ComponentType = "worker_pool"
	ComponentLocker     ComponentType = "environment_locker"
)

// HealthChecker is implemented by components that can report health
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthStatus represents the overall health status
type HealthStatus string

const (
	// HealthStatusHealthy indicates the system is operating normally
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded indicates the system has issues but is functional
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy indicates the system is not functioning properly
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// SystemMetrics provides metrics about the overall system
type SystemMetrics struct {
	RunsProcessed     int64
	RunsSucceeded     int64
	RunsFailed        int64
	RunsCanceled      int64
	StepsRetried      int64
	JobsFailed        int64
	AverageRunTime    time.Duration
	CurrentQueueDepth int
	ActiveWorkers     int
	SystemUptime      time.Duration
}
