package apiserver

import "time"

// Server timeout constants
const (
	// DefaultServerPort is the default port for the API server
	DefaultServerPort = 8080

	// RequestTimeout is the maximum time for processing a request
	RequestTimeout = 60 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout = 15 * time.Second

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout = 15 * time.Second

	// IdleTimeout is the maximum time to wait for the next request
	IdleTimeout = 60 * time.Second

	// HealthCheckTimeout is the timeout for health check requests
	HealthCheckTimeout = 5 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// API version constants
const (
	APIVersion = "v1"
	APIPrefix  = "/api/" + APIVersion
)

// QueueDepthWarningThreshold is the queue depth at which the health
// endpoint reports the queue as degraded
const QueueDepthWarningThreshold = 1000
