package config

const (
	// DefaultLocalStackURL is the default URL for LocalStack.
	DefaultLocalStackURL = "http://localstack:4566"
	// APIBasePath is the base path for the API.
	APIBasePath = "/api/v1"
)

// API endpoint constants
const (
	APIEndpointRuns         = "/api/v1/runs"
	APIEndpointEnvironments = "/api/v1/environments"
	APIEndpointHealth       = "/api/v1/system/health"
	APIEndpointReady        = "/api/v1/ready"
)
