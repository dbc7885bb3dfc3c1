package testutil

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// CreateTestRun creates a queued deploy run with reasonable defaults
func CreateTestRun(id string) *interfaces.PipelineRun {
	return &interfaces.PipelineRun{
		ID:        id,
		Status:    interfaces.RunStatusQueued,
		CreatedAt: time.Now(),
		Request: &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationDeploy,
			AutoApprove: true,
			Parameters: map[string]string{
				"region": "us-east-1",
			},
		},
	}
}

// CreateTestRunForEnvironment creates a queued run for a specific environment
func CreateTestRunForEnvironment(id, environment string) *interfaces.PipelineRun {
	run := CreateTestRun(id)
	run.Request.Environment = environment
	return run
}

// ParseRedisOpt parses a Redis URL into asynq connection options.
// Format: redis://host:port/db
func ParseRedisOpt(t *testing.T, redisURL string) asynq.RedisConnOpt {
	t.Helper()

	url := strings.TrimPrefix(redisURL, "redis://")
	parts := strings.Split(url, "/")
	addr := parts[0]

	db := 0
	if len(parts) > 1 && parts[1] != "" {
		var err error
		db, err = strconv.Atoi(parts[1])
		if err != nil {
			t.Fatalf("invalid database number in redis URL %s: %v", redisURL, err)
		}
	}

	return asynq.RedisClientOpt{Addr: addr, DB: db}
}
