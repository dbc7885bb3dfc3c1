package interfaces

import (
	"time"
)

// RunID is a strongly-typed pipeline run identifier
type RunID string

// RunOperation identifies which pipeline a run executes
type RunOperation string

// RunOperation constants for the supported pipeline kinds
const (
	OperationDeploy  RunOperation = "deploy"
	OperationDestroy RunOperation = "destroy"
	OperationStep    RunOperation = "step"
)

// RunStatus represents the status of a pipeline run
type RunStatus string

// RunStatus constants represent the various states of a pipeline run
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status is a final state
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	case RunStatusQueued, RunStatusRunning:
		return false
	}
	return false
}

// RunRequest describes the work a pipeline run should perform
type RunRequest struct {
	Environment string            `json:"environment"`
	Operation   RunOperation      `json:"operation"`
	StepOrdinal int               `json:"step_ordinal,omitempty"` // only for OperationStep
	AutoApprove bool              `json:"auto_approve"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// PipelineRun represents a run in the queue
type PipelineRun struct {
	ID          string      `json:"id"`
	RequestID   string      `json:"request_id,omitempty"` // Correlation ID for tracing
	Request     *RunRequest `json:"request"`
	Status      RunStatus   `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	LastError   error       `json:"last_error,omitempty"`

	// Execution tracking
	ProcessingWorkerID string    `json:"processing_worker_id,omitempty"`
	LastHeartbeat      time.Time `json:"last_heartbeat,omitempty"`
}

// RunResult represents the result of a completed pipeline run
type RunResult struct {
	RunID       string            `json:"run_id"`
	Environment string            `json:"environment"`
	Success     bool              `json:"success"`
	Error       error             `json:"error,omitempty"`
	Steps       []StepResult      `json:"steps"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// RunFilter provides filtering options for querying pipeline runs
type RunFilter struct {
	Environment   string
	Status        []RunStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// QueueMetrics provides metrics about the run queue
type QueueMetrics struct {
	TotalEnqueued   int64
	TotalDequeued   int64
	CurrentDepth    int
	AverageWaitTime time.Duration
	OldestRun       time.Time
}
