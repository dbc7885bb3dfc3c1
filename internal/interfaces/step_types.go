package interfaces

import (
	"time"
)

// StepStatus represents the status of a single pipeline step
type StepStatus string

// StepStatus constants represent the various states of step execution
const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult captures the outcome of one step execution
type StepResult struct {
	Name     string        `json:"name"`
	Ordinal  int           `json:"ordinal"`
	Status   StepStatus    `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    error         `json:"error,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// PipelinePhase represents the overall state of a pipeline execution
type PipelinePhase string

// PipelinePhase constants for the pipeline state machine
const (
	PipelineNotStarted PipelinePhase = "not_started"
	PipelineRunning    PipelinePhase = "running"
	PipelineSucceeded  PipelinePhase = "succeeded"
	PipelineFailed     PipelinePhase = "failed"
)

// PipelineStatus is a point-in-time view of a pipeline execution.
// CurrentStep is only meaningful while the phase is running or failed.
type PipelineStatus struct {
	Phase       PipelinePhase `json:"phase"`
	CurrentStep int           `json:"current_step"`
	StepName    string        `json:"step_name,omitempty"`
	Steps       []StepResult  `json:"steps"`
}
