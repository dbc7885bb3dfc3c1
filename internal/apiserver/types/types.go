// Package types provides API request/response types and the conversions
// between wire shapes and internal run types. Internal types carry error
// values that marshal badly; the views here flatten them to strings.
package types

import (
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// RunSubmission is the POST /runs request body
type RunSubmission struct {
	// RunID is optional. Clients that set it get conflict detection on
	// resubmission, which makes it usable as an idempotency key.
	RunID       string            `json:"run_id,omitempty"`
	Environment string            `json:"environment"`
	Operation   string            `json:"operation"`
	StepOrdinal int               `json:"step_ordinal,omitempty"`
	AutoApprove bool              `json:"auto_approve,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// ToRunRequest converts the submission to the internal request type
func (s *RunSubmission) ToRunRequest() *interfaces.RunRequest {
	return &interfaces.RunRequest{
		Environment: s.Environment,
		Operation:   interfaces.RunOperation(s.Operation),
		StepOrdinal: s.StepOrdinal,
		AutoApprove: s.AutoApprove,
		Parameters:  s.Parameters,
	}
}

// RunView is the wire representation of a run
type RunView struct {
	ID          string            `json:"id"`
	RequestID   string            `json:"request_id,omitempty"`
	Environment string            `json:"environment"`
	Operation   string            `json:"operation"`
	StepOrdinal int               `json:"step_ordinal,omitempty"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Result      *RunResultView    `json:"result,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// RunResultView is the wire representation of a run result
type RunResultView struct {
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Steps       []StepResultView  `json:"steps"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// StepResultView is the wire representation of one step outcome
type StepResultView struct {
	Name     string `json:"name"`
	Ordinal  int    `json:"ordinal"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// NewRunView flattens a PipelineRun for the wire
func NewRunView(run *interfaces.PipelineRun) RunView {
	view := RunView{
		ID:          run.ID,
		RequestID:   run.RequestID,
		Status:      string(run.Status),
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.Request != nil {
		view.Environment = run.Request.Environment
		view.Operation = string(run.Request.Operation)
		view.StepOrdinal = run.Request.StepOrdinal
		view.Parameters = run.Request.Parameters
	}
	if run.LastError != nil {
		view.LastError = run.LastError.Error()
	}
	return view
}

// NewRunResultView flattens a RunResult for the wire
func NewRunResultView(result *interfaces.RunResult) *RunResultView {
	if result == nil {
		return nil
	}
	view := &RunResultView{
		Success:     result.Success,
		Steps:       make([]StepResultView, 0, len(result.Steps)),
		Outputs:     result.Outputs,
		CompletedAt: result.CompletedAt,
	}
	if result.Error != nil {
		view.Error = result.Error.Error()
	}
	for _, step := range result.Steps {
		view.Steps = append(view.Steps, NewStepResultView(step))
	}
	return view
}

// NewStepResultView flattens a StepResult for the wire
func NewStepResultView(step interfaces.StepResult) StepResultView {
	view := StepResultView{
		Name:     step.Name,
		Ordinal:  step.Ordinal,
		Status:   string(step.Status),
		Attempts: step.Attempts,
		Duration: step.Duration.String(),
		Message:  step.Message,
	}
	if step.Error != nil {
		view.Error = step.Error.Error()
	}
	return view
}
