package distributed

import (
	"errors"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// storedRun is the Redis wire form of a run. Error values are
// flattened to strings because the error interface does not survive a
// JSON round trip.
type storedRun struct {
	ID          string                 `json:"id"`
	RequestID   string                 `json:"request_id,omitempty"`
	Request     *interfaces.RunRequest `json:"request"`
	Status      interfaces.RunStatus   `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
}

func toStoredRun(run *interfaces.PipelineRun) *storedRun {
	stored := &storedRun{
		ID:          run.ID,
		RequestID:   run.RequestID,
		Request:     run.Request,
		Status:      run.Status,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.LastError != nil {
		stored.LastError = run.LastError.Error()
	}
	return stored
}

func (s *storedRun) toRun() *interfaces.PipelineRun {
	run := &interfaces.PipelineRun{
		ID:          s.ID,
		RequestID:   s.RequestID,
		Request:     s.Request,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
	if s.LastError != "" {
		run.LastError = errors.New(s.LastError)
	}
	return run
}

// storedStep is the wire form of a step result
type storedStep struct {
	Name     string                `json:"name"`
	Ordinal  int                   `json:"ordinal"`
	Status   interfaces.StepStatus `json:"status"`
	Attempts int                   `json:"attempts"`
	Duration time.Duration         `json:"duration"`
	Error    string                `json:"error,omitempty"`
	Message  string                `json:"message,omitempty"`
}

// storedResult is the wire form of a run result
type storedResult struct {
	RunID       string            `json:"run_id"`
	Environment string            `json:"environment"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Steps       []storedStep      `json:"steps,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

func toStoredResult(result *interfaces.RunResult) *storedResult {
	stored := &storedResult{
		RunID:       result.RunID,
		Environment: result.Environment,
		Success:     result.Success,
		Outputs:     result.Outputs,
		CompletedAt: result.CompletedAt,
	}
	if result.Error != nil {
		stored.Error = result.Error.Error()
	}
	for _, step := range result.Steps {
		wire := storedStep{
			Name:     step.Name,
			Ordinal:  step.Ordinal,
			Status:   step.Status,
			Attempts: step.Attempts,
			Duration: step.Duration,
			Message:  step.Message,
		}
		if step.Error != nil {
			wire.Error = step.Error.Error()
		}
		stored.Steps = append(stored.Steps, wire)
	}
	return stored
}

func (s *storedResult) toResult() *interfaces.RunResult {
	result := &interfaces.RunResult{
		RunID:       s.RunID,
		Environment: s.Environment,
		Success:     s.Success,
		Outputs:     s.Outputs,
		CompletedAt: s.CompletedAt,
	}
	if s.Error != "" {
		result.Error = errors.New(s.Error)
	}
	for _, wire := range s.Steps {
		step := interfaces.StepResult{
			Name:     wire.Name,
			Ordinal:  wire.Ordinal,
			Status:   wire.Status,
			Attempts: wire.Attempts,
			Duration: wire.Duration,
			Message:  wire.Message,
		}
		if wire.Error != "" {
			step.Error = errors.New(wire.Error)
		}
		result.Steps = append(result.Steps, step)
	}
	return result
}
