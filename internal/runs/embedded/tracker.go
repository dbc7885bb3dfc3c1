package embedded

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// Tracker implements interfaces.RunTracker in memory. Terminal runs can
// additionally be appended to a JSON-lines audit log so history
// survives a server restart even though live tracking does not.
type Tracker struct {
	mu      sync.RWMutex
	runs    map[string]*interfaces.PipelineRun
	results map[string]*interfaces.RunResult
	logPath string
	logger  *logging.Logger
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithRunLog appends each run's terminal record to a JSON-lines file
func WithRunLog(path string) TrackerOption {
	return func(t *Tracker) {
		t.logPath = path
	}
}

// NewTracker creates an embedded run tracker
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		runs:    make(map[string]*interfaces.PipelineRun),
		results: make(map[string]*interfaces.RunResult),
		logger:  logging.NewLogger("embedded-tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a new run to the tracker
func (t *Tracker) Register(run *interfaces.PipelineRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	// Store a copy so the caller cannot mutate tracked state
	r := *run
	t.runs[run.ID] = &r
	return nil
}

// GetByID returns a run by its ID
func (t *Tracker) GetByID(runID string) (*interfaces.PipelineRun, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is empty")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	run, exists := t.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	r := *run
	return &r, nil
}

// GetStatus returns the status of a run
func (t *Tracker) GetStatus(runID string) (*interfaces.RunStatus, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is empty")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	run, exists := t.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	status := run.Status
	return &status, nil
}

// SetStatus updates the status of a run and maintains its lifecycle
// timestamps
func (t *Tracker) SetStatus(runID string, status interfaces.RunStatus) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	run, exists := t.runs[runID]
	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	wasTerminal := run.Status.Terminal()
	run.Status = status

	now := time.Now()
	switch status {
	case interfaces.RunStatusQueued:
	case interfaces.RunStatusRunning:
		if run.StartedAt == nil {
			run.StartedAt = &now
		}
	case interfaces.RunStatusSucceeded, interfaces.RunStatusFailed, interfaces.RunStatusCanceled:
		if run.CompletedAt == nil {
			run.CompletedAt = &now
		}
	}

	if !wasTerminal && status.Terminal() {
		t.appendRunLog(run, t.results[runID])
	}
	return nil
}

// GetResult returns the result of a run, or nil when none is stored yet
func (t *Tracker) GetResult(runID string) (*interfaces.RunResult, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is empty")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	result, exists := t.results[runID]
	if !exists {
		return nil, nil
	}
	return copyResult(result), nil
}

// SetResult stores the result of a run and settles its status
func (t *Tracker) SetResult(runID string, result *interfaces.RunResult) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}
	if result == nil {
		return fmt.Errorf("result is nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	run, exists := t.runs[runID]
	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	stored := copyResult(result)
	t.results[runID] = stored

	if result.Error != nil {
		run.LastError = result.Error
	}

	if !run.Status.Terminal() {
		if result.Success {
			run.Status = interfaces.RunStatusSucceeded
		} else {
			run.Status = interfaces.RunStatusFailed
		}
		now := time.Now()
		if run.CompletedAt == nil {
			run.CompletedAt = &now
		}
		t.appendRunLog(run, stored)
	}
	return nil
}

// Heartbeat records worker liveness for a running run
func (t *Tracker) Heartbeat(runID string, at time.Time) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	run, exists := t.runs[runID]
	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}
	run.LastHeartbeat = at
	return nil
}

// List returns runs matching the filter
func (t *Tracker) List(filter interfaces.RunFilter) ([]*interfaces.PipelineRun, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched []*interfaces.PipelineRun
	for _, run := range t.runs {
		if matchesFilter(run, filter) {
			r := *run
			matched = append(matched, &r)
		}
	}
	return matched, nil
}

// Remove deletes a run and its result from the tracker
func (t *Tracker) Remove(runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.runs[runID]; !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	delete(t.runs, runID)
	delete(t.results, runID)
	return nil
}

func matchesFilter(run *interfaces.PipelineRun, filter interfaces.RunFilter) bool {
	if filter.Environment != "" {
		if run.Request == nil || run.Request.Environment != filter.Environment {
			return false
		}
	}

	if len(filter.Status) > 0 {
		matched := false
		for _, status := range filter.Status {
			if run.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if !filter.CreatedAfter.IsZero() && run.CreatedAt.Before(filter.CreatedAfter) {
		return false
	}
	if !filter.CreatedBefore.IsZero() && run.CreatedAt.After(filter.CreatedBefore) {
		return false
	}
	return true
}

func copyResult(result *interfaces.RunResult) *interfaces.RunResult {
	r := interfaces.RunResult{
		RunID:       result.RunID,
		Environment: result.Environment,
		Success:     result.Success,
		Error:       result.Error,
		CompletedAt: result.CompletedAt,
	}
	if result.Steps != nil {
		r.Steps = make([]interfaces.StepResult, len(result.Steps))
		copy(r.Steps, result.Steps)
	}
	if result.Outputs != nil {
		r.Outputs = make(map[string]string, len(result.Outputs))
		for k, v := range result.Outputs {
			r.Outputs[k] = v
		}
	}
	return &r
}

// runLogEntry is one line of the terminal-run audit log
type runLogEntry struct {
	RunID       string     `json:"run_id"`
	Environment string     `json:"environment,omitempty"`
	Operation   string     `json:"operation,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// appendRunLog writes one audit line for a run entering a terminal
// state. Called with the tracker lock held.
func (t *Tracker) appendRunLog(run *interfaces.PipelineRun, result *interfaces.RunResult) {
	if t.logPath == "" {
		return
	}

	entry := runLogEntry{
		RunID:       run.ID,
		Status:      string(run.Status),
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.Request != nil {
		entry.Environment = run.Request.Environment
		entry.Operation = string(run.Request.Operation)
	}
	if result != nil && result.Error != nil {
		entry.Error = result.Error.Error()
	} else if run.LastError != nil {
		entry.Error = run.LastError.Error()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		t.logger.Warnf("failed to encode run log entry for %s: %v", run.ID, err)
		return
	}

	file, err := os.OpenFile(t.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path comes from server configuration
	if err != nil {
		t.logger.Warnf("failed to open run log %s: %v", t.logPath, err)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			t.logger.Warnf("failed to close run log: %v", closeErr)
		}
	}()

	if _, err := file.Write(append(line, '\n')); err != nil {
		t.logger.Warnf("failed to append run log entry for %s: %v", run.ID, err)
	}
}

var _ interfaces.RunTracker = (*Tracker)(nil)
