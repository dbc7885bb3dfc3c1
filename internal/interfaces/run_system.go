package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrRunAlreadyQueued is returned when a run with the same ID is
// already waiting in the queue
var ErrRunAlreadyQueued = errors.New("run is already queued")

// RunTracker manages the state and metadata of pipeline runs.
// It provides run registration, status tracking, and result storage.
type RunTracker interface {
	Register(run *PipelineRun) error
	GetByID(runID string) (*PipelineRun, error)
	GetStatus(runID string) (*RunStatus, error)
	SetStatus(runID string, status RunStatus) error
	GetResult(runID string) (*RunResult, error)
	SetResult(runID string, result *RunResult) error
	// Heartbeat records liveness for a running run; the stale-run
	// monitor uses it to detect abandoned work
	Heartbeat(runID string, at time.Time) error
	List(filter RunFilter) ([]*PipelineRun, error)
	Remove(runID string) error
}

// RunQueue is responsible for enqueueing and canceling pipeline runs.
// It provides a simple, focused interface for queue operations.
type RunQueue interface {
	Enqueue(ctx context.Context, run *PipelineRun) error
	Cancel(ctx context.Context, runID string) error
	GetMetrics() QueueMetrics
}

// WorkerPool manages the lifecycle of background run workers
type WorkerPool interface {
	Start()
	Stop(ctx context.Context) error
}

// QueueCall represents a call to the RunQueue for tracking in mocks
type QueueCall struct {
	Method    string
	RunID     string
	Timestamp time.Time
	Error     error
}
