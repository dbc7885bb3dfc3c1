// Package runs provides the run lifecycle service shared by the API
// server and the CLI's server mode. It owns run admission: request
// validation, ID assignment, and the register-then-enqueue handoff
// into the queue and tracker.
package runs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// lastStepOrdinal is the highest deploy step a single-step run may name
const lastStepOrdinal = 5

// Service errors surfaced to callers for status mapping
var (
	// ErrRunNotFound means the tracker has no run with the given ID
	ErrRunNotFound = errors.New("run not found")
	// ErrRunNotCancelable means the run has already started or finished
	ErrRunNotCancelable = errors.New("run is not cancelable")
)

// Service coordinates run admission and lookup over the queue and
// tracker
type Service struct {
	queue     interfaces.RunQueue
	tracker   interfaces.RunTracker
	manifest  *config.Manifest
	collector *metrics.Collector
	eventBus  *events.EventBus
	logger    *logging.Logger
}

// ServiceConfig holds the dependencies for the run service. Queue and
// Tracker are required; the rest degrade gracefully when absent.
type ServiceConfig struct {
	Queue     interfaces.RunQueue
	Tracker   interfaces.RunTracker
	Manifest  *config.Manifest
	Collector *metrics.Collector
	EventBus  *events.EventBus
}

// NewService creates a run service from the given dependencies
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queue == nil {
		return nil, errors.New("run queue is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("run tracker is required")
	}
	return &Service{
		queue:     cfg.Queue,
		tracker:   cfg.Tracker,
		manifest:  cfg.Manifest,
		collector: cfg.Collector,
		eventBus:  cfg.EventBus,
		logger:    logging.NewLogger("run-service"),
	}, nil
}

// CreateOptions carries caller-supplied identifiers for a new run
type CreateOptions struct {
	// RunID lets the caller pick the run's ID. Resubmitting the same ID
	// while the first submission is still pending reports a conflict, so
	// clients can use it as an idempotency key. Empty means generate one.
	RunID string
	// RequestID is a correlation ID carried through logs and events
	RequestID string
}

// CreateRun validates the request, registers the run, and enqueues it.
// Registration is rolled back if the enqueue fails so the tracker never
// holds a run the queue will not deliver.
func (s *Service) CreateRun(ctx context.Context, request *interfaces.RunRequest, opts CreateOptions) (*interfaces.PipelineRun, error) {
	if err := s.validateRequest(request); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		generated, err := uuid.GenerateUUID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate run ID: %w", err)
		}
		runID = generated
	}

	run := &interfaces.PipelineRun{
		ID:        runID,
		RequestID: opts.RequestID,
		Request:   request,
		Status:    interfaces.RunStatusQueued,
		CreatedAt: time.Now(),
	}

	if err := s.tracker.Register(run); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, fmt.Errorf("run %s: %w", run.ID, interfaces.ErrRunAlreadyQueued)
		}
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	if err := s.queue.Enqueue(ctx, run); err != nil {
		// The tracker registration is now orphaned; undo it so a retry
		// with the same ID can succeed
		if removeErr := s.tracker.Remove(run.ID); removeErr != nil {
			s.logger.Warnf("Failed to roll back registration for run %s: %v", run.ID, removeErr)
		}
		if errors.Is(err, interfaces.ErrRunAlreadyQueued) {
			return nil, fmt.Errorf("run %s: %w", run.ID, interfaces.ErrRunAlreadyQueued)
		}
		return nil, fmt.Errorf("failed to enqueue run: %w", err)
	}

	if s.collector != nil {
		s.collector.RecordRunQueued(run.ID)
	}
	if s.eventBus != nil {
		s.eventBus.PublishStatusChange(run.ID, interfaces.RunStatusQueued)
	}
	s.logger.Infof("Run %s queued: %s %s", run.ID, run.Request.Operation, run.Request.Environment)

	return run, nil
}

// validateRequest checks the request shape and, when a manifest is
// loaded, that the environment exists
func (s *Service) validateRequest(request *interfaces.RunRequest) error {
	if request == nil {
		return errors.New("run request is required")
	}
	if request.Environment == "" {
		return errors.New("environment is required")
	}

	switch request.Operation {
	case interfaces.OperationDeploy, interfaces.OperationDestroy:
		if request.StepOrdinal != 0 {
			return fmt.Errorf("operation %q does not take a step ordinal", request.Operation)
		}
	case interfaces.OperationStep:
		if request.StepOrdinal < 1 || request.StepOrdinal > lastStepOrdinal {
			return fmt.Errorf("step ordinal must be between 1 and %d, got %d", lastStepOrdinal, request.StepOrdinal)
		}
	default:
		return fmt.Errorf("unknown operation %q", request.Operation)
	}

	if s.manifest != nil {
		if _, err := s.manifest.Environment(request.Environment); err != nil {
			return err
		}
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Service) GetRun(runID string) (*interfaces.PipelineRun, error) {
	if runID == "" {
		return nil, errors.New("run ID is required")
	}
	run, err := s.tracker.GetByID(runID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRunResult returns the run's result, or nil when it has not
// finished
func (s *Service) GetRunResult(runID string) (*interfaces.RunResult, error) {
	if runID == "" {
		return nil, errors.New("run ID is required")
	}
	result, err := s.tracker.GetResult(runID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to get run result: %w", err)
	}
	return result, nil
}

// ListRuns returns runs matching the filter
func (s *Service) ListRuns(filter interfaces.RunFilter) ([]*interfaces.PipelineRun, error) {
	listed, err := s.tracker.List(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return listed, nil
}

// CancelRun cancels a queued run. Runs that have started executing
// cannot be canceled from here; the worker owns them.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	if runID == "" {
		return errors.New("run ID is required")
	}

	status, err := s.tracker.GetStatus(runID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return fmt.Errorf("failed to get run status: %w", err)
	}
	if *status != interfaces.RunStatusQueued {
		return fmt.Errorf("run %s has status %s: %w", runID, *status, ErrRunNotCancelable)
	}

	if err := s.queue.Cancel(ctx, runID); err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	if err := s.tracker.SetStatus(runID, interfaces.RunStatusCanceled); err != nil {
		return fmt.Errorf("failed to mark run canceled: %w", err)
	}

	if s.collector != nil {
		s.collector.RecordRunCanceled(runID)
	}
	if s.eventBus != nil {
		s.eventBus.PublishStatusChange(runID, interfaces.RunStatusCanceled)
	}
	s.logger.Infof("Run %s canceled", runID)

	return nil
}

// GetQueueMetrics returns the queue's current metrics
func (s *Service) GetQueueMetrics() interfaces.QueueMetrics {
	return s.queue.GetMetrics()
}
