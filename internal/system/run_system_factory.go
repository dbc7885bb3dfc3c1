// Package system assembles the background run system that server mode
// is built from: the queue, tracker, and worker pool matching the
// configured queue backend.
package system

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hibiken/asynq"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/internal/runs/distributed"
	"github.com/flightdeck/flightdeck/internal/runs/embedded"
)

const (
	defaultEmbeddedWorkers = 4
	defaultQueueCapacity   = 100
)

// RunExecutor executes one pipeline run to completion
type RunExecutor func(ctx context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error)

// RunSystem holds the assembled run components for one server process
type RunSystem struct {
	Queue      interfaces.RunQueue
	Tracker    interfaces.RunTracker
	WorkerPool interfaces.WorkerPool

	// Inspector is set in distributed mode so the stale run monitor can
	// scan for queue and tracker drift
	Inspector *asynq.Inspector
}

// Options carries the optional wiring shared by both backends
type Options struct {
	EventBus  *events.EventBus
	Collector *metrics.Collector
}

// RunLogPath returns where the embedded tracker appends its
// terminal-run audit log, or empty when no state directory is set
func RunLogPath(cfg *config.Config) string {
	if cfg == nil || cfg.StateDir == "" {
		return ""
	}
	return filepath.Join(cfg.StateDir, "runs.jsonl")
}

// NewRunSystem creates the run system matching the configured queue type
func NewRunSystem(cfg *config.Config, executor RunExecutor, opts Options) (*RunSystem, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	switch cfg.Queue.Type {
	case "embedded", "":
		return newEmbeddedSystem(cfg, executor, opts)
	case "distributed":
		return newDistributedSystem(cfg, executor, opts)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Queue.Type)
	}
}

// newEmbeddedSystem creates the in-process run system. Terminal runs
// are appended to a JSON-lines log next to the state directory so run
// history survives a restart.
func newEmbeddedSystem(cfg *config.Config, executor RunExecutor, opts Options) (*RunSystem, error) {
	queue := embedded.NewQueue(defaultQueueCapacity)

	var trackerOpts []embedded.TrackerOption
	if path := RunLogPath(cfg); path != "" {
		trackerOpts = append(trackerOpts, embedded.WithRunLog(path))
	}
	tracker := embedded.NewTracker(trackerOpts...)

	pool, err := embedded.NewWorkerPool(embedded.Config{
		Workers:   defaultEmbeddedWorkers,
		Queue:     queue,
		Tracker:   tracker,
		Executor:  embedded.RunExecutor(executor),
		EventBus:  opts.EventBus,
		Collector: opts.Collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded worker pool: %w", err)
	}

	return &RunSystem{
		Queue:      queue,
		Tracker:    tracker,
		WorkerPool: pool,
	}, nil
}

// newDistributedSystem creates the Redis-backed run system. The queue,
// tracker, and worker pool share one parsed Redis target.
func newDistributedSystem(cfg *config.Config, executor RunExecutor, opts Options) (*RunSystem, error) {
	if cfg.Queue.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required for distributed mode")
	}

	queue, err := distributed.NewQueue(cfg.Queue.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create distributed queue: %w", err)
	}

	tracker, err := distributed.NewTracker(queue.RedisConnOpt())
	if err != nil {
		return nil, fmt.Errorf("failed to create distributed tracker: %w", err)
	}

	pool, err := distributed.NewWorkerPool(distributed.Config{
		RedisURL:  cfg.Queue.RedisURL,
		Tracker:   tracker,
		Executor:  distributed.RunExecutor(executor),
		EventBus:  opts.EventBus,
		Collector: opts.Collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create distributed worker pool: %w", err)
	}

	return &RunSystem{
		Queue:      queue,
		Tracker:    tracker,
		WorkerPool: pool,
		Inspector:  asynq.NewInspector(queue.RedisConnOpt()),
	}, nil
}

// Close shuts the run system down. The worker pool drains first so
// nothing is mid-run when the queue and tracker release their
// connections.
func (s *RunSystem) Close(ctx context.Context) error {
	if err := s.WorkerPool.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop worker pool: %w", err)
	}

	switch closer := s.Queue.(type) {
	case interface{ Close() error }:
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close queue: %w", err)
		}
	case interface{ Close() }:
		closer.Close()
	}

	if closer, ok := s.Tracker.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close tracker: %w", err)
		}
	}

	if s.Inspector != nil {
		if err := s.Inspector.Close(); err != nil {
			return fmt.Errorf("failed to close queue inspector: %w", err)
		}
	}

	return nil
}
