package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

const (
	// TaskTypeRun is the asynq task type for pipeline runs
	TaskTypeRun = "run:execute"

	// runQueueName is the asynq queue runs are published to
	runQueueName = "runs"

	// runTaskTimeout is the outer asynq bound on a run task. The
	// pipeline applies its own execution timeout well inside this.
	runTaskTimeout = 6 * time.Hour

	// runRetention keeps finished task records inspectable for the
	// same window the tracker keeps run records.
	runRetention = 7 * 24 * time.Hour
)

// Queue implements interfaces.RunQueue on asynq so any number of
// server replicas can feed one Redis-backed run stream.
type Queue struct {
	client    *asynq.Client
	redisOpt  asynq.RedisConnOpt
	resilient *ResilientExecutor
	logger    *logging.Logger
}

// NewQueue creates a Redis-backed distributed run queue
func NewQueue(redisURL string) (*Queue, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	resilient, err := NewResilientExecutor(redisOpt, DefaultResilienceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create resilient executor: %w", err)
	}

	return &Queue{
		client:    asynq.NewClient(redisOpt),
		redisOpt:  redisOpt,
		resilient: resilient,
		logger:    logging.NewLogger("distributed-queue"),
	}, nil
}

// Enqueue publishes a run. The run ID doubles as the asynq task ID, so
// a run that is already pending is rejected instead of duplicated.
func (q *Queue) Enqueue(ctx context.Context, run *interfaces.PipelineRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run ID is empty")
	}

	payload, err := json.Marshal(toStoredRun(run))
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	task := asynq.NewTask(TaskTypeRun, payload,
		asynq.TaskID(run.ID),
		asynq.Queue(runQueueName),
		asynq.MaxRetry(0),
		asynq.Timeout(runTaskTimeout),
		asynq.Retention(runRetention),
	)

	return q.resilient.Execute(ctx, fmt.Sprintf("enqueue-%s", run.ID), func() error {
		info, err := q.client.EnqueueContext(ctx, task)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return fmt.Errorf("run %s: %w", run.ID, interfaces.ErrRunAlreadyQueued)
		}
		if err != nil {
			return fmt.Errorf("failed to enqueue run: %w", err)
		}
		q.logger.Infof("enqueued run %s on queue %s", run.ID, info.Queue)
		return nil
	})
}

// Cancel removes a queued run before a worker picks it up. Runs that
// are already executing cannot be canceled from the queue side.
func (q *Queue) Cancel(_ context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	inspector := asynq.NewInspector(q.redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			q.logger.Warnf("failed to close inspector: %v", err)
		}
	}()

	err := inspector.DeleteTask(runQueueName, runID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, asynq.ErrQueueNotFound), errors.Is(err, asynq.ErrTaskNotFound):
		return fmt.Errorf("run %s not found in queue or already processing", runID)
	default:
		return fmt.Errorf("failed to cancel run %s: %w", runID, err)
	}
}

// GetMetrics reports queue statistics from the asynq inspector
func (q *Queue) GetMetrics() interfaces.QueueMetrics {
	inspector := asynq.NewInspector(q.redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			q.logger.Warnf("failed to close inspector: %v", err)
		}
	}()

	info, err := inspector.GetQueueInfo(runQueueName)
	if err != nil {
		q.logger.Warnf("failed to get queue info: %v", err)
		return interfaces.QueueMetrics{}
	}

	var oldest time.Time
	if info.Size > 0 {
		tasks, err := inspector.ListPendingTasks(runQueueName, asynq.PageSize(1))
		if err == nil && len(tasks) > 0 {
			oldest = tasks[0].NextProcessAt
		}
	}

	return interfaces.QueueMetrics{
		TotalEnqueued:   int64(info.Processed + info.Size + info.Active),
		TotalDequeued:   int64(info.Processed),
		CurrentDepth:    info.Size,
		AverageWaitTime: info.Latency,
		OldestRun:       oldest,
	}
}

// RedisConnOpt exposes the parsed connection options so the tracker
// and worker pool can share the same Redis instance
func (q *Queue) RedisConnOpt() asynq.RedisConnOpt {
	return q.redisOpt
}

// Close closes the queue client and resilient executor
func (q *Queue) Close() error {
	if q.resilient != nil {
		if err := q.resilient.Close(); err != nil {
			q.logger.Warnf("failed to close resilient executor: %v", err)
		}
	}

	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close asynq client: %w", err)
	}
	return nil
}

var _ interfaces.RunQueue = (*Queue)(nil)
