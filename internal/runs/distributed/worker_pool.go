package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// RunExecutor executes one pipeline run to completion
type RunExecutor func(ctx context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error)

const workerHeartbeatInterval = 15 * time.Second

// Config configures the distributed worker pool
type Config struct {
	RedisURL    string
	Tracker     *Tracker
	Executor    RunExecutor
	Concurrency int
	Queues      map[string]int

	// Optional wiring
	EventBus          *events.EventBus
	Collector         *metrics.Collector
	HeartbeatInterval time.Duration
}

// WorkerPool implements interfaces.WorkerPool on an asynq server, so
// every replica running one competes for runs from the shared queue
type WorkerPool struct {
	server      *asynq.Server
	mux         *asynq.ServeMux
	tracker     *Tracker
	executor    RunExecutor
	redisOpt    asynq.RedisConnOpt
	bus         *events.EventBus
	collector   *metrics.Collector
	heartbeat   time.Duration
	workerID    string
	concurrency int
	logger      *logging.Logger
}

// NewWorkerPool creates a distributed worker pool
func NewWorkerPool(cfg Config) (*WorkerPool, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Queues == nil {
		cfg.Queues = map[string]int{runQueueName: 1}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = workerHeartbeatInterval
	}

	logger := logging.NewLogger("distributed-worker")
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Errorf("error processing task %s: %v", task.Type(), err)
		}),
	})

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	pool := &WorkerPool{
		server:      server,
		mux:         asynq.NewServeMux(),
		tracker:     cfg.Tracker,
		executor:    cfg.Executor,
		redisOpt:    redisOpt,
		bus:         cfg.EventBus,
		collector:   cfg.Collector,
		heartbeat:   cfg.HeartbeatInterval,
		workerID:    fmt.Sprintf("%s-%d", host, os.Getpid()),
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
	pool.mux.HandleFunc(TaskTypeRun, pool.handleRunTask)

	return pool, nil
}

// Start begins processing runs from the queue
func (p *WorkerPool) Start() {
	go func() {
		if err := p.server.Start(p.mux); err != nil {
			p.logger.Errorf("failed to start asynq server: %v", err)
		}
	}()
}

// Stop drains in-flight runs and shuts the server down. The context
// bounds how long to wait.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.server.Stop()

	done := make(chan struct{})
	go func() {
		// Shutdown blocks until in-flight handlers return
		p.server.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}
}

// handleRunTask executes one run task. The returned error is what
// asynq records for the task, so a failed run leaves a failed task.
func (p *WorkerPool) handleRunTask(ctx context.Context, task *asynq.Task) (err error) {
	var stored storedRun
	if err := json.Unmarshal(task.Payload(), &stored); err != nil {
		return fmt.Errorf("failed to unmarshal run: %w", err)
	}
	run := stored.toRun()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("panic while processing run %s: %v", run.ID, r)
			err = fmt.Errorf("panic during execution: %v", r)
			p.finishRun(run, nil, err)
		}
	}()

	if err := p.tracker.SetStatus(run.ID, interfaces.RunStatusRunning); err != nil {
		p.logger.Errorf("failed to mark run %s running: %v", run.ID, err)
	}
	if err := p.tracker.SetWorker(run.ID, p.workerID); err != nil {
		p.logger.Warnf("failed to record worker for run %s: %v", run.ID, err)
	}
	if p.collector != nil {
		p.collector.RecordRunStarted(run.ID)
	}
	if p.bus != nil {
		p.bus.PublishStatusChange(run.ID, interfaces.RunStatusRunning)
	}

	stopHeartbeat := p.startHeartbeat(ctx, run.ID)
	defer stopHeartbeat()

	result, execErr := p.executor(ctx, run)
	p.finishRun(run, result, execErr)
	return execErr
}

// finishRun settles tracker state and emits the terminal signals
func (p *WorkerPool) finishRun(run *interfaces.PipelineRun, result *interfaces.RunResult, execErr error) {
	if result == nil {
		result = &interfaces.RunResult{
			RunID:       run.ID,
			Success:     execErr == nil,
			Error:       execErr,
			CompletedAt: time.Now(),
		}
		if run.Request != nil {
			result.Environment = run.Request.Environment
		}
	}

	if err := p.tracker.SetResult(run.ID, result); err != nil {
		p.logger.Errorf("failed to store result for run %s: %v", run.ID, err)
	}

	status := interfaces.RunStatusSucceeded
	if execErr != nil || !result.Success {
		status = interfaces.RunStatusFailed
		cause := execErr
		if cause == nil {
			cause = result.Error
		}
		p.logger.Errorf("run %s failed: %v", run.ID, cause)
	}
	if err := p.tracker.SetStatus(run.ID, status); err != nil {
		p.logger.Errorf("failed to set final status for run %s: %v", run.ID, err)
	}

	if p.collector != nil {
		if status == interfaces.RunStatusSucceeded {
			p.collector.RecordRunCompleted(run.ID)
		} else {
			p.collector.RecordRunFailed(run.ID)
		}
	}
	if p.bus != nil {
		p.bus.PublishStatusChange(run.ID, status)
		p.bus.PublishResult(run.ID, result)
	}
}

// startHeartbeat keeps the run's liveness fresh while it executes. The
// returned stop function is safe to call more than once.
func (p *WorkerPool) startHeartbeat(ctx context.Context, runID string) func() {
	done := make(chan struct{})
	var once sync.Once

	// Seed one beat immediately so a freshly claimed run never looks stale
	if err := p.tracker.Heartbeat(runID, time.Now()); err != nil {
		p.logger.Warnf("heartbeat for run %s: %v", runID, err)
	}

	go func() {
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				if err := p.tracker.Heartbeat(runID, at); err != nil {
					p.logger.Warnf("heartbeat for run %s: %v", runID, err)
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

// GetStats returns this worker's server info from the asynq inspector
func (p *WorkerPool) GetStats() (*asynq.ServerInfo, error) {
	inspector := asynq.NewInspector(p.redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			p.logger.Warnf("failed to close inspector: %v", err)
		}
	}()

	servers, err := inspector.Servers()
	if err != nil {
		return nil, fmt.Errorf("failed to get server info: %w", err)
	}

	for _, server := range servers {
		if server.Host+"-"+fmt.Sprint(server.PID) == p.workerID {
			return server, nil
		}
	}
	return nil, fmt.Errorf("server info not found")
}

var _ interfaces.WorkerPool = (*WorkerPool)(nil)
