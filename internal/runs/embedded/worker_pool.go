package embedded

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// RunExecutor executes one pipeline run to completion
type RunExecutor func(ctx context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error)

const defaultHeartbeatInterval = 15 * time.Second

// Config configures the embedded worker pool
type Config struct {
	Workers  int
	Queue    *Queue
	Tracker  *Tracker
	Executor RunExecutor

	// Optional wiring
	EventBus          *events.EventBus
	Collector         *metrics.Collector
	HeartbeatInterval time.Duration
}

// WorkerPool implements interfaces.WorkerPool on gammazero/workerpool,
// draining the embedded queue and executing runs
type WorkerPool struct {
	pool      *workerpool.WorkerPool
	queue     *Queue
	tracker   *Tracker
	executor  RunExecutor
	bus       *events.EventBus
	collector *metrics.Collector
	heartbeat time.Duration
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	active    int32
	started   bool
	mu        sync.Mutex
}

// NewWorkerPool creates a worker pool over the queue and tracker
func NewWorkerPool(cfg Config) (*WorkerPool, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		pool:      workerpool.New(cfg.Workers),
		queue:     cfg.Queue,
		tracker:   cfg.Tracker,
		executor:  cfg.Executor,
		bus:       cfg.EventBus,
		collector: cfg.Collector,
		heartbeat: cfg.HeartbeatInterval,
		logger:    logging.NewLogger("embedded-worker"),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins draining the queue
func (p *WorkerPool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.processLoop()
}

// Stop drains in-flight runs and shuts the pool down. The context
// bounds how long to wait.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}

	p.pool.StopWait()
	return nil
}

func (p *WorkerPool) processLoop() {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("worker pool process loop panicked: %v", r)
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			run, err := p.queue.Dequeue(p.ctx)
			if err != nil {
				if p.ctx.Err() != nil {
					return
				}
				continue
			}

			p.pool.Submit(func() {
				p.processRun(run)
			})
		}
	}
}

// processRun executes a single run, keeping tracker state, metrics, and
// events consistent even when the executor panics
func (p *WorkerPool) processRun(run *interfaces.PipelineRun) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("panic while processing run %s: %v", run.ID, r)
			p.finishRun(run, nil, fmt.Errorf("panic during execution: %v", r))
		}
	}()

	if err := p.tracker.SetStatus(run.ID, interfaces.RunStatusRunning); err != nil {
		p.logger.Errorf("failed to mark run %s running: %v", run.ID, err)
	}
	if p.collector != nil {
		p.collector.RecordRunStarted(run.ID)
		p.collector.UpdateActiveWorkers(int(atomic.AddInt32(&p.active, 1)))
		p.collector.UpdateQueueDepth(p.queue.Size())
		defer func() {
			p.collector.UpdateActiveWorkers(int(atomic.AddInt32(&p.active, -1)))
		}()
	}
	if p.bus != nil {
		p.bus.PublishStatusChange(run.ID, interfaces.RunStatusRunning)
	}

	stopHeartbeat := p.startHeartbeat(run.ID)
	defer stopHeartbeat()

	result, err := p.executor(p.ctx, run)
	p.finishRun(run, result, err)
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
func (p *WorkerPool) startHeartbeat(runID string) func() {
	done := make(chan struct{})
	var once sync.Once

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-p.ctx.Done():
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

// GetWorkerCount returns the configured worker width
func (p *WorkerPool) GetWorkerCount() int {
	return p.pool.Size()
}

// GetQueuedCount returns tasks waiting inside the pool itself
func (p *WorkerPool) GetQueuedCount() int {
	return p.pool.WaitingQueueSize()
}

var _ interfaces.WorkerPool = (*WorkerPool)(nil)
