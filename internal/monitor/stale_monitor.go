// Package monitor provides background reconciliation for runs whose
// worker died or whose queue and tracker state drifted apart.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// StaleRunMonitor periodically scans for runs that claim to be running
// but have stopped heartbeating, and for queue/tracker drift. When a
// worker crashes mid-run nothing else settles that run, so without
// this scan it would stay "running" forever.
type StaleRunMonitor struct {
	queue     interfaces.RunQueue
	tracker   interfaces.RunTracker
	inspector *asynq.Inspector
	bus       *events.EventBus
	collector *metrics.Collector
	logger    *logging.Logger

	scanInterval   time.Duration
	staleThreshold time.Duration
	reconcile      bool
	maxBackoff     time.Duration
	queueNames     []string

	mu                sync.RWMutex
	running           bool
	ctx               context.Context
	cancel            context.CancelFunc
	wg                sync.WaitGroup
	lastScan          time.Time
	staleCount        int
	currentInterval   time.Duration
	backoffMultiplier float64
}

// Config holds configuration for the stale run monitor
type Config struct {
	Queue   interfaces.RunQueue
	Tracker interfaces.RunTracker

	// Inspector enables queue/tracker drift scans in distributed mode
	Inspector *asynq.Inspector

	// Optional wiring
	EventBus  *events.EventBus
	Collector *metrics.Collector

	ScanInterval   time.Duration
	StaleThreshold time.Duration

	// Reconcile settles what the scans find instead of only reporting it
	Reconcile bool

	// MaxBackoff caps the scan interval when nothing is found
	// (0 = 10x the scan interval)
	MaxBackoff time.Duration

	// QueueNames are the asynq queues the drift scans cover
	QueueNames []string
}

// NewStaleRunMonitor creates a stale run monitor
func NewStaleRunMonitor(cfg Config) *StaleRunMonitor {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 1 * time.Minute
	}
	if cfg.StaleThreshold == 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = cfg.ScanInterval * 10
	}
	if len(cfg.QueueNames) == 0 {
		cfg.QueueNames = []string{"runs"}
	}

	return &StaleRunMonitor{
		queue:             cfg.Queue,
		tracker:           cfg.Tracker,
		inspector:         cfg.Inspector,
		bus:               cfg.EventBus,
		collector:         cfg.Collector,
		logger:            logging.NewLogger("stale-run-monitor"),
		scanInterval:      cfg.ScanInterval,
		staleThreshold:    cfg.StaleThreshold,
		reconcile:         cfg.Reconcile,
		maxBackoff:        cfg.MaxBackoff,
		queueNames:        cfg.QueueNames,
		currentInterval:   cfg.ScanInterval,
		backoffMultiplier: 1.0,
	}
}

// Start begins scanning in the background
func (m *StaleRunMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true

	m.wg.Add(1)
	go m.monitorLoop()

	m.logger.Infof("started with scan interval %v, stale threshold %v",
		m.scanInterval, m.staleThreshold)
	return nil
}

// Stop shuts the monitor down, bounded by the context
func (m *StaleRunMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown timeout: %w", ctx.Err())
	}
}

// Stats contains monitoring statistics
type Stats struct {
	Running    bool
	LastScan   time.Time
	StaleCount int
}

// GetStats returns current monitoring statistics
func (m *StaleRunMonitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Running:    m.running,
		LastScan:   m.lastScan,
		StaleCount: m.staleCount,
	}
}

func (m *StaleRunMonitor) monitorLoop() {
	defer m.wg.Done()

	m.performScan()

	for {
		m.mu.RLock()
		interval := m.currentInterval
		m.mu.RUnlock()

		// Timer, not ticker, because the interval adapts between scans
		timer := time.NewTimer(interval)

		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.performScan()
		}
	}
}

// performScan runs all checks once and adapts the scan interval
func (m *StaleRunMonitor) performScan() {
	startTime := time.Now()
	m.logger.Debugf("starting scan")

	var found int
	if m.inspector != nil {
		found += m.scanQueueDrift()
	}
	found += m.scanStaleRunning()
	found += m.scanTrackerDrift()

	m.mu.Lock()
	m.lastScan = time.Now()
	m.staleCount = found

	if found == 0 {
		// Quiet system, back off up to the cap
		oldInterval := m.currentInterval
		if m.backoffMultiplier < 2.0 {
			m.backoffMultiplier = 2.0
		} else {
			m.backoffMultiplier *= 1.5
		}

		newInterval := time.Duration(float64(m.scanInterval) * m.backoffMultiplier)
		if newInterval > m.maxBackoff {
			newInterval = m.maxBackoff
		}
		m.currentInterval = newInterval

		if oldInterval != m.currentInterval {
			m.logger.Debugf("nothing found, scan interval now %v (multiplier %.1f)",
				m.currentInterval, m.backoffMultiplier)
		}
	} else {
		if m.backoffMultiplier > 1.0 {
			m.logger.Infof("findings present, scan interval reset to %v", m.scanInterval)
		}
		m.backoffMultiplier = 1.0
		m.currentInterval = m.scanInterval
	}
	m.mu.Unlock()

	m.logger.Infof("scan complete in %v, %d findings", time.Since(startTime), found)
}

// scanStaleRunning finds runs marked running whose heartbeat went quiet
func (m *StaleRunMonitor) scanStaleRunning() int {
	m.mu.RLock()
	staleThreshold := m.staleThreshold
	m.mu.RUnlock()

	runs, err := m.tracker.List(interfaces.RunFilter{
		Status: []interfaces.RunStatus{interfaces.RunStatusRunning},
	})
	if err != nil {
		m.logger.Errorf("failed to list running runs: %v", err)
		return 0
	}

	found := 0
	now := time.Now()
	for _, run := range runs {
		// Heartbeat is the liveness signal; StartedAt covers runs from
		// before the first beat landed
		reference := run.LastHeartbeat
		if reference.IsZero() && run.StartedAt != nil {
			reference = *run.StartedAt
		}
		if reference.IsZero() {
			continue
		}

		quiet := now.Sub(reference)
		if quiet <= staleThreshold {
			continue
		}

		found++
		m.logger.Warnf("run %s is stale: no heartbeat for %v (worker %s)",
			run.ID, quiet.Round(time.Second), run.ProcessingWorkerID)

		if m.reconcile {
			m.failStaleRun(run, quiet)
		}
	}

	return found
}

// failStaleRun settles an abandoned run as failed
func (m *StaleRunMonitor) failStaleRun(run *interfaces.PipelineRun, quiet time.Duration) {
	result := &interfaces.RunResult{
		RunID:       run.ID,
		Success:     false,
		Error:       fmt.Errorf("run abandoned: no heartbeat for %v", quiet.Round(time.Second)),
		CompletedAt: time.Now(),
	}
	if run.Request != nil {
		result.Environment = run.Request.Environment
	}

	if err := m.tracker.SetResult(run.ID, result); err != nil {
		m.logger.Errorf("failed to store result for stale run %s: %v", run.ID, err)
		if err := m.tracker.SetStatus(run.ID, interfaces.RunStatusFailed); err != nil {
			m.logger.Errorf("failed to mark stale run %s failed: %v", run.ID, err)
			return
		}
	}

	if m.collector != nil {
		m.collector.RecordRunFailed(run.ID)
	}
	if m.bus != nil {
		m.bus.PublishStatusChange(run.ID, interfaces.RunStatusFailed)
		m.bus.PublishResult(run.ID, result)
	}
}

// scanQueueDrift finds queued tasks with no tracker entry. These can
// only be surfaced for operators, since the run request is owned by
// whoever registered it.
func (m *StaleRunMonitor) scanQueueDrift() int {
	found := 0
	for _, queueName := range m.queueNames {
		tasks, err := m.inspector.ListPendingTasks(queueName)
		if err != nil {
			if !errors.Is(err, asynq.ErrQueueNotFound) {
				m.logger.Errorf("failed to list pending tasks in %s: %v", queueName, err)
			}
			continue
		}

		for _, task := range tasks {
			if _, err := m.tracker.GetStatus(task.ID); err != nil {
				found++
				m.logger.Warnf("task %s in queue %s has no tracker entry, manual cleanup needed",
					task.ID, queueName)
			}
		}
	}
	return found
}

// scanTrackerDrift finds runs the tracker believes are queued but no
// queue holds, and puts them back
func (m *StaleRunMonitor) scanTrackerDrift() int {
	if m.inspector == nil {
		return 0
	}

	runs, err := m.tracker.List(interfaces.RunFilter{
		Status: []interfaces.RunStatus{interfaces.RunStatusQueued},
	})
	if err != nil {
		m.logger.Errorf("failed to list queued runs: %v", err)
		return 0
	}

	found := 0
	for _, run := range runs {
		inQueue := false
		for _, queueName := range m.queueNames {
			if _, err := m.inspector.GetTaskInfo(queueName, run.ID); err == nil {
				inQueue = true
				break
			}
		}
		if inQueue {
			continue
		}

		found++
		m.logger.Warnf("run %s is tracked as queued but missing from the queue", run.ID)

		if m.reconcile {
			m.requeueLostRun(run)
		}
	}
	return found
}

// requeueLostRun puts a dropped run back on the queue
func (m *StaleRunMonitor) requeueLostRun(run *interfaces.PipelineRun) {
	err := m.queue.Enqueue(context.Background(), run)
	if err == nil {
		m.logger.Infof("re-enqueued lost run %s", run.ID)
		return
	}

	// The scan raced a real enqueue, nothing is lost
	if errors.Is(err, interfaces.ErrRunAlreadyQueued) {
		return
	}

	m.logger.Errorf("failed to re-enqueue run %s: %v", run.ID, err)
	result := &interfaces.RunResult{
		RunID:       run.ID,
		Success:     false,
		Error:       fmt.Errorf("run lost from queue and re-enqueue failed: %w", err),
		CompletedAt: time.Now(),
	}
	if run.Request != nil {
		result.Environment = run.Request.Environment
	}
	if setErr := m.tracker.SetResult(run.ID, result); setErr != nil {
		m.logger.Errorf("failed to settle lost run %s: %v", run.ID, setErr)
	}
	if m.collector != nil {
		m.collector.RecordRunFailed(run.ID)
	}
	if m.bus != nil {
		m.bus.PublishStatusChange(run.ID, interfaces.RunStatusFailed)
	}
}
