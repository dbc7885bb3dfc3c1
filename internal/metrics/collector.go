// Package metrics provides metrics collection for pipeline run operations.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// Collector tracks system metrics
type Collector struct {
	mu sync.RWMutex

	// Counters
	runsQueued    int64
	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsCanceled  int64
	stepsRetried  int64
	jobsSucceeded int64
	jobsFailed    int64

	// Timing
	runDurations   []time.Duration
	queueWaitTimes []time.Duration

	// Real-time metrics
	activeWorkers int32
	queueDepth    int32

	// System info
	startTime time.Time

	// Per-run tracking
	runStartTimes sync.Map // runID -> time.Time
	runQueueTimes sync.Map // runID -> time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime:      time.Now(),
		runDurations:   make([]time.Duration, 0, 1000),
		queueWaitTimes: make([]time.Duration, 0, 1000),
	}
}

// RecordRunQueued records when a run is queued
func (c *Collector) RecordRunQueued(runID string) {
	atomic.AddInt64(&c.runsQueued, 1)
	c.runQueueTimes.Store(runID, time.Now())
}

// RecordRunStarted records when a run starts processing
func (c *Collector) RecordRunStarted(runID string) {
	atomic.AddInt64(&c.runsStarted, 1)

	if queueTime, ok := c.runQueueTimes.LoadAndDelete(runID); ok {
		waitTime := time.Since(queueTime.(time.Time))
		c.mu.Lock()
		c.queueWaitTimes = append(c.queueWaitTimes, waitTime)
		// Keep only last 1000 entries to avoid unbounded growth
		if len(c.queueWaitTimes) > 1000 {
			c.queueWaitTimes = c.queueWaitTimes[len(c.queueWaitTimes)-1000:]
		}
		c.mu.Unlock()
	}

	c.runStartTimes.Store(runID, time.Now())
}

// RecordRunCompleted records when a run completes successfully
func (c *Collector) RecordRunCompleted(runID string) {
	atomic.AddInt64(&c.runsCompleted, 1)
	c.recordRunDuration(runID)
}

// RecordRunFailed records when a run fails
func (c *Collector) RecordRunFailed(runID string) {
	atomic.AddInt64(&c.runsFailed, 1)
	c.recordRunDuration(runID)
}

// RecordRunCanceled records when a run is canceled
func (c *Collector) RecordRunCanceled(runID string) {
	atomic.AddInt64(&c.runsCanceled, 1)
	c.runStartTimes.Delete(runID)
	c.runQueueTimes.Delete(runID)
}

// RecordStepRetried records a retried pipeline step attempt
func (c *Collector) RecordStepRetried() {
	atomic.AddInt64(&c.stepsRetried, 1)
}

// RecordJobSucceeded records a wave job that reached completion
func (c *Collector) RecordJobSucceeded() {
	atomic.AddInt64(&c.jobsSucceeded, 1)
}

// RecordJobFailed records a wave job that failed or timed out
func (c *Collector) RecordJobFailed() {
	atomic.AddInt64(&c.jobsFailed, 1)
}

// UpdateQueueDepth updates the current queue depth
func (c *Collector) UpdateQueueDepth(depth int) {
	atomic.StoreInt32(&c.queueDepth, int32(depth)) // #nosec G115 - queue depth will never exceed int32 limits
}

// UpdateActiveWorkers updates the number of active workers
func (c *Collector) UpdateActiveWorkers(count int) {
	atomic.StoreInt32(&c.activeWorkers, int32(count)) // #nosec G115 - worker count will never exceed int32 limits
}

// GetSystemMetrics returns current system metrics
func (c *Collector) GetSystemMetrics() interfaces.SystemMetrics {
	processed := atomic.LoadInt64(&c.runsCompleted) +
		atomic.LoadInt64(&c.runsFailed)

	c.mu.RLock()
	avgRunTime := c.calculateAverageRunTimeNoLock()
	c.mu.RUnlock()

	return interfaces.SystemMetrics{
		RunsProcessed:     processed,
		RunsSucceeded:     atomic.LoadInt64(&c.runsCompleted),
		RunsFailed:        atomic.LoadInt64(&c.runsFailed),
		RunsCanceled:      atomic.LoadInt64(&c.runsCanceled),
		StepsRetried:      atomic.LoadInt64(&c.stepsRetried),
		JobsFailed:        atomic.LoadInt64(&c.jobsFailed),
		AverageRunTime:    avgRunTime,
		CurrentQueueDepth: int(atomic.LoadInt32(&c.queueDepth)),
		ActiveWorkers:     int(atomic.LoadInt32(&c.activeWorkers)),
		SystemUptime:      time.Since(c.startTime),
	}
}

// GetQueueMetrics returns current queue metrics
func (c *Collector) GetQueueMetrics() interfaces.QueueMetrics {
	c.mu.RLock()
	avgWaitTime := c.calculateAverageQueueWaitTimeNoLock()
	c.mu.RUnlock()

	var oldestTime time.Time
	c.runQueueTimes.Range(func(_, value interface{}) bool {
		queueTime := value.(time.Time)
		if oldestTime.IsZero() || queueTime.Before(oldestTime) {
			oldestTime = queueTime
		}
		return true
	})

	return interfaces.QueueMetrics{
		TotalEnqueued:   atomic.LoadInt64(&c.runsQueued),
		TotalDequeued:   atomic.LoadInt64(&c.runsStarted),
		CurrentDepth:    int(atomic.LoadInt32(&c.queueDepth)),
		AverageWaitTime: avgWaitTime,
		OldestRun:       oldestTime,
	}
}

// recordRunDuration records the duration of a run
func (c *Collector) recordRunDuration(runID string) {
	if startTime, ok := c.runStartTimes.LoadAndDelete(runID); ok {
		duration := time.Since(startTime.(time.Time))
		c.mu.Lock()
		c.runDurations = append(c.runDurations, duration)
		// Keep only last 1000 entries
		if len(c.runDurations) > 1000 {
			c.runDurations = c.runDurations[len(c.runDurations)-1000:]
		}
		c.mu.Unlock()
	}
}

// calculateAverageRunTimeNoLock calculates average run time without acquiring the lock
func (c *Collector) calculateAverageRunTimeNoLock() time.Duration {
	if len(c.runDurations) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range c.runDurations {
		total += d
	}

	return total / time.Duration(len(c.runDurations))
}

// calculateAverageQueueWaitTimeNoLock calculates average queue wait time without acquiring the lock
func (c *Collector) calculateAverageQueueWaitTimeNoLock() time.Duration {
	if len(c.queueWaitTimes) == 0 {
		return 0
	}

	var total time.Duration
	for _, d := range c.queueWaitTimes {
		total += d
	}

	return total / time.Duration(len(c.queueWaitTimes))
}

// Reset resets all metrics (useful for testing)
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.runsQueued, 0)
	atomic.StoreInt64(&c.runsStarted, 0)
	atomic.StoreInt64(&c.runsCompleted, 0)
	atomic.StoreInt64(&c.runsFailed, 0)
	atomic.StoreInt64(&c.runsCanceled, 0)
	atomic.StoreInt64(&c.stepsRetried, 0)
	atomic.StoreInt64(&c.jobsSucceeded, 0)
	atomic.StoreInt64(&c.jobsFailed, 0)
	atomic.StoreInt32(&c.queueDepth, 0)
	atomic.StoreInt32(&c.activeWorkers, 0)

	c.runDurations = c.runDurations[:0]
	c.queueWaitTimes = c.queueWaitTimes[:0]
	c.startTime = time.Now()

	c.runStartTimes.Range(func(key, _ interface{}) bool {
		c.runStartTimes.Delete(key)
		return true
	})
	c.runQueueTimes.Range(func(key, _ interface{}) bool {
		c.runQueueTimes.Delete(key)
		return true
	})
}
