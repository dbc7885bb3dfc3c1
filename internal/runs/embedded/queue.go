// Package embedded provides the in-process run queue, tracker, and
// worker pool that back single-node server mode.
package embedded

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// DefaultQueueCapacity bounds the queue when no capacity is configured
const DefaultQueueCapacity = 100

// Queue implements interfaces.RunQueue on a buffered Go channel
type Queue struct {
	mu        sync.RWMutex
	runs      chan *interfaces.PipelineRun
	pending   map[string]struct{}
	canceled  map[string]struct{}
	closed    bool
	closeOnce sync.Once

	totalEnqueued  int64
	totalDequeued  int64
	oldestEnqueued time.Time
	totalWaitTime  time.Duration
}

// NewQueue creates an embedded run queue
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	return &Queue{
		runs:     make(chan *interfaces.PipelineRun, capacity),
		pending:  make(map[string]struct{}),
		canceled: make(map[string]struct{}),
	}
}

// Enqueue adds a run to the queue. It never blocks; a full queue is an
// error the caller surfaces immediately.
func (q *Queue) Enqueue(ctx context.Context, run *interfaces.PipelineRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run ID is empty")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if _, exists := q.pending[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, interfaces.ErrRunAlreadyQueued)
	}

	select {
	case q.runs <- run:
		q.pending[run.ID] = struct{}{}
		q.totalEnqueued++
		if q.oldestEnqueued.IsZero() || len(q.runs) == 1 {
			q.oldestEnqueued = time.Now()
		}
		return nil
	default:
		return fmt.Errorf("queue is full")
	}
}

// Cancel drops a queued run. The entry stays in the channel but the
// worker discards it at dequeue, so its work never starts.
func (q *Queue) Cancel(_ context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[runID]; !exists {
		return fmt.Errorf("run %s not found in queue", runID)
	}
	delete(q.pending, runID)
	q.canceled[runID] = struct{}{}
	return nil
}

// Dequeue blocks for the next live run. The worker pool owns this;
// canceled entries are dropped here without surfacing.
func (q *Queue) Dequeue(ctx context.Context) (*interfaces.PipelineRun, error) {
	for {
		select {
		case run, ok := <-q.runs:
			if !ok || run == nil {
				return nil, fmt.Errorf("queue is closed")
			}

			q.mu.Lock()
			if _, dropped := q.canceled[run.ID]; dropped {
				delete(q.canceled, run.ID)
				q.mu.Unlock()
				continue
			}
			delete(q.pending, run.ID)
			q.totalDequeued++
			if !run.CreatedAt.IsZero() {
				q.totalWaitTime += time.Since(run.CreatedAt)
			}
			if len(q.runs) == 0 {
				q.oldestEnqueued = time.Time{}
			}
			q.mu.Unlock()

			return run, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
	}
}

// Close closes the queue; further enqueues fail
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		q.closed = true
		close(q.runs)
	})
}

// Size returns the number of entries currently buffered
func (q *Queue) Size() int {
	return len(q.runs)
}

// Capacity returns the queue capacity
func (q *Queue) Capacity() int {
	return cap(q.runs)
}

// GetMetrics returns queue throughput metrics
func (q *Queue) GetMetrics() interfaces.QueueMetrics {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queueMetrics := interfaces.QueueMetrics{
		TotalEnqueued: q.totalEnqueued,
		TotalDequeued: q.totalDequeued,
		CurrentDepth:  len(q.runs),
		OldestRun:     q.oldestEnqueued,
	}
	if q.totalDequeued > 0 {
		queueMetrics.AverageWaitTime = q.totalWaitTime / time.Duration(q.totalDequeued)
	}
	return queueMetrics
}

var _ interfaces.RunQueue = (*Queue)(nil)
