package embedded

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
)

// poolHarness wires a queue, tracker, and pool around a stub executor
type poolHarness struct {
	queue   *Queue
	tracker *Tracker
	pool    *WorkerPool

	mu       sync.Mutex
	executed []string
}

func newPoolHarness(t *testing.T, executor RunExecutor, collector *metrics.Collector) *poolHarness {
	t.Helper()

	h := &poolHarness{
		queue:   NewQueue(10),
		tracker: NewTracker(),
	}

	wrapped := func(ctx context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		h.mu.Lock()
		h.executed = append(h.executed, run.ID)
		h.mu.Unlock()
		return executor(ctx, run)
	}

	pool, err := NewWorkerPool(Config{
		Workers:   2,
		Queue:     h.queue,
		Tracker:   h.tracker,
		Executor:  wrapped,
		Collector: collector,
	})
	require.NoError(t, err)
	h.pool = pool

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
		h.queue.Close()
	})
	return h
}

func (h *poolHarness) submit(t *testing.T, id string) {
	t.Helper()
	run := queuedRun(id)
	require.NoError(t, h.tracker.Register(run))
	require.NoError(t, h.queue.Enqueue(context.Background(), run))
}

func (h *poolHarness) executedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.executed...)
}

func waitForStatus(t *testing.T, tracker *Tracker, runID string, want interfaces.RunStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := tracker.GetStatus(runID)
		if err != nil {
			return false
		}
		return *status == want
	}, 2*time.Second, 10*time.Millisecond, "run %s should reach status %s", runID, want)
}

func TestWorkerPool_Config(t *testing.T) {
	t.Parallel()

	executor := func(_ context.Context, _ *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		return nil, nil
	}

	t.Run("MissingQueue", func(t *testing.T) {
		t.Parallel()
		_, err := NewWorkerPool(Config{Tracker: NewTracker(), Executor: executor})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue is required")
	})

	t.Run("MissingTracker", func(t *testing.T) {
		t.Parallel()
		_, err := NewWorkerPool(Config{Queue: NewQueue(1), Executor: executor})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tracker is required")
	})

	t.Run("MissingExecutor", func(t *testing.T) {
		t.Parallel()
		_, err := NewWorkerPool(Config{Queue: NewQueue(1), Tracker: NewTracker()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "executor is required")
	})

	t.Run("DefaultsWorkerCount", func(t *testing.T) {
		t.Parallel()
		pool, err := NewWorkerPool(Config{Queue: NewQueue(1), Tracker: NewTracker(), Executor: executor})
		require.NoError(t, err)
		assert.Equal(t, 1, pool.GetWorkerCount())
	})
}

func TestWorkerPool_ExecutesRuns(t *testing.T) {
	t.Parallel()

	collector := metrics.NewCollector()
	executor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		return &interfaces.RunResult{
			RunID:       run.ID,
			Environment: run.Request.Environment,
			Success:     true,
			Outputs:     map[string]string{"cluster_name": "staging-eks"},
			CompletedAt: time.Now(),
		}, nil
	}
	h := newPoolHarness(t, executor, collector)

	h.pool.Start()
	h.submit(t, "run-1")

	waitForStatus(t, h.tracker, "run-1", interfaces.RunStatusSucceeded)

	result, err := h.tracker.GetResult("run-1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "staging-eks", result.Outputs["cluster_name"])

	run, err := h.tracker.GetByID("run-1")
	require.NoError(t, err)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)

	system := collector.GetSystemMetrics()
	assert.Equal(t, int64(1), system.RunsSucceeded)
	assert.Equal(t, int64(0), system.RunsFailed)
}

func TestWorkerPool_ExecutorFailure(t *testing.T) {
	t.Parallel()

	executor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		return &interfaces.RunResult{
			RunID:       run.ID,
			Success:     false,
			Error:       errors.New("step provision-infrastructure failed"),
			CompletedAt: time.Now(),
		}, nil
	}
	h := newPoolHarness(t, executor, nil)

	h.pool.Start()
	h.submit(t, "run-1")

	waitForStatus(t, h.tracker, "run-1", interfaces.RunStatusFailed)

	run, err := h.tracker.GetByID("run-1")
	require.NoError(t, err)
	require.Error(t, run.LastError)
	assert.Contains(t, run.LastError.Error(), "provision-infrastructure")
}

func TestWorkerPool_ExecutorError(t *testing.T) {
	t.Parallel()

	executor := func(_ context.Context, _ *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		return nil, errors.New("environment is locked")
	}
	h := newPoolHarness(t, executor, nil)

	h.pool.Start()
	h.submit(t, "run-1")

	waitForStatus(t, h.tracker, "run-1", interfaces.RunStatusFailed)

	result, err := h.tracker.GetResult("run-1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error.Error(), "environment is locked")
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	t.Parallel()

	executor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		if run.ID == "run-panics" {
			panic("nil manifest")
		}
		return &interfaces.RunResult{RunID: run.ID, Success: true, CompletedAt: time.Now()}, nil
	}
	h := newPoolHarness(t, executor, nil)

	h.pool.Start()
	h.submit(t, "run-panics")
	h.submit(t, "run-after")

	waitForStatus(t, h.tracker, "run-panics", interfaces.RunStatusFailed)
	// The pool survives the panic and keeps processing
	waitForStatus(t, h.tracker, "run-after", interfaces.RunStatusSucceeded)

	result, err := h.tracker.GetResult("run-panics")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, result.Error.Error(), "panic during execution")
}

func TestWorkerPool_CanceledRunNeverExecutes(t *testing.T) {
	t.Parallel()

	executor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		return &interfaces.RunResult{RunID: run.ID, Success: true, CompletedAt: time.Now()}, nil
	}
	h := newPoolHarness(t, executor, nil)

	h.submit(t, "run-canceled")
	h.submit(t, "run-live")
	require.NoError(t, h.queue.Cancel(context.Background(), "run-canceled"))

	h.pool.Start()
	waitForStatus(t, h.tracker, "run-live", interfaces.RunStatusSucceeded)

	assert.Equal(t, []string{"run-live"}, h.executedIDs())

	status, err := h.tracker.GetStatus("run-canceled")
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunStatusQueued, *status)
}

func TestWorkerPool_Stop(t *testing.T) {
	t.Parallel()

	t.Run("StopBeforeStart", func(t *testing.T) {
		t.Parallel()
		pool, err := NewWorkerPool(Config{
			Queue:   NewQueue(1),
			Tracker: NewTracker(),
			Executor: func(_ context.Context, _ *interfaces.PipelineRun) (*interfaces.RunResult, error) {
				return nil, nil
			},
		})
		require.NoError(t, err)
		require.NoError(t, pool.Stop(context.Background()))
	})

	t.Run("StopAfterDrain", func(t *testing.T) {
		t.Parallel()
		executor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
			return &interfaces.RunResult{RunID: run.ID, Success: true, CompletedAt: time.Now()}, nil
		}
		h := newPoolHarness(t, executor, nil)

		h.pool.Start()
		h.submit(t, "run-1")
		waitForStatus(t, h.tracker, "run-1", interfaces.RunStatusSucceeded)

		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, h.pool.Stop(stopCtx))
	})

	t.Run("StopCancelsExecutorContext", func(t *testing.T) {
		t.Parallel()
		started := make(chan struct{})
		executor := func(ctx context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		h := newPoolHarness(t, executor, nil)

		h.pool.Start()
		h.submit(t, "run-1")

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("executor never started")
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, h.pool.Stop(stopCtx))

		waitForStatus(t, h.tracker, "run-1", interfaces.RunStatusFailed)
	})
}
