//go:build integration
// +build integration

package distributed_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/runs/distributed"
	"github.com/flightdeck/flightdeck/internal/runs/distributed/testutil"
)

func TestDistributedSystem_EndToEnd(t *testing.T) {
	t.Parallel()

	redisSetup := testutil.SetupRedis(t)
	redisOpt := testutil.ParseRedisOpt(t, redisSetup.URL)

	queue, err := distributed.NewQueue(redisSetup.URL)
	require.NoError(t, err)
	defer queue.Close()

	tracker, err := distributed.NewTracker(redisOpt)
	require.NoError(t, err)
	defer tracker.Close()

	executorCalled := int32(0)
	testExecutor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		atomic.AddInt32(&executorCalled, 1)
		time.Sleep(50 * time.Millisecond)
		return &interfaces.RunResult{
			RunID:       run.ID,
			Environment: run.Request.Environment,
			Success:     true,
			Outputs:     map[string]string{"cluster_name": "staging-eks"},
			CompletedAt: time.Now(),
		}, nil
	}

	pool, err := distributed.NewWorkerPool(distributed.Config{
		RedisURL:    redisSetup.URL,
		Tracker:     tracker,
		Executor:    testExecutor,
		Concurrency: 2,
	})
	require.NoError(t, err)

	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	run := testutil.CreateTestRun("e2e-test-1")
	require.NoError(t, tracker.Register(run))
	require.NoError(t, queue.Enqueue(context.Background(), run))

	assert.Eventually(t, func() bool {
		status, err := tracker.GetStatus(run.ID)
		if err != nil {
			return false
		}
		return status != nil && *status == interfaces.RunStatusSucceeded
	}, 5*time.Second, 100*time.Millisecond, "run should succeed")

	assert.Equal(t, int32(1), atomic.LoadInt32(&executorCalled))

	// Result survives the Redis round trip
	result, err := tracker.GetResult(run.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "staging-eks", result.Outputs["cluster_name"])

	// Worker identity and heartbeat were recorded while running
	stored, err := tracker.GetByID(run.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ProcessingWorkerID)
	assert.False(t, stored.LastHeartbeat.IsZero())
}

func TestDistributedSystem_MultipleRuns(t *testing.T) {
	t.Parallel()

	redisSetup := testutil.SetupRedis(t)
	redisOpt := testutil.ParseRedisOpt(t, redisSetup.URL)

	queue, err := distributed.NewQueue(redisSetup.URL)
	require.NoError(t, err)
	defer queue.Close()

	tracker, err := distributed.NewTracker(redisOpt)
	require.NoError(t, err)
	defer tracker.Close()

	var processedCount int32
	var mu sync.Mutex
	processedIDs := make(map[string]bool)

	testExecutor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		atomic.AddInt32(&processedCount, 1)
		mu.Lock()
		processedIDs[run.ID] = true
		mu.Unlock()
		time.Sleep(time.Duration(10+len(run.ID)%20) * time.Millisecond)
		return &interfaces.RunResult{RunID: run.ID, Success: true, CompletedAt: time.Now()}, nil
	}

	pool, err := distributed.NewWorkerPool(distributed.Config{
		RedisURL:    redisSetup.URL,
		Tracker:     tracker,
		Executor:    testExecutor,
		Concurrency: 5,
	})
	require.NoError(t, err)

	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	const numRuns = 10
	for i := 0; i < numRuns; i++ {
		run := testutil.CreateTestRun(fmt.Sprintf("multi-test-%d", i))
		require.NoError(t, tracker.Register(run))
		require.NoError(t, queue.Enqueue(context.Background(), run))
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&processedCount) == numRuns
	}, 10*time.Second, 100*time.Millisecond)

	mu.Lock()
	assert.Len(t, processedIDs, numRuns)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		runs, err := tracker.List(interfaces.RunFilter{
			Status: []interfaces.RunStatus{interfaces.RunStatusSucceeded},
		})
		if err != nil {
			return false
		}
		return len(runs) >= numRuns
	}, 5*time.Second, 100*time.Millisecond, "not all runs reached succeeded status")
}

func TestDistributedSystem_FailedRun(t *testing.T) {
	t.Parallel()

	redisSetup := testutil.SetupRedis(t)
	redisOpt := testutil.ParseRedisOpt(t, redisSetup.URL)

	queue, err := distributed.NewQueue(redisSetup.URL)
	require.NoError(t, err)
	defer queue.Close()

	tracker, err := distributed.NewTracker(redisOpt)
	require.NoError(t, err)
	defer tracker.Close()

	testExecutor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		return nil, fmt.Errorf("environment %s is locked", run.Request.Environment)
	}

	pool, err := distributed.NewWorkerPool(distributed.Config{
		RedisURL:    redisSetup.URL,
		Tracker:     tracker,
		Executor:    testExecutor,
		Concurrency: 1,
	})
	require.NoError(t, err)

	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	run := testutil.CreateTestRun("fail-test")
	require.NoError(t, tracker.Register(run))
	require.NoError(t, queue.Enqueue(context.Background(), run))

	assert.Eventually(t, func() bool {
		status, err := tracker.GetStatus(run.ID)
		if err != nil {
			return false
		}
		return status != nil && *status == interfaces.RunStatusFailed
	}, 5*time.Second, 100*time.Millisecond, "run should fail")

	result, err := tracker.GetResult(run.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "is locked")

	stored, err := tracker.GetByID(run.ID)
	require.NoError(t, err)
	require.Error(t, stored.LastError)
}

func TestDistributedSystem_PanicRecovery(t *testing.T) {
	t.Parallel()

	redisSetup := testutil.SetupRedis(t)
	redisOpt := testutil.ParseRedisOpt(t, redisSetup.URL)

	queue, err := distributed.NewQueue(redisSetup.URL)
	require.NoError(t, err)
	defer queue.Close()

	tracker, err := distributed.NewTracker(redisOpt)
	require.NoError(t, err)
	defer tracker.Close()

	testExecutor := func(_ context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		if run.ID == "panic-test" {
			panic("executor blew up")
		}
		return &interfaces.RunResult{RunID: run.ID, Success: true, CompletedAt: time.Now()}, nil
	}

	pool, err := distributed.NewWorkerPool(distributed.Config{
		RedisURL:    redisSetup.URL,
		Tracker:     tracker,
		Executor:    testExecutor,
		Concurrency: 1,
	})
	require.NoError(t, err)

	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	panicking := testutil.CreateTestRun("panic-test")
	require.NoError(t, tracker.Register(panicking))
	require.NoError(t, queue.Enqueue(context.Background(), panicking))

	assert.Eventually(t, func() bool {
		status, err := tracker.GetStatus(panicking.ID)
		if err != nil {
			return false
		}
		return status != nil && *status == interfaces.RunStatusFailed
	}, 5*time.Second, 100*time.Millisecond, "panicking run should be marked failed")

	// The worker survives and keeps processing
	after := testutil.CreateTestRun("after-panic")
	require.NoError(t, tracker.Register(after))
	require.NoError(t, queue.Enqueue(context.Background(), after))

	assert.Eventually(t, func() bool {
		status, err := tracker.GetStatus(after.ID)
		if err != nil {
			return false
		}
		return status != nil && *status == interfaces.RunStatusSucceeded
	}, 5*time.Second, 100*time.Millisecond, "worker should keep processing after a panic")
}

func TestDistributedQueue_DuplicateAndCancel(t *testing.T) {
	t.Parallel()

	redisSetup := testutil.SetupRedis(t)

	queue, err := distributed.NewQueue(redisSetup.URL)
	require.NoError(t, err)
	defer queue.Close()

	ctx := context.Background()

	t.Run("DuplicateEnqueueRejected", func(t *testing.T) {
		run := testutil.CreateTestRun("dup-test")
		require.NoError(t, queue.Enqueue(ctx, run))

		err := queue.Enqueue(ctx, run)
		require.Error(t, err)
		assert.True(t, errors.Is(err, interfaces.ErrRunAlreadyQueued))
	})

	t.Run("CancelRemovesQueuedRun", func(t *testing.T) {
		run := testutil.CreateTestRun("cancel-test")
		require.NoError(t, queue.Enqueue(ctx, run))

		require.NoError(t, queue.Cancel(ctx, run.ID))

		// The slot frees up for a fresh submission
		require.NoError(t, queue.Enqueue(ctx, testutil.CreateTestRun("cancel-test")))
	})

	t.Run("CancelUnknownRun", func(t *testing.T) {
		err := queue.Cancel(ctx, "never-enqueued")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found in queue")
	})

	t.Run("Metrics", func(t *testing.T) {
		metrics := queue.GetMetrics()
		// dup-test and the re-enqueued cancel-test are still pending
		assert.GreaterOrEqual(t, metrics.CurrentDepth, 2)
		assert.GreaterOrEqual(t, metrics.TotalEnqueued, int64(2))
		assert.False(t, metrics.OldestRun.IsZero())
	})
}
