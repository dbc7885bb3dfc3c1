package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/internal/runs/embedded"
)

func runningRun(t *testing.T, tracker *embedded.Tracker, id string) *interfaces.PipelineRun {
	t.Helper()
	run := &interfaces.PipelineRun{
		ID:        id,
		Status:    interfaces.RunStatusQueued,
		CreatedAt: time.Now(),
		Request:   &interfaces.RunRequest{Environment: "staging", Operation: interfaces.OperationDeploy},
	}
	require.NoError(t, tracker.Register(run))
	require.NoError(t, tracker.SetStatus(id, interfaces.RunStatusRunning))
	return run
}

func TestStaleRunMonitor_StartStop(t *testing.T) {
	t.Parallel()

	monitor := NewStaleRunMonitor(Config{
		Queue:        embedded.NewQueue(10),
		Tracker:      embedded.NewTracker(),
		ScanInterval: time.Second,
	})

	require.NoError(t, monitor.Start())
	assert.True(t, monitor.GetStats().Running)

	err := monitor.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, monitor.Stop(ctx))
	assert.False(t, monitor.GetStats().Running)

	// Second stop is a no-op
	require.NoError(t, monitor.Stop(context.Background()))
}

func TestStaleRunMonitor_Defaults(t *testing.T) {
	t.Parallel()

	monitor := NewStaleRunMonitor(Config{
		Queue:   embedded.NewQueue(10),
		Tracker: embedded.NewTracker(),
	})

	assert.Equal(t, time.Minute, monitor.scanInterval)
	assert.Equal(t, 10*time.Minute, monitor.staleThreshold)
	assert.Equal(t, 10*time.Minute, monitor.maxBackoff)
	assert.Equal(t, []string{"runs"}, monitor.queueNames)

	custom := NewStaleRunMonitor(Config{
		Queue:        embedded.NewQueue(10),
		Tracker:      embedded.NewTracker(),
		ScanInterval: 30 * time.Second,
	})
	assert.Equal(t, 5*time.Minute, custom.maxBackoff, "max backoff defaults to 10x scan interval")
}

func TestStaleRunMonitor_StaleRunFailed(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(100)
	collector := metrics.NewCollector()

	monitor := NewStaleRunMonitor(Config{
		Queue:          queue,
		Tracker:        tracker,
		Collector:      collector,
		ScanInterval:   50 * time.Millisecond,
		StaleThreshold: 100 * time.Millisecond,
		Reconcile:      true,
	})

	run := runningRun(t, tracker, "stale-test-1")

	require.NoError(t, monitor.Start())
	t.Cleanup(func() { _ = monitor.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		status, err := tracker.GetStatus(run.ID)
		if err != nil {
			return false
		}
		return *status == interfaces.RunStatusFailed
	}, 2*time.Second, 20*time.Millisecond, "stale run should be marked failed")

	// The settled result names the abandonment
	result, err := tracker.GetResult(run.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "run abandoned")

	assert.Equal(t, int64(1), collector.GetSystemMetrics().RunsFailed)

	stats := monitor.GetStats()
	assert.True(t, stats.Running)
	assert.False(t, stats.LastScan.IsZero())
}

func TestStaleRunMonitor_HeartbeatKeepsRunAlive(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(100)

	monitor := NewStaleRunMonitor(Config{
		Queue:          queue,
		Tracker:        tracker,
		ScanInterval:   30 * time.Millisecond,
		StaleThreshold: 150 * time.Millisecond,
		Reconcile:      true,
	})

	run := runningRun(t, tracker, "beating-run")

	// Keep the heartbeat fresh while the monitor scans
	stopBeats := make(chan struct{})
	beatsDone := make(chan struct{})
	go func() {
		defer close(beatsDone)
		ticker := time.NewTicker(40 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopBeats:
				return
			case at := <-ticker.C:
				_ = tracker.Heartbeat(run.ID, at)
			}
		}
	}()

	require.NoError(t, monitor.Start())
	t.Cleanup(func() { _ = monitor.Stop(context.Background()) })

	time.Sleep(400 * time.Millisecond)

	status, err := tracker.GetStatus(run.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunStatusRunning, *status, "heartbeating run must not be reaped")

	// Stop the beats and the same run goes stale
	close(stopBeats)
	<-beatsDone

	require.Eventually(t, func() bool {
		status, err := tracker.GetStatus(run.ID)
		if err != nil {
			return false
		}
		return *status == interfaces.RunStatusFailed
	}, 2*time.Second, 20*time.Millisecond, "run should fail once heartbeats stop")
}

func TestStaleRunMonitor_InitialScan(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(100)

	run := runningRun(t, tracker, "pre-existing-stale")
	time.Sleep(20 * time.Millisecond)

	monitor := NewStaleRunMonitor(Config{
		Queue:          queue,
		Tracker:        tracker,
		ScanInterval:   time.Minute,
		StaleThreshold: 5 * time.Millisecond,
		Reconcile:      true,
	})

	require.NoError(t, monitor.Start())
	t.Cleanup(func() { _ = monitor.Stop(context.Background()) })

	// The first scan happens at startup, not after the first interval
	require.Eventually(t, func() bool {
		status, err := tracker.GetStatus(run.ID)
		if err != nil {
			return false
		}
		return *status == interfaces.RunStatusFailed
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStaleRunMonitor_NoReconciliation(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(100)

	monitor := NewStaleRunMonitor(Config{
		Queue:          queue,
		Tracker:        tracker,
		ScanInterval:   30 * time.Millisecond,
		StaleThreshold: 10 * time.Millisecond,
		Reconcile:      false,
	})

	run := runningRun(t, tracker, "observe-only")
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, monitor.Start())
	t.Cleanup(func() { _ = monitor.Stop(context.Background()) })

	// Detection shows up in stats
	require.Eventually(t, func() bool {
		return monitor.GetStats().StaleCount > 0
	}, 2*time.Second, 10*time.Millisecond, "stale run should be counted")

	// But the run is left alone
	status, err := tracker.GetStatus(run.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunStatusRunning, *status)
}

func TestStaleRunMonitor_MultipleStaleRuns(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(100)

	monitor := NewStaleRunMonitor(Config{
		Queue:          queue,
		Tracker:        tracker,
		ScanInterval:   50 * time.Millisecond,
		StaleThreshold: time.Millisecond,
		Reconcile:      true,
	})

	for i := 0; i < 10; i++ {
		runningRun(t, tracker, fmt.Sprintf("bulk-%d", i))
	}
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, monitor.Start())
	t.Cleanup(func() { _ = monitor.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		failed, err := tracker.List(interfaces.RunFilter{
			Status: []interfaces.RunStatus{interfaces.RunStatusFailed},
		})
		return err == nil && len(failed) == 10
	}, 2*time.Second, 20*time.Millisecond, "every stale run should be settled")
}

func TestStaleRunMonitor_RequeueLostRun(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(100)

	monitor := NewStaleRunMonitor(Config{
		Queue:     queue,
		Tracker:   tracker,
		Reconcile: true,
	})

	run := &interfaces.PipelineRun{
		ID:        "requeue-test",
		Status:    interfaces.RunStatusQueued,
		CreatedAt: time.Now(),
		Request:   &interfaces.RunRequest{Environment: "staging", Operation: interfaces.OperationDeploy},
	}
	require.NoError(t, tracker.Register(run))

	// Tracked as queued but never enqueued; the drift handler puts it back
	monitor.requeueLostRun(run)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, dequeued.ID)
}

func TestStaleRunMonitor_RequeueAlreadyQueued(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(100)

	monitor := NewStaleRunMonitor(Config{
		Queue:     queue,
		Tracker:   tracker,
		Reconcile: true,
	})

	run := &interfaces.PipelineRun{
		ID:        "racing-run",
		Status:    interfaces.RunStatusQueued,
		CreatedAt: time.Now(),
		Request:   &interfaces.RunRequest{Environment: "staging", Operation: interfaces.OperationDeploy},
	}
	require.NoError(t, tracker.Register(run))
	require.NoError(t, queue.Enqueue(context.Background(), run))

	// A duplicate means the scan raced a real enqueue; the run must not
	// be settled as failed
	monitor.requeueLostRun(run)

	status, err := tracker.GetStatus(run.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunStatusQueued, *status)

	result, err := tracker.GetResult(run.ID)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestStaleRunMonitor_Backoff(t *testing.T) {
	t.Parallel()

	t.Run("IntervalGrowsWhenQuiet", func(t *testing.T) {
		t.Parallel()
		monitor := NewStaleRunMonitor(Config{
			Queue:          embedded.NewQueue(10),
			Tracker:        embedded.NewTracker(),
			ScanInterval:   20 * time.Millisecond,
			StaleThreshold: time.Hour,
			MaxBackoff:     60 * time.Millisecond,
		})

		require.NoError(t, monitor.Start())
		t.Cleanup(func() { _ = monitor.Stop(context.Background()) })

		require.Eventually(t, func() bool {
			monitor.mu.RLock()
			defer monitor.mu.RUnlock()
			return monitor.currentInterval == 60*time.Millisecond
		}, 2*time.Second, 10*time.Millisecond, "interval should reach the backoff cap")
	})

	t.Run("FindingsResetInterval", func(t *testing.T) {
		t.Parallel()
		tracker := embedded.NewTracker()
		monitor := NewStaleRunMonitor(Config{
			Queue:          embedded.NewQueue(10),
			Tracker:        tracker,
			ScanInterval:   20 * time.Millisecond,
			StaleThreshold: time.Millisecond,
			MaxBackoff:     100 * time.Millisecond,
			Reconcile:      false,
		})

		require.NoError(t, monitor.Start())
		t.Cleanup(func() { _ = monitor.Stop(context.Background()) })

		// Let the interval climb first
		require.Eventually(t, func() bool {
			monitor.mu.RLock()
			defer monitor.mu.RUnlock()
			return monitor.currentInterval > 20*time.Millisecond
		}, 2*time.Second, 10*time.Millisecond)

		// A stale run appears and the next scan snaps back to base
		runningRun(t, tracker, "backoff-reset")

		require.Eventually(t, func() bool {
			monitor.mu.RLock()
			defer monitor.mu.RUnlock()
			return monitor.currentInterval == 20*time.Millisecond && monitor.backoffMultiplier == 1.0
		}, 2*time.Second, 10*time.Millisecond, "interval should reset once a finding appears")
	})
}
