package waves

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/internal/mocks"
)

// jobSpec builds a test job with a fast poll cadence so failing loops
// terminate quickly
func jobSpec(name string, wave int) interfaces.JobSpec {
	return interfaces.JobSpec{
		Name:         name,
		Wave:         wave,
		ManifestPath: "manifests/" + name + ".yaml",
		Namespace:    "data",
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	}
}

func TestScheduler_RunsWavesInAscendingOrder(t *testing.T) {
	t.Parallel()

	cluster := &mocks.MockClusterClient{}
	scheduler := NewScheduler(cluster)

	// Declared out of order; wave 1 must run first, and within wave 1
	// declaration order holds
	jobs := []interfaces.JobSpec{
		jobSpec("aggregate", 2),
		jobSpec("load-users", 1),
		jobSpec("load-orders", 1),
	}

	outcomes, err := scheduler.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	names := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		names = append(names, outcome.Name)
		assert.Equal(t, interfaces.PollStateComplete, outcome.State)
		assert.GreaterOrEqual(t, outcome.Attempts, 1)
	}
	assert.Equal(t, []string{"load-users", "load-orders", "aggregate"}, names)

	// Each job clears its previous instance before submitting
	assert.Equal(t, []string{
		"delete job/load-users",
		"apply manifests/load-users.yaml",
		"delete job/load-orders",
		"apply manifests/load-orders.yaml",
		"delete job/aggregate",
		"apply manifests/aggregate.yaml",
	}, cluster.Ops())
}

func TestScheduler_PollsUntilJobSucceeds(t *testing.T) {
	t.Parallel()

	var checks int
	cluster := &mocks.MockClusterClient{
		JobStatusFunc: func(_ context.Context, _, _ string) (*interfaces.JobStatus, error) {
			checks++
			if checks < 3 {
				return &interfaces.JobStatus{Exists: true, Active: 1}, nil
			}
			return &interfaces.JobStatus{Exists: true, Succeeded: 1}, nil
		},
	}
	scheduler := NewScheduler(cluster)

	outcomes, err := scheduler.Run(context.Background(), []interfaces.JobSpec{jobSpec("migrate", 1)})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, interfaces.PollStateComplete, outcomes[0].State)
	assert.Equal(t, 3, outcomes[0].Attempts)
	assert.Equal(t, "active=0 succeeded=1 failed=0", outcomes[0].LastStatus)
}

func TestScheduler_FailureAbortsRemainingJobs(t *testing.T) {
	t.Parallel()

	var logSelector string
	cluster := &mocks.MockClusterClient{
		JobStatusFunc: func(_ context.Context, name, _ string) (*interfaces.JobStatus, error) {
			if name == "bad-load" {
				return &interfaces.JobStatus{Exists: true, Failed: 1, FailureReason: "BackoffLimitExceeded"}, nil
			}
			return &interfaces.JobStatus{Exists: true, Succeeded: 1}, nil
		},
		PodLogTailFunc: func(_ context.Context, selector, _ string, _ int) (string, error) {
			logSelector = selector
			return "ERROR: duplicate key value violates unique constraint\n", nil
		},
	}
	scheduler := NewScheduler(cluster)

	jobs := []interfaces.JobSpec{
		jobSpec("schema", 1),
		jobSpec("bad-load", 1),
		jobSpec("never-runs", 1),
		jobSpec("later-wave", 2),
	}

	outcomes, err := scheduler.Run(context.Background(), jobs)
	require.Error(t, err)

	// Only the jobs before and including the failure were attempted
	require.Len(t, outcomes, 2)
	assert.Equal(t, "schema", outcomes[0].Name)
	assert.Equal(t, interfaces.PollStateComplete, outcomes[0].State)
	assert.Equal(t, "bad-load", outcomes[1].Name)
	assert.Equal(t, interfaces.PollStateFailed, outcomes[1].State)
	assert.Equal(t, "BackoffLimitExceeded", outcomes[1].LastStatus)

	assert.Contains(t, err.Error(), `job "bad-load" in wave 1 failed`)
	assert.Contains(t, err.Error(), "BackoffLimitExceeded")
	assert.Contains(t, err.Error(), "recent job logs:")
	assert.Contains(t, err.Error(), "duplicate key")
	assert.Equal(t, "job-name=bad-load", logSelector)

	ops := cluster.Ops()
	assert.NotContains(t, ops, "delete job/never-runs")
	assert.NotContains(t, ops, "apply manifests/never-runs.yaml")
	assert.NotContains(t, ops, "delete job/later-wave")
	assert.NotContains(t, ops, "apply manifests/later-wave.yaml")
}

func TestScheduler_JobVanishedAfterSubmission(t *testing.T) {
	t.Parallel()

	cluster := &mocks.MockClusterClient{
		JobStatusFunc: func(_ context.Context, _, _ string) (*interfaces.JobStatus, error) {
			return &interfaces.JobStatus{Exists: false}, nil
		},
	}
	scheduler := NewScheduler(cluster)

	outcomes, err := scheduler.Run(context.Background(), []interfaces.JobSpec{jobSpec("ghost", 1)})
	require.Error(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, interfaces.PollStateFailed, outcomes[0].State)
	assert.Equal(t, "not found after submission", outcomes[0].LastStatus)
	assert.Contains(t, err.Error(), "not found after submission")
}

func TestScheduler_TimeoutReportsLastStatus(t *testing.T) {
	t.Parallel()

	cluster := &mocks.MockClusterClient{
		JobStatusFunc: func(_ context.Context, _, _ string) (*interfaces.JobStatus, error) {
			return &interfaces.JobStatus{Exists: true, Active: 1}, nil
		},
		PodLogTailFunc: func(_ context.Context, _, _ string, _ int) (string, error) {
			return "still copying rows", nil
		},
	}
	scheduler := NewScheduler(cluster)

	spec := jobSpec("slow", 1)
	spec.PollInterval = 2 * time.Millisecond
	spec.PollTimeout = 20 * time.Millisecond

	outcomes, err := scheduler.Run(context.Background(), []interfaces.JobSpec{spec})
	require.Error(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, interfaces.PollStateTimedOut, outcomes[0].State)
	assert.Equal(t, "active=1 succeeded=0 failed=0", outcomes[0].LastStatus)
	assert.Equal(t, "still copying rows", outcomes[0].LogExcerpt)

	assert.True(t, interfaces.IsPollTimeout(err))
	assert.Contains(t, err.Error(), `timed out waiting for job "slow" in wave 1`)
	assert.Contains(t, err.Error(), "last status: active=1 succeeded=0 failed=0")
	assert.Contains(t, err.Error(), "still copying rows")
}

func TestScheduler_DeleteFailureSkipsApply(t *testing.T) {
	t.Parallel()

	cluster := &mocks.MockClusterClient{
		DeleteResourceFunc: func(_ context.Context, _, _, _ string, _ bool) error {
			return errors.New("admission webhook denied delete")
		},
	}
	scheduler := NewScheduler(cluster)

	outcomes, err := scheduler.Run(context.Background(), []interfaces.JobSpec{jobSpec("stuck", 1)})
	require.Error(t, err)
	require.Len(t, outcomes, 1)

	assert.Equal(t, interfaces.PollStateFailed, outcomes[0].State)
	assert.Contains(t, outcomes[0].LastStatus, "failed to delete previous job")
	assert.Contains(t, err.Error(), "failed to delete previous job")
	assert.NotContains(t, cluster.Ops(), "apply manifests/stuck.yaml")
}

func TestScheduler_EmptyJobList(t *testing.T) {
	t.Parallel()

	cluster := &mocks.MockClusterClient{}
	scheduler := NewScheduler(cluster)

	outcomes, err := scheduler.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Empty(t, cluster.Ops())
}

func TestScheduler_EmitsEventsAndMetrics(t *testing.T) {
	t.Parallel()

	cluster := &mocks.MockClusterClient{
		JobStatusFunc: func(_ context.Context, name, _ string) (*interfaces.JobStatus, error) {
			if name == "broken" {
				return &interfaces.JobStatus{Exists: true, Failed: 1}, nil
			}
			return &interfaces.JobStatus{Exists: true, Succeeded: 1}, nil
		},
	}

	bus := events.NewSynchronousEventBus()
	var completed []string
	bus.Subscribe(events.EventJobCompleted, func(event events.RunEvent) {
		assert.Equal(t, "staging", event.Environment)
		completed = append(completed, fmt.Sprintf("%s:%s", event.Job.Name, event.Job.State))
	})

	collector := metrics.NewCollector()
	scheduler := NewScheduler(cluster,
		WithEnvironment("staging"),
		WithEventBus(bus),
		WithMetrics(collector),
	)

	jobs := []interfaces.JobSpec{
		jobSpec("ok", 1),
		jobSpec("broken", 2),
	}

	_, err := scheduler.Run(context.Background(), jobs)
	require.Error(t, err)

	assert.Equal(t, []string{"ok:complete", "broken:failed"}, completed)
	assert.Equal(t, int64(1), collector.GetSystemMetrics().JobsFailed)
}

func TestScheduler_CancellationStopsRun(t *testing.T) {
	t.Parallel()

	cluster := &mocks.MockClusterClient{
		JobStatusFunc: func(_ context.Context, _, _ string) (*interfaces.JobStatus, error) {
			return &interfaces.JobStatus{Exists: true, Active: 1}, nil
		},
	}
	scheduler := NewScheduler(cluster)

	spec := jobSpec("endless", 1)
	spec.PollInterval = 2 * time.Millisecond
	spec.PollTimeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	outcomes, err := scheduler.Run(ctx, []interfaces.JobSpec{spec, jobSpec("after-cancel", 2)})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "interrupted")

	require.Len(t, outcomes, 1)
	assert.Equal(t, "endless", outcomes[0].Name)

	ops := cluster.Ops()
	assert.NotContains(t, ops, "delete job/after-cancel")
	assert.NotContains(t, ops, "apply manifests/after-cancel.yaml")
}
