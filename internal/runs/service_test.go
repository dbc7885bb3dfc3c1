package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/mocks"
)

const testRunShortID = "run-123"

// createTestService is a helper to build a service with just queue and
// tracker
func createTestService(t *testing.T, queue interfaces.RunQueue, tracker interfaces.RunTracker) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Queue:   queue,
		Tracker: tracker,
	})
	require.NoError(t, err)
	return service
}

func testManifest(t *testing.T) *config.Manifest {
	t.Helper()
	manifest, err := config.ParseManifest([]byte(`
version: 1
environments:
  - name: staging
    region: us-east-1
    infra_dir: infra/staging
  - name: production
    region: us-west-2
    infra_dir: infra/production
`))
	require.NoError(t, err)
	return manifest
}

func TestNewService(t *testing.T) {
	t.Parallel()
	t.Run("ReturnsErrorWithNilQueue", func(t *testing.T) {
		t.Parallel()
		tracker := new(mocks.RunTracker)
		service, err := NewService(ServiceConfig{
			Queue:   nil,
			Tracker: tracker,
		})
		require.Error(t, err)
		assert.Nil(t, service)
		assert.Equal(t, "run queue is required", err.Error())
	})

	t.Run("ReturnsErrorWithNilTracker", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		service, err := NewService(ServiceConfig{
			Queue:   queue,
			Tracker: nil,
		})
		require.Error(t, err)
		assert.Nil(t, service)
		assert.Equal(t, "run tracker is required", err.Error())
	})

	t.Run("CreatesServiceSuccessfully", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service, err := NewService(ServiceConfig{
			Queue:   queue,
			Tracker: tracker,
		})
		require.NoError(t, err)
		assert.NotNil(t, service)
	})
}

func TestCreateRun(t *testing.T) { //nolint:funlen // Test function with comprehensive test cases
	t.Parallel()

	t.Run("SuccessfulCreation", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		request := &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationDeploy,
		}

		tracker.On("Register", mock.MatchedBy(func(r *interfaces.PipelineRun) bool {
			return r.Request == request && r.Status == interfaces.RunStatusQueued
		})).Return(nil)
		queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(r *interfaces.PipelineRun) bool {
			return r.Request == request && r.Status == interfaces.RunStatusQueued
		})).Return(nil)

		run, err := service.CreateRun(context.Background(), request, CreateOptions{})

		require.NoError(t, err)
		assert.NotNil(t, run)
		assert.Equal(t, request, run.Request)
		assert.Equal(t, interfaces.RunStatusQueued, run.Status)
		assert.NotEmpty(t, run.ID)
		assert.NotZero(t, run.CreatedAt)
		tracker.AssertExpectations(t)
		queue.AssertExpectations(t)
	})

	t.Run("CallerSuppliedIDAndRequestID", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		request := &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationDestroy,
		}
		tracker.On("Register", mock.Anything).Return(nil)
		queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

		run, err := service.CreateRun(context.Background(), request, CreateOptions{
			RunID:     testRunShortID,
			RequestID: "req-7",
		})

		require.NoError(t, err)
		assert.Equal(t, testRunShortID, run.ID)
		assert.Equal(t, "req-7", run.RequestID)
	})

	t.Run("NilRequestError", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		run, err := service.CreateRun(context.Background(), nil, CreateOptions{})

		require.Error(t, err)
		assert.Nil(t, run)
		assert.Equal(t, "run request is required", err.Error())
	})

	t.Run("MissingEnvironment", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Operation: interfaces.OperationDeploy,
		}, CreateOptions{})

		require.Error(t, err)
		assert.Nil(t, run)
		assert.Equal(t, "environment is required", err.Error())
	})

	t.Run("UnknownOperation", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Environment: "staging",
			Operation:   "migrate",
		}, CreateOptions{})

		require.Error(t, err)
		assert.Nil(t, run)
		assert.Contains(t, err.Error(), `unknown operation "migrate"`)
	})

	t.Run("StepOrdinalOutOfRange", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationStep,
			StepOrdinal: 6,
		}, CreateOptions{})

		require.Error(t, err)
		assert.Nil(t, run)
		assert.Contains(t, err.Error(), "step ordinal must be between 1 and 5")
	})

	t.Run("OrdinalRejectedForDeploy", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationDeploy,
			StepOrdinal: 2,
		}, CreateOptions{})

		require.Error(t, err)
		assert.Nil(t, run)
		assert.Contains(t, err.Error(), "does not take a step ordinal")
	})

	t.Run("UnknownEnvironmentWithManifest", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service, err := NewService(ServiceConfig{
			Queue:    queue,
			Tracker:  tracker,
			Manifest: testManifest(t),
		})
		require.NoError(t, err)

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Environment: "qa",
			Operation:   interfaces.OperationDeploy,
		}, CreateOptions{})

		require.Error(t, err)
		assert.Nil(t, run)
		var unknown *config.UnknownEnvironmentError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "qa", unknown.Name)
	})

	t.Run("KnownEnvironmentWithManifest", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service, err := NewService(ServiceConfig{
			Queue:    queue,
			Tracker:  tracker,
			Manifest: testManifest(t),
		})
		require.NoError(t, err)

		tracker.On("Register", mock.Anything).Return(nil)
		queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Environment: "production",
			Operation:   interfaces.OperationDeploy,
		}, CreateOptions{})

		require.NoError(t, err)
		assert.NotNil(t, run)
	})

	t.Run("DuplicateRegistrationReportsConflict", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		tracker.On("Register", mock.Anything).Return(errors.New("run run-123 already exists"))

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationDeploy,
		}, CreateOptions{RunID: testRunShortID})

		require.Error(t, err)
		assert.Nil(t, run)
		require.ErrorIs(t, err, interfaces.ErrRunAlreadyQueued)
		tracker.AssertExpectations(t)
	})

	t.Run("EnqueueFailureRollsBackRegistration", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		expectedError := errors.New("queue is full")
		tracker.On("Register", mock.Anything).Return(nil)
		queue.On("Enqueue", mock.Anything, mock.Anything).Return(expectedError)
		tracker.On("Remove", mock.AnythingOfType("string")).Return(nil)

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationDeploy,
		}, CreateOptions{})

		require.Error(t, err)
		assert.Nil(t, run)
		require.ErrorIs(t, err, expectedError)
		tracker.AssertExpectations(t)
		queue.AssertExpectations(t)
	})

	t.Run("EnqueueConflictSurfacesSentinel", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		tracker.On("Register", mock.Anything).Return(nil)
		queue.On("Enqueue", mock.Anything, mock.Anything).Return(interfaces.ErrRunAlreadyQueued)
		tracker.On("Remove", mock.AnythingOfType("string")).Return(nil)

		run, err := service.CreateRun(context.Background(), &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationDeploy,
		}, CreateOptions{})

		require.Error(t, err)
		assert.Nil(t, run)
		require.ErrorIs(t, err, interfaces.ErrRunAlreadyQueued)
	})
}

func TestGetRun(t *testing.T) {
	t.Parallel()
	t.Run("FoundRun", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		expected := &interfaces.PipelineRun{ID: testRunShortID, Status: interfaces.RunStatusRunning}
		tracker.On("GetByID", testRunShortID).Return(expected, nil)

		run, err := service.GetRun(testRunShortID)

		require.NoError(t, err)
		assert.Equal(t, expected, run)
	})

	t.Run("NotFoundMapsToSentinel", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		tracker.On("GetByID", "missing").Return(nil, errors.New("run missing not found"))

		run, err := service.GetRun("missing")

		require.Error(t, err)
		assert.Nil(t, run)
		require.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("EmptyID", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		run, err := service.GetRun("")

		require.Error(t, err)
		assert.Nil(t, run)
	})
}

func TestGetRunResult(t *testing.T) {
	t.Parallel()
	t.Run("PendingRunHasNilResult", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		tracker.On("GetResult", testRunShortID).Return(nil, nil)

		result, err := service.GetRunResult(testRunShortID)

		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("CompletedRunResult", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		expected := &interfaces.RunResult{
			RunID:       testRunShortID,
			Environment: "staging",
			Success:     true,
			CompletedAt: time.Now(),
		}
		tracker.On("GetResult", testRunShortID).Return(expected, nil)

		result, err := service.GetRunResult(testRunShortID)

		require.NoError(t, err)
		assert.Equal(t, expected, result)
	})
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	t.Run("SuccessfulList", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		expected := []*interfaces.PipelineRun{
			{ID: "run-1", Status: interfaces.RunStatusQueued},
			{ID: "run-2", Status: interfaces.RunStatusSucceeded},
		}
		filter := interfaces.RunFilter{Environment: "staging"}
		tracker.On("List", filter).Return(expected, nil)

		listed, err := service.ListRuns(filter)

		require.NoError(t, err)
		assert.Equal(t, expected, listed)
		tracker.AssertExpectations(t)
	})

	t.Run("ErrorFromTracker", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		expectedError := errors.New("database error")
		tracker.On("List", interfaces.RunFilter{}).Return(nil, expectedError)

		listed, err := service.ListRuns(interfaces.RunFilter{})

		require.Error(t, err)
		assert.Nil(t, listed)
		require.ErrorIs(t, err, expectedError)
	})
}

func TestCancelRun(t *testing.T) { //nolint:funlen // Test function with comprehensive test cases
	t.Parallel()

	t.Run("CancelsQueuedRun", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		queued := interfaces.RunStatusQueued
		tracker.On("GetStatus", testRunShortID).Return(&queued, nil)
		queue.On("Cancel", mock.Anything, testRunShortID).Return(nil)
		tracker.On("SetStatus", testRunShortID, interfaces.RunStatusCanceled).Return(nil)

		err := service.CancelRun(context.Background(), testRunShortID)

		require.NoError(t, err)
		tracker.AssertExpectations(t)
		queue.AssertExpectations(t)
	})

	t.Run("RunningRunNotCancelable", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		running := interfaces.RunStatusRunning
		tracker.On("GetStatus", testRunShortID).Return(&running, nil)

		err := service.CancelRun(context.Background(), testRunShortID)

		require.Error(t, err)
		require.ErrorIs(t, err, ErrRunNotCancelable)
		queue.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	})

	t.Run("TerminalRunNotCancelable", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		done := interfaces.RunStatusSucceeded
		tracker.On("GetStatus", testRunShortID).Return(&done, nil)

		err := service.CancelRun(context.Background(), testRunShortID)

		require.Error(t, err)
		require.ErrorIs(t, err, ErrRunNotCancelable)
	})

	t.Run("NotFoundMapsToSentinel", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		tracker.On("GetStatus", "missing").Return(nil, errors.New("run missing not found"))

		err := service.CancelRun(context.Background(), "missing")

		require.Error(t, err)
		require.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("QueueCancelFailure", func(t *testing.T) {
		t.Parallel()
		queue := new(mocks.RunQueue)
		tracker := new(mocks.RunTracker)
		service := createTestService(t, queue, tracker)

		queued := interfaces.RunStatusQueued
		expectedError := errors.New("queue unavailable")
		tracker.On("GetStatus", testRunShortID).Return(&queued, nil)
		queue.On("Cancel", mock.Anything, testRunShortID).Return(expectedError)

		err := service.CancelRun(context.Background(), testRunShortID)

		require.Error(t, err)
		require.ErrorIs(t, err, expectedError)
		tracker.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything)
	})
}

func TestGetQueueMetrics(t *testing.T) {
	t.Parallel()
	queue := new(mocks.RunQueue)
	tracker := new(mocks.RunTracker)
	service := createTestService(t, queue, tracker)

	expected := interfaces.QueueMetrics{
		TotalEnqueued: 5,
		TotalDequeued: 3,
		CurrentDepth:  2,
	}
	queue.On("GetMetrics").Return(expected)

	assert.Equal(t, expected, service.GetQueueMetrics())
}
