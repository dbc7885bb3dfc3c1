package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

func TestEventBus(t *testing.T) { //nolint:funlen // Test function with comprehensive test cases
	t.Parallel()

	t.Run("StatusChangeEvent", func(t *testing.T) {
		t.Parallel()
		eb := NewEventBus()

		var received RunEvent
		var wg sync.WaitGroup
		wg.Add(1)

		eb.Subscribe(EventStatusChanged, func(event RunEvent) {
			received = event
			wg.Done()
		})

		eb.PublishStatusChange("test-run", interfaces.RunStatusSucceeded)

		wg.Wait()

		assert.Equal(t, EventStatusChanged, received.Type)
		assert.Equal(t, "test-run", received.RunID)
		require.NotNil(t, received.Status)
		assert.Equal(t, interfaces.RunStatusSucceeded, *received.Status)
	})

	t.Run("ResultEvent", func(t *testing.T) {
		t.Parallel()
		eb := NewEventBus()

		var received RunEvent
		var wg sync.WaitGroup
		wg.Add(1)

		eb.Subscribe(EventResultReady, func(event RunEvent) {
			received = event
			wg.Done()
		})

		result := &interfaces.RunResult{
			RunID:       "test-run",
			Environment: "staging",
			Success:     true,
			CompletedAt: time.Now(),
		}
		eb.PublishResult("test-run", result)

		wg.Wait()

		assert.Equal(t, EventResultReady, received.Type)
		assert.Equal(t, "test-run", received.RunID)
		assert.Equal(t, "staging", received.Environment)
		assert.Equal(t, result, received.Result)
	})

	t.Run("StepCompletedEvent", func(t *testing.T) {
		t.Parallel()
		eb := NewSynchronousEventBus()

		var received RunEvent
		eb.Subscribe(EventStepCompleted, func(event RunEvent) {
			received = event
		})

		eb.PublishStepCompleted("test-run", "staging", interfaces.StepResult{
			Name:    "provision-infrastructure",
			Ordinal: 1,
			Status:  interfaces.StepStatusSucceeded,
		})

		require.NotNil(t, received.Step)
		assert.Equal(t, "provision-infrastructure", received.Step.Name)
		assert.Equal(t, "staging", received.Environment)
	})

	t.Run("JobCompletedEvent", func(t *testing.T) {
		t.Parallel()
		eb := NewSynchronousEventBus()

		var received RunEvent
		eb.Subscribe(EventJobCompleted, func(event RunEvent) {
			received = event
		})

		eb.PublishJobCompleted("staging", interfaces.JobOutcome{
			Name: "schema-migrate",
			Wave: 1,
		})

		require.NotNil(t, received.Job)
		assert.Equal(t, "schema-migrate", received.Job.Name)
		assert.Equal(t, 1, received.Job.Wave)
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		t.Parallel()
		eb := NewEventBus()

		var count int
		var mu sync.Mutex
		var wg sync.WaitGroup
		wg.Add(3)

		for i := 0; i < 3; i++ {
			eb.Subscribe(EventStatusChanged, func(_ RunEvent) {
				mu.Lock()
				count++
				mu.Unlock()
				wg.Done()
			})
		}

		eb.PublishStatusChange("test-run", interfaces.RunStatusSucceeded)

		wg.Wait()

		assert.Equal(t, 3, count)
	})
}

func TestTrackerAdapter(t *testing.T) {
	t.Parallel()

	tracker := &memoryTracker{
		statuses: make(map[string]interfaces.RunStatus),
		results:  make(map[string]*interfaces.RunResult),
	}

	eb := NewSynchronousEventBus()
	ConnectTrackerToEventBus(eb, tracker)

	//nolint:paralleltest // subtests share tracker state
	t.Run("StatusUpdate", func(t *testing.T) {
		eb.PublishStatusChange("test-run", interfaces.RunStatusRunning)

		statusPtr, err := tracker.GetStatus("test-run")
		require.NoError(t, err)
		require.NotNil(t, statusPtr)
		assert.Equal(t, interfaces.RunStatusRunning, *statusPtr)
	})

	//nolint:paralleltest // subtests share tracker state
	t.Run("ResultUpdate", func(t *testing.T) {
		result := &interfaces.RunResult{
			RunID:       "test-run",
			Environment: "staging",
			Success:     true,
			CompletedAt: time.Now(),
		}
		eb.PublishResult("test-run", result)

		storedResult, err := tracker.GetResult("test-run")
		require.NoError(t, err)
		assert.Equal(t, result, storedResult)
	})
}

// memoryTracker implements a simple in-memory tracker for testing
type memoryTracker struct {
	mu       sync.Mutex
	statuses map[string]interfaces.RunStatus
	results  map[string]*interfaces.RunResult
	runs     map[string]*interfaces.PipelineRun
}

func (m *memoryTracker) Register(run *interfaces.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]*interfaces.PipelineRun)
	}
	m.runs[run.ID] = run
	m.statuses[run.ID] = run.Status
	return nil
}

func (m *memoryTracker) GetByID(runID string) (*interfaces.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, exists := m.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}

func (m *memoryTracker) GetStatus(runID string) (*interfaces.RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, exists := m.statuses[runID]
	if !exists {
		return nil, nil
	}
	return &status, nil
}

func (m *memoryTracker) SetStatus(runID string, status interfaces.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[runID] = status
	return nil
}

func (m *memoryTracker) GetResult(runID string) (*interfaces.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[runID], nil
}

func (m *memoryTracker) SetResult(runID string, result *interfaces.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[runID] = result
	return nil
}

func (m *memoryTracker) Heartbeat(runID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, exists := m.runs[runID]; exists {
		run.LastHeartbeat = at
	}
	return nil
}

func (m *memoryTracker) List(_ interfaces.RunFilter) ([]*interfaces.PipelineRun, error) {
	return nil, nil
}

func (m *memoryTracker) Remove(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, runID)
	delete(m.results, runID)
	delete(m.runs, runID)
	return nil
}
