package embedded

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

func queuedRun(id string) *interfaces.PipelineRun {
	return &interfaces.PipelineRun{
		ID:        id,
		Status:    interfaces.RunStatusQueued,
		CreatedAt: time.Now(),
		Request: &interfaces.RunRequest{
			Environment: "staging",
			Operation:   interfaces.OperationDeploy,
		},
	}
}

func TestQueue_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("SuccessfulEnqueue", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)

		err := queue.Enqueue(context.Background(), queuedRun("run-123"))
		require.NoError(t, err)
		assert.Equal(t, 1, queue.Size())
	})

	t.Run("NilRun", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		err := queue.Enqueue(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run is nil")
	})

	t.Run("EmptyID", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		err := queue.Enqueue(context.Background(), &interfaces.PipelineRun{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run ID is empty")
	})

	t.Run("DuplicateID", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		require.NoError(t, queue.Enqueue(context.Background(), queuedRun("run-1")))

		err := queue.Enqueue(context.Background(), queuedRun("run-1"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already queued")
	})

	t.Run("QueueFull", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(1)
		require.NoError(t, queue.Enqueue(context.Background(), queuedRun("run-1")))

		err := queue.Enqueue(context.Background(), queuedRun("run-2"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue is full")
	})

	t.Run("ContextCanceled", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := queue.Enqueue(ctx, queuedRun("run-123"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "canceled")
	})

	t.Run("QueueClosed", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		queue.Close()

		err := queue.Enqueue(context.Background(), queuedRun("run-123"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue is closed")
	})
}

func TestQueue_Dequeue(t *testing.T) {
	t.Parallel()

	t.Run("SuccessfulDequeue", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		require.NoError(t, queue.Enqueue(context.Background(), queuedRun("run-123")))

		got, err := queue.Dequeue(context.Background())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "run-123", got.ID)
		assert.Equal(t, 0, queue.Size())
	})

	t.Run("FIFOOrder", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		for i := 0; i < 3; i++ {
			require.NoError(t, queue.Enqueue(context.Background(), queuedRun(fmt.Sprintf("run-%d", i))))
		}

		for i := 0; i < 3; i++ {
			got, err := queue.Dequeue(context.Background())
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("run-%d", i), got.ID)
		}
	})

	t.Run("EmptyQueueTimesOut", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		got, err := queue.Dequeue(ctx)
		require.Error(t, err)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("QueueClosedWhileWaiting", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		go func() {
			time.Sleep(50 * time.Millisecond)
			queue.Close()
		}()

		got, err := queue.Dequeue(context.Background())
		require.Error(t, err)
		assert.Nil(t, got)
		assert.Contains(t, err.Error(), "queue is closed")
	})
}

func TestQueue_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("CanceledRunNeverDequeues", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		require.NoError(t, queue.Enqueue(context.Background(), queuedRun("run-doomed")))
		require.NoError(t, queue.Enqueue(context.Background(), queuedRun("run-live")))

		require.NoError(t, queue.Cancel(context.Background(), "run-doomed"))

		// The worker sees only the surviving run
		got, err := queue.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "run-live", got.ID)
	})

	t.Run("NotQueued", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		err := queue.Cancel(context.Background(), "non-existent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("EmptyID", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		err := queue.Cancel(context.Background(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run ID is empty")
	})

	t.Run("AlreadyDequeued", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		require.NoError(t, queue.Enqueue(context.Background(), queuedRun("run-1")))
		_, err := queue.Dequeue(context.Background())
		require.NoError(t, err)

		err = queue.Cancel(context.Background(), "run-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestQueue_Properties(t *testing.T) {
	t.Parallel()

	t.Run("DefaultCapacity", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(0)
		assert.Equal(t, DefaultQueueCapacity, queue.Capacity())
	})

	t.Run("CustomCapacity", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(50)
		assert.Equal(t, 50, queue.Capacity())
	})

	t.Run("MultipleClosesSafe", func(t *testing.T) {
		t.Parallel()
		queue := NewQueue(10)
		queue.Close()
		queue.Close()
	})
}

func TestQueue_Metrics(t *testing.T) {
	t.Parallel()

	queue := NewQueue(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, queue.Enqueue(ctx, queuedRun(fmt.Sprintf("run-%d", i))))
	}
	_, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	m := queue.GetMetrics()
	assert.Equal(t, int64(3), m.TotalEnqueued)
	assert.Equal(t, int64(1), m.TotalDequeued)
	assert.Equal(t, 2, m.CurrentDepth)
	assert.False(t, m.OldestRun.IsZero())
	assert.GreaterOrEqual(t, m.AverageWaitTime, time.Duration(0))
}
