package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

func TestQueue_New(t *testing.T) {
	t.Parallel()

	t.Run("EmptyURL", func(t *testing.T) {
		t.Parallel()
		queue, err := NewQueue("")
		require.Error(t, err)
		assert.Nil(t, queue)
		assert.Contains(t, err.Error(), "redis URL is required")
	})

	t.Run("InvalidURL", func(t *testing.T) {
		t.Parallel()
		queue, err := NewQueue("not-a-redis-url")
		require.Error(t, err)
		assert.Nil(t, queue)
		assert.Contains(t, err.Error(), "failed to parse redis URL")
	})

	t.Run("ValidURL", func(t *testing.T) {
		t.Parallel()
		// Construction does not dial, so no Redis is needed here
		queue, err := NewQueue("redis://127.0.0.1:6379")
		require.NoError(t, err)
		require.NotNil(t, queue)
		require.NoError(t, queue.Close())
	})
}

func TestQueue_InputValidation(t *testing.T) {
	t.Parallel()

	queue, err := NewQueue("redis://127.0.0.1:6379")
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })

	ctx := context.Background()

	t.Run("EnqueueNilRun", func(t *testing.T) {
		t.Parallel()
		err := queue.Enqueue(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run is nil")
	})

	t.Run("EnqueueEmptyID", func(t *testing.T) {
		t.Parallel()
		run := &interfaces.PipelineRun{
			Status:    interfaces.RunStatusQueued,
			CreatedAt: time.Now(),
		}
		err := queue.Enqueue(ctx, run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run ID is empty")
	})

	t.Run("CancelEmptyID", func(t *testing.T) {
		t.Parallel()
		err := queue.Cancel(ctx, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run ID is empty")
	})
}
