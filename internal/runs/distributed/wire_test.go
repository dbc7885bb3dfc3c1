package distributed

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

func TestStoredRun_RoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("PreservesAllFields", func(t *testing.T) {
		t.Parallel()
		started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
		completed := time.Now().UTC().Truncate(time.Second)
		run := &interfaces.PipelineRun{
			ID:        "run-wire-1",
			RequestID: "req-42",
			Request: &interfaces.RunRequest{
				Environment: "staging",
				Operation:   interfaces.OperationDeploy,
				AutoApprove: true,
				Parameters:  map[string]string{"region": "us-east-1"},
			},
			Status:      interfaces.RunStatusFailed,
			CreatedAt:   started.Add(-time.Minute),
			StartedAt:   &started,
			CompletedAt: &completed,
			LastError:   errors.New("cluster unreachable"),
		}

		payload, err := json.Marshal(toStoredRun(run))
		require.NoError(t, err)

		var stored storedRun
		require.NoError(t, json.Unmarshal(payload, &stored))
		back := stored.toRun()

		assert.Equal(t, run.ID, back.ID)
		assert.Equal(t, run.RequestID, back.RequestID)
		assert.Equal(t, run.Status, back.Status)
		require.NotNil(t, back.Request)
		assert.Equal(t, "staging", back.Request.Environment)
		assert.Equal(t, interfaces.OperationDeploy, back.Request.Operation)
		assert.True(t, back.Request.AutoApprove)
		require.NotNil(t, back.StartedAt)
		assert.Equal(t, started.Unix(), back.StartedAt.Unix())
		require.NotNil(t, back.CompletedAt)
		assert.Equal(t, completed.Unix(), back.CompletedAt.Unix())
		require.Error(t, back.LastError)
		assert.Equal(t, "cluster unreachable", back.LastError.Error())
	})

	t.Run("ErrorFlattensToString", func(t *testing.T) {
		t.Parallel()
		run := &interfaces.PipelineRun{
			ID:        "run-wire-2",
			Status:    interfaces.RunStatusFailed,
			CreatedAt: time.Now(),
			LastError: errors.New("boom"),
		}

		payload, err := json.Marshal(toStoredRun(run))
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"last_error":"boom"`)
	})

	t.Run("NilErrorStaysNil", func(t *testing.T) {
		t.Parallel()
		run := &interfaces.PipelineRun{
			ID:        "run-wire-3",
			Status:    interfaces.RunStatusQueued,
			CreatedAt: time.Now(),
		}

		payload, err := json.Marshal(toStoredRun(run))
		require.NoError(t, err)
		assert.NotContains(t, string(payload), "last_error")

		var stored storedRun
		require.NoError(t, json.Unmarshal(payload, &stored))
		back := stored.toRun()
		assert.NoError(t, back.LastError)
		assert.Nil(t, back.StartedAt)
		assert.Nil(t, back.CompletedAt)
	})
}

func TestStoredResult_RoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("PreservesStepsAndOutputs", func(t *testing.T) {
		t.Parallel()
		result := &interfaces.RunResult{
			RunID:       "run-wire-4",
			Environment: "production",
			Success:     false,
			Error:       errors.New("step provision-infrastructure failed"),
			Steps: []interfaces.StepResult{
				{
					Name:     "validate-manifest",
					Ordinal:  1,
					Status:   interfaces.StepStatusSucceeded,
					Attempts: 1,
					Duration: 2 * time.Second,
				},
				{
					Name:     "provision-infrastructure",
					Ordinal:  2,
					Status:   interfaces.StepStatusFailed,
					Attempts: 3,
					Duration: 40 * time.Second,
					Error:    errors.New("quota exceeded"),
					Message:  "requested 12 nodes, quota allows 10",
				},
			},
			Outputs:     map[string]string{"cluster_name": "prod-eks"},
			CompletedAt: time.Now().UTC().Truncate(time.Second),
		}

		payload, err := json.Marshal(toStoredResult(result))
		require.NoError(t, err)

		var stored storedResult
		require.NoError(t, json.Unmarshal(payload, &stored))
		back := stored.toResult()

		assert.Equal(t, result.RunID, back.RunID)
		assert.Equal(t, result.Environment, back.Environment)
		assert.False(t, back.Success)
		require.Error(t, back.Error)
		assert.Equal(t, "step provision-infrastructure failed", back.Error.Error())
		require.Len(t, back.Steps, 2)
		assert.NoError(t, back.Steps[0].Error)
		require.Error(t, back.Steps[1].Error)
		assert.Equal(t, "quota exceeded", back.Steps[1].Error.Error())
		assert.Equal(t, 3, back.Steps[1].Attempts)
		assert.Equal(t, 40*time.Second, back.Steps[1].Duration)
		assert.Equal(t, "prod-eks", back.Outputs["cluster_name"])
	})

	t.Run("SuccessfulResultOmitsErrors", func(t *testing.T) {
		t.Parallel()
		result := &interfaces.RunResult{
			RunID:       "run-wire-5",
			Environment: "staging",
			Success:     true,
			CompletedAt: time.Now(),
		}

		payload, err := json.Marshal(toStoredResult(result))
		require.NoError(t, err)
		assert.NotContains(t, string(payload), `"error"`)

		var stored storedResult
		require.NoError(t, json.Unmarshal(payload, &stored))
		back := stored.toResult()
		assert.True(t, back.Success)
		assert.NoError(t, back.Error)
		assert.Empty(t, back.Steps)
	})
}
