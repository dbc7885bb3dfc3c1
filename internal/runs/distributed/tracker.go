package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

const (
	// runKeyTTL expires run records so abandoned runs do not
	// accumulate in Redis forever.
	runKeyTTL = 7 * 24 * time.Hour

	// trackerOpTimeout bounds single-key tracker operations
	trackerOpTimeout = 5 * time.Second

	// trackerScanTimeout bounds full List scans
	trackerScanTimeout = 30 * time.Second

	// scanBatchSize is the SCAN COUNT hint for List
	scanBatchSize = 100

	runKeyPattern = "flightdeck:run:*:data"
)

// Tracker implements interfaces.RunTracker on Redis so every server
// replica sees the same run state.
type Tracker struct {
	redis  redis.UniversalClient
	logger *logging.Logger
}

// NewTracker creates a Redis-backed run tracker
func NewTracker(redisOpt asynq.RedisConnOpt) (*Tracker, error) {
	client, err := clientFromConnOpt(redisOpt)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		redis:  client,
		logger: logging.NewLogger("distributed-tracker"),
	}, nil
}

// clientFromConnOpt builds a go-redis client from an asynq connection
// option. MakeRedisClient covers every option kind ParseRedisURI can
// return, including the value forms a type switch would miss.
func clientFromConnOpt(redisOpt asynq.RedisConnOpt) (redis.UniversalClient, error) {
	if redisOpt == nil {
		return nil, fmt.Errorf("redis connection options are required")
	}
	client, ok := redisOpt.MakeRedisClient().(redis.UniversalClient)
	if !ok {
		return nil, fmt.Errorf("unsupported redis connection type %T", redisOpt)
	}
	return client, nil
}

func runKey(runID string) string       { return fmt.Sprintf("flightdeck:run:%s:data", runID) }
func statusKey(runID string) string    { return fmt.Sprintf("flightdeck:run:%s:status", runID) }
func resultKey(runID string) string    { return fmt.Sprintf("flightdeck:run:%s:result", runID) }
func heartbeatKey(runID string) string { return fmt.Sprintf("flightdeck:run:%s:heartbeat", runID) }
func workerKey(runID string) string    { return fmt.Sprintf("flightdeck:run:%s:worker", runID) }

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), trackerOpTimeout)
}

// Register adds a new run to the tracker
func (t *Tracker) Register(run *interfaces.PipelineRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run ID is empty")
	}

	data, err := json.Marshal(toStoredRun(run))
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	ctx, cancel := opCtx()
	defer cancel()

	created, err := t.redis.SetNX(ctx, runKey(run.ID), data, runKeyTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	if !created {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	if err := t.redis.Set(ctx, statusKey(run.ID), string(run.Status), runKeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}
	return nil
}

// GetByID returns a run by its ID
func (t *Tracker) GetByID(runID string) (*interfaces.PipelineRun, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is empty")
	}

	ctx, cancel := opCtx()
	defer cancel()
	return t.getRun(ctx, runID)
}

func (t *Tracker) getRun(ctx context.Context, runID string) (*interfaces.PipelineRun, error) {
	data, err := t.redis.Get(ctx, runKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var stored storedRun
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	run := stored.toRun()
	t.mergeLiveness(ctx, run)
	return run, nil
}

// mergeLiveness folds in the heartbeat and worker keys. They live
// outside the run blob so frequent heartbeats never race blob updates.
func (t *Tracker) mergeLiveness(ctx context.Context, run *interfaces.PipelineRun) {
	if raw, err := t.redis.Get(ctx, heartbeatKey(run.ID)).Result(); err == nil {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			run.LastHeartbeat = at
		}
	}
	if worker, err := t.redis.Get(ctx, workerKey(run.ID)).Result(); err == nil {
		run.ProcessingWorkerID = worker
	}
}

// GetStatus returns the status of a run
func (t *Tracker) GetStatus(runID string) (*interfaces.RunStatus, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is empty")
	}

	ctx, cancel := opCtx()
	defer cancel()

	// Status key first, it avoids deserializing the whole run
	raw, err := t.redis.Get(ctx, statusKey(runID)).Result()
	if err == nil {
		status := interfaces.RunStatus(raw)
		return &status, nil
	}

	run, err := t.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	status := run.Status
	return &status, nil
}

// SetStatus updates the status of a run
func (t *Tracker) SetStatus(runID string, status interfaces.RunStatus) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	ctx, cancel := opCtx()
	defer cancel()

	data, err := t.redis.Get(ctx, runKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	if err := t.redis.Set(ctx, statusKey(runID), string(status), runKeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	var stored storedRun
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		t.logger.Warnf("run %s blob is unreadable, status key updated only: %v", runID, err)
		return nil
	}

	stored.Status = status
	now := time.Now()
	switch status {
	case interfaces.RunStatusQueued:
	case interfaces.RunStatusRunning:
		if stored.StartedAt == nil {
			stored.StartedAt = &now
		}
	case interfaces.RunStatusSucceeded, interfaces.RunStatusFailed, interfaces.RunStatusCanceled:
		if stored.CompletedAt == nil {
			stored.CompletedAt = &now
		}
	}

	if updated, err := json.Marshal(&stored); err == nil {
		_ = t.redis.Set(ctx, runKey(runID), updated, runKeyTTL).Err()
	}
	return nil
}

// SetResult stores the result of a run and settles its status when it
// is not terminal yet
func (t *Tracker) SetResult(runID string, result *interfaces.RunResult) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}
	if result == nil {
		return fmt.Errorf("result is nil")
	}

	ctx, cancel := opCtx()
	defer cancel()

	data, err := t.redis.Get(ctx, runKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	encoded, err := json.Marshal(toStoredResult(result))
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := t.redis.Set(ctx, resultKey(runID), encoded, runKeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	var stored storedRun
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		t.logger.Warnf("run %s blob is unreadable, result stored without settling: %v", runID, err)
		return nil
	}

	if result.Error != nil {
		stored.LastError = result.Error.Error()
	}
	if !stored.Status.Terminal() {
		status := interfaces.RunStatusSucceeded
		if !result.Success {
			status = interfaces.RunStatusFailed
		}
		stored.Status = status
		completed := result.CompletedAt
		if completed.IsZero() {
			completed = time.Now()
		}
		stored.CompletedAt = &completed

		if err := t.redis.Set(ctx, statusKey(runID), string(status), runKeyTTL).Err(); err != nil {
			t.logger.Warnf("failed to settle status for run %s: %v", runID, err)
		}
	}

	if updated, err := json.Marshal(&stored); err == nil {
		_ = t.redis.Set(ctx, runKey(runID), updated, runKeyTTL).Err()
	}
	return nil
}

// GetResult returns the result of a run, or nil when none is stored yet
func (t *Tracker) GetResult(runID string) (*interfaces.RunResult, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is empty")
	}

	ctx, cancel := opCtx()
	defer cancel()

	data, err := t.redis.Get(ctx, resultKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var stored storedResult
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return stored.toResult(), nil
}

// Heartbeat stamps a run's liveness for the stale-run monitor
func (t *Tracker) Heartbeat(runID string, at time.Time) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	ctx, cancel := opCtx()
	defer cancel()

	exists, err := t.redis.Exists(ctx, runKey(runID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	if err := t.redis.Set(ctx, heartbeatKey(runID), at.Format(time.RFC3339Nano), runKeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// SetWorker records which worker owns a run's execution
func (t *Tracker) SetWorker(runID, workerID string) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	ctx, cancel := opCtx()
	defer cancel()

	exists, err := t.redis.Exists(ctx, runKey(runID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	if err := t.redis.Set(ctx, workerKey(runID), workerID, runKeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to record worker: %w", err)
	}
	return nil
}

// List returns runs matching the filter
func (t *Tracker) List(filter interfaces.RunFilter) ([]*interfaces.PipelineRun, error) {
	ctx, cancel := context.WithTimeout(context.Background(), trackerScanTimeout)
	defer cancel()

	var results []*interfaces.PipelineRun
	var cursor uint64
	for {
		keys, next, err := t.redis.Scan(ctx, cursor, runKeyPattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan runs: %w", err)
		}
		cursor = next

		for _, key := range keys {
			data, err := t.redis.Get(ctx, key).Result()
			if err != nil {
				continue
			}

			var stored storedRun
			if err := json.Unmarshal([]byte(data), &stored); err != nil {
				continue
			}

			run := stored.toRun()
			if !matchesRunFilter(run, filter) {
				continue
			}
			t.mergeLiveness(ctx, run)
			results = append(results, run)
		}

		if cursor == 0 {
			break
		}
	}

	return results, nil
}

func matchesRunFilter(run *interfaces.PipelineRun, filter interfaces.RunFilter) bool {
	if filter.Environment != "" {
		if run.Request == nil || run.Request.Environment != filter.Environment {
			return false
		}
	}

	if len(filter.Status) > 0 {
		matched := false
		for _, status := range filter.Status {
			if run.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if !filter.CreatedAfter.IsZero() && run.CreatedAt.Before(filter.CreatedAfter) {
		return false
	}
	if !filter.CreatedBefore.IsZero() && run.CreatedAt.After(filter.CreatedBefore) {
		return false
	}
	return true
}

// Remove deletes a run and everything stored alongside it
func (t *Tracker) Remove(runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID is empty")
	}

	ctx, cancel := opCtx()
	defer cancel()

	exists, err := t.redis.Exists(ctx, runKey(runID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	err = t.redis.Del(ctx,
		runKey(runID),
		statusKey(runID),
		resultKey(runID),
		heartbeatKey(runID),
		workerKey(runID),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close closes the tracker's Redis client
func (t *Tracker) Close() error {
	if err := t.redis.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

var _ interfaces.RunTracker = (*Tracker)(nil)
