package distributed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/flightdeck/flightdeck/pkg/logging"
)

// ResilienceConfig configures retry and load-shedding around queue
// operations.
type ResilienceConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	CircuitBreaker *CircuitBreakerConfig

	// Redis memory thresholds. At the warn level enqueues are logged,
	// at the refuse level new enqueues are rejected so the queue
	// cannot push Redis over its memory limit.
	MemoryWarnBytes   int64
	MemoryRefuseBytes int64
}

// DefaultResilienceConfig returns sensible defaults
func DefaultResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffFactor:     2.0,
		CircuitBreaker:    DefaultCircuitBreakerConfig(),
		MemoryWarnBytes:   100 * 1024 * 1024,
		MemoryRefuseBytes: 500 * 1024 * 1024,
	}
}

// ResilientExecutor wraps queue operations in a circuit breaker,
// classified retries with exponential backoff, and a Redis memory
// pressure gate.
type ResilientExecutor struct {
	config     *ResilienceConfig
	breaker    *CircuitBreaker
	redis      redis.UniversalClient
	classifier *ErrorClassifier
	logger     *logging.Logger
}

// NewResilientExecutor creates a resilient executor over the given
// Redis connection. A connection type it cannot open a client for
// only disables the memory pressure gate.
func NewResilientExecutor(redisOpt asynq.RedisConnOpt, config *ResilienceConfig) (*ResilientExecutor, error) {
	if config == nil {
		config = DefaultResilienceConfig()
	}

	client, err := clientFromConnOpt(redisOpt)
	if err != nil {
		client = nil
	}

	return &ResilientExecutor{
		config:     config,
		breaker:    NewCircuitBreaker("queue-enqueue", config.CircuitBreaker),
		redis:      client,
		classifier: NewErrorClassifier(),
		logger:     logging.NewLogger("queue-resilience"),
	}, nil
}

// Execute runs a queue operation with full resilience patterns
func (re *ResilientExecutor) Execute(ctx context.Context, operation string, fn func() error) error {
	return re.breaker.Execute(ctx, func() error {
		return re.executeWithRetry(ctx, operation, fn)
	})
}

// executeWithRetry retries fn with exponential backoff for errors the
// classifier deems retryable. Terminal errors return unwrapped so the
// caller's own error mapping still applies.
func (re *ResilientExecutor) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := re.config.InitialDelay

	for attempt := 1; attempt <= re.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("operation canceled: %w", err)
		}

		if err := re.checkMemoryPressure(ctx); err != nil {
			return fmt.Errorf("refusing %s: %w", operation, err)
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				re.logger.Infof("operation %s succeeded after %d attempts", operation, attempt)
			}
			return nil
		}
		lastErr = err

		info := re.classifier.Classify(err)
		if !info.Retryable {
			return err
		}
		if attempt == re.config.MaxRetries {
			break
		}

		re.logger.Warnf("operation %s attempt %d/%d failed (%s): %v, retrying in %v",
			operation, attempt, re.config.MaxRetries, info.Description, err, delay)

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * re.config.BackoffFactor)
			if delay > re.config.MaxDelay {
				delay = re.config.MaxDelay
			}
		case <-ctx.Done():
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operation, re.config.MaxRetries, lastErr)
}

// checkMemoryPressure refuses new work when Redis is near its memory
// limit. Not being able to check is not a reason to refuse.
func (re *ResilientExecutor) checkMemoryPressure(ctx context.Context) error {
	if re.redis == nil {
		return nil
	}

	infoCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	info, err := re.redis.Info(infoCtx, "memory").Result()
	if err != nil {
		return nil //nolint:nilerr // availability failures are handled by the retry loop
	}

	used, err := parseUsedMemory(info)
	if err != nil {
		re.logger.Warnf("failed to parse redis memory info: %v", err)
		return nil
	}

	if used >= re.config.MemoryRefuseBytes {
		return &RedisPressureError{UsedBytes: used, ThresholdBytes: re.config.MemoryRefuseBytes}
	}
	if used >= re.config.MemoryWarnBytes {
		re.logger.Warnf("redis memory pressure: %d bytes used (warn threshold %d)", used, re.config.MemoryWarnBytes)
	}
	return nil
}

// parseUsedMemory extracts used_memory from Redis INFO output
func parseUsedMemory(info string) (int64, error) {
	for _, line := range strings.Split(info, "\n") {
		if !strings.HasPrefix(line, "used_memory:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "used_memory:"))
		used, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse used_memory value %q: %w", value, err)
		}
		return used, nil
	}
	return 0, fmt.Errorf("used_memory not found in redis INFO output")
}

// Close closes the executor's Redis client
func (re *ResilientExecutor) Close() error {
	if re.redis == nil {
		return nil
	}
	if err := re.redis.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// RedisPressureError reports that Redis is over the refuse threshold
type RedisPressureError struct {
	UsedBytes      int64
	ThresholdBytes int64
}

func (e *RedisPressureError) Error() string {
	return fmt.Sprintf("redis memory pressure: %d bytes used, refuse threshold %d bytes", e.UsedBytes, e.ThresholdBytes)
}
