package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// redisLockKeyPrefix namespaces lock keys away from queue keys that
// share the same Redis instance.
const redisLockKeyPrefix = "flightdeck:lock:"

// releaseLockScript deletes the lock key only when the stored token
// still matches, so a lock that expired and was re-acquired elsewhere
// is never deleted by the old holder.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// refreshLockScript extends the lock TTL only while the token matches
var refreshLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLockerConfig holds the configuration for Redis-based
// environment locking.
type RedisLockerConfig struct {
	RedisURL        string
	TTL             time.Duration // Lock expiration (default 5 minutes)
	RefreshInterval time.Duration // TTL refresh cadence (default TTL/3)
}

// RedisLocker implements distributed per-environment locking with
// Redis SET NX. Server mode uses it so workers sharing the run queue
// also share environment locks.
type RedisLocker struct {
	client redis.UniversalClient
	config RedisLockerConfig
	logger *logging.Logger
}

// NewRedisLocker creates a Redis-based environment locker
func NewRedisLocker(cfg RedisLockerConfig) (*RedisLocker, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = cfg.TTL / 3
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	var client redis.UniversalClient
	switch opt := redisOpt.(type) {
	case asynq.RedisClientOpt:
		client = redis.NewClient(&redis.Options{
			Addr:     opt.Addr,
			Username: opt.Username,
			Password: opt.Password,
			DB:       opt.DB,
		})
	case *asynq.RedisClientOpt:
		client = redis.NewClient(&redis.Options{
			Addr:     opt.Addr,
			Username: opt.Username,
			Password: opt.Password,
			DB:       opt.DB,
		})
	default:
		return nil, fmt.Errorf("unsupported redis connection type")
	}

	return &RedisLocker{
		client: client,
		config: cfg,
		logger: logging.NewLogger("redis-locker"),
	}, nil
}

// AcquireLock takes the distributed lock for an environment with SET
// NX. Returns a wrapped interfaces.ErrLockHeld when the key already
// exists.
func (l *RedisLocker) AcquireLock(ctx context.Context, environment string) (interfaces.EnvironmentLock, error) {
	if environment == "" {
		return nil, fmt.Errorf("environment is empty")
	}

	token, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}

	key := redisLockKeyPrefix + environment

	acquired, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", environment, err)
	}
	if !acquired {
		return nil, fmt.Errorf("environment %q: %w", environment, interfaces.ErrLockHeld)
	}

	lock := &redisLock{
		locker:      l,
		token:       token,
		key:         key,
		environment: environment,
		acquiredAt:  time.Now(),
		refreshStop: make(chan struct{}),
	}

	go l.refreshLock(lock)

	l.logger.Debugf("Acquired lock %s for environment %s", token, environment)
	return lock, nil
}

// refreshLock extends the lock TTL while the lock is held
func (l *RedisLocker) refreshLock(lock *redisLock) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	ttlMillis := strconv.FormatInt(l.config.TTL.Milliseconds(), 10)

	for {
		select {
		case <-lock.refreshStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			extended, err := refreshLockScript.Run(ctx, l.client, []string{lock.key}, lock.token, ttlMillis).Int()
			cancel()

			if err != nil || extended == 0 {
				l.logger.Warnf("Stopped refreshing lock for environment %s", lock.environment)
				return
			}
		}
	}
}

// ForceRelease deletes an environment's lock key regardless of owner
func (l *RedisLocker) ForceRelease(ctx context.Context, environment string) error {
	if environment == "" {
		return fmt.Errorf("environment is empty")
	}

	if err := l.client.Del(ctx, redisLockKeyPrefix+environment).Err(); err != nil {
		return fmt.Errorf("failed to force-release lock for %s: %w", environment, err)
	}

	l.logger.Warnf("Force-released lock for environment %s", environment)
	return nil
}

// Ping verifies the Redis connection
func (l *RedisLocker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// redisLock is a held Redis lock
type redisLock struct {
	locker      *RedisLocker
	token       string
	key         string
	environment string
	acquiredAt  time.Time
	refreshStop chan struct{}
	released    bool
	mu          sync.Mutex
}

func (rl *redisLock) ID() string            { return rl.token }
func (rl *redisLock) Environment() string   { return rl.environment }
func (rl *redisLock) AcquiredAt() time.Time { return rl.acquiredAt }

// Release deletes the lock key if this holder's token still matches
// and stops the TTL refresh goroutine.
func (rl *redisLock) Release() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.released {
		return fmt.Errorf("lock %s already released", rl.token)
	}
	rl.released = true

	close(rl.refreshStop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deleted, err := releaseLockScript.Run(ctx, rl.locker.client, []string{rl.key}, rl.token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("lock for environment %s is not owned by this process", rl.environment)
	}

	rl.locker.logger.Debugf("Released lock %s for environment %s", rl.token, rl.environment)
	return nil
}
