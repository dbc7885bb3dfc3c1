package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when no record exists for an environment
var ErrRecordNotFound = errors.New("environment record not found")

// ErrLockHeld is returned when another process holds the environment lock
var ErrLockHeld = errors.New("environment lock already held")

// StateStore persists per-environment deployment records.
// Implementations: local filesystem (default) and S3.
type StateStore interface {
	// SaveRecord writes the record for its environment, replacing any
	// previous one
	SaveRecord(ctx context.Context, record *EnvironmentRecord) error
	// LoadRecord returns the record for an environment, or
	// ErrRecordNotFound
	LoadRecord(ctx context.Context, environment string) (*EnvironmentRecord, error)
	// DeleteRecord removes an environment's record; deleting a missing
	// record is a no-op
	DeleteRecord(ctx context.Context, environment string) error
	// ListEnvironments returns the names of environments with records
	ListEnvironments(ctx context.Context) ([]string, error)

	// Health check
	Ping(ctx context.Context) error
}

// EnvironmentLock represents a held advisory lock
type EnvironmentLock interface {
	ID() string
	Environment() string
	AcquiredAt() time.Time
	Release() error
}

// EnvironmentLocker serializes operations per environment. Acquire
// returns ErrLockHeld (possibly wrapped) when the lock is taken.
type EnvironmentLocker interface {
	AcquireLock(ctx context.Context, environment string) (EnvironmentLock, error)
	// ForceRelease breaks a stale lock regardless of owner
	ForceRelease(ctx context.Context, environment string) error
}
