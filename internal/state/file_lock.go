package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// lockFileInfo is the JSON content of an advisory lock file. The owner
// fields let a blocked operator see who holds the lock.
type lockFileInfo struct {
	ID          string    `json:"id"`
	Environment string    `json:"environment"`
	Owner       string    `json:"owner"`
	PID         int       `json:"pid"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// FileLocker implements advisory per-environment locking with lock
// files. Exclusive file creation makes acquisition atomic across
// processes on the same machine; for shared state use the DynamoDB or
// Redis locker instead.
type FileLocker struct {
	lockDir string
	logger  *logging.Logger
	mu      sync.Mutex
}

// NewFileLocker creates a file-based environment locker rooted at
// lockDir, creating the directory if needed.
func NewFileLocker(lockDir string) (*FileLocker, error) {
	if lockDir == "" {
		return nil, fmt.Errorf("lock directory is required")
	}

	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLocker{
		lockDir: lockDir,
		logger:  logging.NewLogger("file-locker"),
	}, nil
}

// AcquireLock takes the advisory lock for an environment. Returns a
// wrapped interfaces.ErrLockHeld when another process holds it.
func (l *FileLocker) AcquireLock(_ context.Context, environment string) (interfaces.EnvironmentLock, error) {
	if environment == "" {
		return nil, fmt.Errorf("environment is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock ID: %w", err)
	}

	hostname, _ := os.Hostname()
	info := lockFileInfo{
		ID:          id,
		Environment: environment,
		Owner:       fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		PID:         os.Getpid(),
		AcquiredAt:  time.Now(),
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	path := l.lockPath(environment)

	// O_EXCL makes creation fail if the lock file already exists
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if os.IsExist(err) {
		return nil, l.heldError(environment, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to close lock file: %w", err)
	}

	l.logger.Debugf("Acquired lock %s for environment %s", id, environment)

	return &fileLock{
		locker:      l,
		id:          id,
		environment: environment,
		path:        path,
		acquiredAt:  info.AcquiredAt,
	}, nil
}

// ForceRelease removes an environment's lock file regardless of owner.
// A missing lock file is a no-op.
func (l *FileLocker) ForceRelease(_ context.Context, environment string) error {
	if environment == "" {
		return fmt.Errorf("environment is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := os.Remove(l.lockPath(environment))
	if os.IsNotExist(err) {
		l.logger.Debugf("No lock to force-release for environment %s", environment)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove lock file for %s: %w", environment, err)
	}

	l.logger.Warnf("Force-released lock for environment %s", environment)
	return nil
}

// heldError builds the ErrLockHeld error, including owner details from
// the existing lock file when readable.
func (l *FileLocker) heldError(environment, path string) error {
	data, readErr := os.ReadFile(path)
	if readErr == nil {
		var existing lockFileInfo
		if json.Unmarshal(data, &existing) == nil && existing.Owner != "" {
			return fmt.Errorf("environment %q held by %s since %s: %w",
				environment, existing.Owner,
				existing.AcquiredAt.Format(time.RFC3339),
				interfaces.ErrLockHeld)
		}
	}
	return fmt.Errorf("environment %q: %w", environment, interfaces.ErrLockHeld)
}

func (l *FileLocker) lockPath(environment string) string {
	return filepath.Join(l.lockDir, sanitizeEnvironmentName(environment)+".lock")
}

// fileLock is a held file-based lock
type fileLock struct {
	locker      *FileLocker
	id          string
	environment string
	path        string
	acquiredAt  time.Time
	released    bool
	mu          sync.Mutex
}

func (fl *fileLock) ID() string            { return fl.id }
func (fl *fileLock) Environment() string   { return fl.environment }
func (fl *fileLock) AcquiredAt() time.Time { return fl.acquiredAt }

// Release removes the lock file if this lock still owns it. Releasing
// twice is an error; a lock broken by ForceRelease reports ownership
// loss instead of deleting another holder's file.
func (fl *fileLock) Release() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.released {
		return fmt.Errorf("lock %s already released", fl.id)
	}
	fl.released = true

	data, err := os.ReadFile(fl.path)
	if os.IsNotExist(err) {
		return fmt.Errorf("lock %s for environment %s no longer exists", fl.id, fl.environment)
	}
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	var current lockFileInfo
	if err := json.Unmarshal(data, &current); err == nil && current.ID != fl.id {
		return fmt.Errorf("lock for environment %s is now owned by %s", fl.environment, current.Owner)
	}

	if err := os.Remove(fl.path); err != nil {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	fl.locker.logger.Debugf("Released lock %s for environment %s", fl.id, fl.environment)
	return nil
}
