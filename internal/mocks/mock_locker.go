package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// MockLocker implements interfaces.EnvironmentLocker for testing.
// Locks are process-local and keyed by environment name.
type MockLocker struct {
	held       map[string]*MockLock
	shouldFail map[string]error
	nextID     int
	mutex      sync.Mutex
}

// NewMockLocker creates a new mock environment locker
func NewMockLocker() *MockLocker {
	return &MockLocker{
		held:       make(map[string]*MockLock),
		shouldFail: make(map[string]error),
	}
}

// SetShouldFail configures the mock to fail for specific methods
func (l *MockLocker) SetShouldFail(method string, err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.shouldFail[method] = err
}

// AcquireLock takes the lock for an environment or reports it held
func (l *MockLocker) AcquireLock(_ context.Context, environment string) (interfaces.EnvironmentLock, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err, ok := l.shouldFail["AcquireLock"]; ok {
		return nil, err
	}
	if _, taken := l.held[environment]; taken {
		return nil, fmt.Errorf("environment %q: %w", environment, interfaces.ErrLockHeld)
	}

	l.nextID++
	lock := &MockLock{
		locker:      l,
		id:          fmt.Sprintf("mock-lock-%d", l.nextID),
		environment: environment,
		acquiredAt:  time.Now(),
	}
	l.held[environment] = lock
	return lock, nil
}

// ForceRelease breaks the lock for an environment regardless of owner
func (l *MockLocker) ForceRelease(_ context.Context, environment string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err, ok := l.shouldFail["ForceRelease"]; ok {
		return err
	}
	delete(l.held, environment)
	return nil
}

// IsHeld reports whether an environment's lock is currently taken
func (l *MockLocker) IsHeld(environment string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	_, taken := l.held[environment]
	return taken
}

// MockLock is a lock handle issued by MockLocker
type MockLock struct {
	locker      *MockLocker
	id          string
	environment string
	acquiredAt  time.Time
	released    bool
	mutex       sync.Mutex
}

// ID returns the lock identifier
func (k *MockLock) ID() string { return k.id }

// Environment returns the locked environment name
func (k *MockLock) Environment() string { return k.environment }

// AcquiredAt returns when the lock was taken
func (k *MockLock) AcquiredAt() time.Time { return k.acquiredAt }

// Release frees the lock; releasing twice is an error
func (k *MockLock) Release() error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	if k.released {
		return fmt.Errorf("lock %s already released", k.id)
	}
	k.released = true

	k.locker.mutex.Lock()
	defer k.locker.mutex.Unlock()
	if current, ok := k.locker.held[k.environment]; ok && current == k {
		delete(k.locker.held, k.environment)
	}
	return nil
}

// Verify interface compliance
var (
	_ interfaces.EnvironmentLocker = (*MockLocker)(nil)
	_ interfaces.EnvironmentLock   = (*MockLock)(nil)
)
