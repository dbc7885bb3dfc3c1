package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// MemoryStore keeps environment records in process memory. Used for
// tests and for server mode where persistence is not required.
type MemoryStore struct {
	records map[string]*interfaces.EnvironmentRecord
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory state store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*interfaces.EnvironmentRecord),
	}
}

// SaveRecord stores a copy of the record, replacing any previous one
func (s *MemoryStore) SaveRecord(_ context.Context, record *interfaces.EnvironmentRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.Environment == "" {
		return fmt.Errorf("record environment is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.Environment] = cloneRecord(record)
	return nil
}

// LoadRecord returns a copy of the record for an environment, or a
// wrapped interfaces.ErrRecordNotFound.
func (s *MemoryStore) LoadRecord(_ context.Context, environment string) (*interfaces.EnvironmentRecord, error) {
	if environment == "" {
		return nil, fmt.Errorf("environment is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[environment]
	if !ok {
		return nil, fmt.Errorf("environment %q: %w", environment, interfaces.ErrRecordNotFound)
	}

	return cloneRecord(record), nil
}

// DeleteRecord removes an environment's record; missing records are a
// no-op.
func (s *MemoryStore) DeleteRecord(_ context.Context, environment string) error {
	if environment == "" {
		return fmt.Errorf("environment is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, environment)
	return nil
}

// ListEnvironments returns environment names sorted alphabetically
func (s *MemoryStore) ListEnvironments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	environments := make([]string, 0, len(s.records))
	for name := range s.records {
		environments = append(environments, name)
	}

	sort.Strings(environments)
	return environments, nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func cloneRecord(record *interfaces.EnvironmentRecord) *interfaces.EnvironmentRecord {
	clone := *record
	if record.Outputs != nil {
		clone.Outputs = make(map[string]string, len(record.Outputs))
		for k, v := range record.Outputs {
			clone.Outputs[k] = v
		}
	}
	return &clone
}

// MemoryLocker implements in-process environment locking for the
// memory backend.
type MemoryLocker struct {
	held   map[string]*memoryLock
	nextID int
	mu     sync.Mutex
}

// NewMemoryLocker creates an empty in-memory locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held: make(map[string]*memoryLock),
	}
}

// AcquireLock takes the in-process lock for an environment
func (l *MemoryLocker) AcquireLock(_ context.Context, environment string) (interfaces.EnvironmentLock, error) {
	if environment == "" {
		return nil, fmt.Errorf("environment is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[environment]; taken {
		return nil, fmt.Errorf("environment %q: %w", environment, interfaces.ErrLockHeld)
	}

	l.nextID++
	lock := &memoryLock{
		locker:      l,
		id:          fmt.Sprintf("memory-lock-%d", l.nextID),
		environment: environment,
		acquiredAt:  time.Now(),
	}
	l.held[environment] = lock

	return lock, nil
}

// ForceRelease drops an environment's lock regardless of holder
func (l *MemoryLocker) ForceRelease(_ context.Context, environment string) error {
	if environment == "" {
		return fmt.Errorf("environment is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, environment)
	return nil
}

// memoryLock is a held in-process lock
type memoryLock struct {
	locker      *MemoryLocker
	id          string
	environment string
	acquiredAt  time.Time
	released    bool
	mu          sync.Mutex
}

func (ml *memoryLock) ID() string            { return ml.id }
func (ml *memoryLock) Environment() string   { return ml.environment }
func (ml *memoryLock) AcquiredAt() time.Time { return ml.acquiredAt }

func (ml *memoryLock) Release() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.released {
		return fmt.Errorf("lock %s already released", ml.id)
	}
	ml.released = true

	ml.locker.mu.Lock()
	defer ml.locker.mu.Unlock()

	if current, ok := ml.locker.held[ml.environment]; ok && current == ml {
		delete(ml.locker.held, ml.environment)
	}
	return nil
}
