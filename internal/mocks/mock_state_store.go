// Package mocks provides test doubles for the interfaces package
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// MockStateStore implements interfaces.StateStore for testing
type MockStateStore struct {
	records    map[string]*interfaces.EnvironmentRecord
	shouldFail map[string]error
	mutex      sync.RWMutex

	calls []MethodCall
}

// MethodCall represents a method call for testing purposes
type MethodCall struct {
	Method string
	Args   []interface{}
}

// NewMockStateStore creates a new mock state store
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{
		records:    make(map[string]*interfaces.EnvironmentRecord),
		shouldFail: make(map[string]error),
		calls:      make([]MethodCall, 0),
	}
}

// SetShouldFail configures the mock to fail for specific methods
func (m *MockStateStore) SetShouldFail(method string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.shouldFail[method] = err
}

// checkShouldFail checks if a method should fail
func (m *MockStateStore) checkShouldFail(method string) error {
	if err, ok := m.shouldFail[method]; ok {
		return err
	}
	return nil
}

// recordCall records a method call for later verification
func (m *MockStateStore) recordCall(method string, args ...interface{}) {
	m.calls = append(m.calls, MethodCall{Method: method, Args: args})
}

// SaveRecord stores a copy of the record under its environment name
func (m *MockStateStore) SaveRecord(_ context.Context, record *interfaces.EnvironmentRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.recordCall("SaveRecord", record)

	if err := m.checkShouldFail("SaveRecord"); err != nil {
		return err
	}
	if record == nil || record.Environment == "" {
		return fmt.Errorf("record must name an environment")
	}

	m.records[record.Environment] = copyRecord(record)
	return nil
}

// LoadRecord retrieves the record for an environment
func (m *MockStateStore) LoadRecord(_ context.Context, environment string) (*interfaces.EnvironmentRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if err := m.checkShouldFail("LoadRecord"); err != nil {
		return nil, err
	}

	record, ok := m.records[environment]
	if !ok {
		return nil, fmt.Errorf("environment %q: %w", environment, interfaces.ErrRecordNotFound)
	}
	return copyRecord(record), nil
}

// DeleteRecord removes the record for an environment, if present
func (m *MockStateStore) DeleteRecord(_ context.Context, environment string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.recordCall("DeleteRecord", environment)

	if err := m.checkShouldFail("DeleteRecord"); err != nil {
		return err
	}

	delete(m.records, environment)
	return nil
}

// ListEnvironments returns the environments with records, sorted
func (m *MockStateStore) ListEnvironments(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if err := m.checkShouldFail("ListEnvironments"); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Ping reports store health
func (m *MockStateStore) Ping(_ context.Context) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.checkShouldFail("Ping")
}

// GetCalls returns all recorded method calls
func (m *MockStateStore) GetCalls() []MethodCall {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	calls := make([]MethodCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns how many times the named method was invoked
func (m *MockStateStore) CallCount(method string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	count := 0
	for _, call := range m.calls {
		if call.Method == method {
			count++
		}
	}
	return count
}

// copyRecord clones a record so callers cannot mutate stored state
func copyRecord(record *interfaces.EnvironmentRecord) *interfaces.EnvironmentRecord {
	clone := *record
	if record.Outputs != nil {
		clone.Outputs = make(map[string]string, len(record.Outputs))
		for k, v := range record.Outputs {
			clone.Outputs[k] = v
		}
	}
	return &clone
}

// Verify interface compliance
var _ interfaces.StateStore = (*MockStateStore)(nil)
