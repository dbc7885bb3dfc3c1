// Package state provides persistence for environment deployment records
// and advisory environment locks. The default backend is the local
// filesystem; S3 and DynamoDB backends support shared team state.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// FileStore persists environment records as JSON files under a base
// directory, one file per environment.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a file-backed state store rooted at baseDir,
// creating the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}

	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

// SaveRecord writes the record for its environment, replacing any
// previous one. The write is atomic: data goes to a temp file that is
// renamed into place.
func (s *FileStore) SaveRecord(_ context.Context, record *interfaces.EnvironmentRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.Environment == "" {
		return fmt.Errorf("record environment is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", record.Environment, err)
	}

	filePath := s.recordPath(record.Environment)

	// Write to temp file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file
		return fmt.Errorf("failed to finalize record file: %w", err)
	}

	return nil
}

// LoadRecord returns the record for an environment, or a wrapped
// interfaces.ErrRecordNotFound when none exists.
func (s *FileStore) LoadRecord(_ context.Context, environment string) (*interfaces.EnvironmentRecord, error) {
	if environment == "" {
		return nil, fmt.Errorf("environment is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.recordPath(environment))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("environment %q: %w", environment, interfaces.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record for %s: %w", environment, err)
	}

	var record interfaces.EnvironmentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record for %s: %w", environment, err)
	}

	return &record, nil
}

// DeleteRecord removes an environment's record. Deleting a missing
// record is a no-op.
func (s *FileStore) DeleteRecord(_ context.Context, environment string) error {
	if environment == "" {
		return fmt.Errorf("environment is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.recordPath(environment))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record for %s: %w", environment, err)
	}

	return nil
}

// ListEnvironments returns the names of environments with records,
// sorted alphabetically.
func (s *FileStore) ListEnvironments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	environments := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		environments = append(environments, strings.TrimSuffix(name, ".json"))
	}

	sort.Strings(environments)
	return environments, nil
}

// Ping verifies the state directory is accessible
func (s *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("state directory inaccessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("state path %s is not a directory", s.baseDir)
	}
	return nil
}

// recordPath returns the file path for an environment's record,
// sanitized against path traversal.
func (s *FileStore) recordPath(environment string) string {
	return filepath.Join(s.baseDir, sanitizeEnvironmentName(environment)+".json")
}

// sanitizeEnvironmentName makes an environment name safe for use as a
// file name component.
func sanitizeEnvironmentName(environment string) string {
	cleaned := filepath.Clean(environment)
	cleaned = strings.ReplaceAll(cleaned, "/", "_")
	cleaned = strings.ReplaceAll(cleaned, "\\", "_")
	cleaned = strings.ReplaceAll(cleaned, "..", "_")
	return cleaned
}
