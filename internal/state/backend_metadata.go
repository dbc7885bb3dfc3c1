package state

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flightdeck/flightdeck/internal/config"
)

// BackendType identifies a state store backend
type BackendType string

// Supported backend types
const (
	BackendTypeFile   BackendType = "file"
	BackendTypeMemory BackendType = "memory"
	BackendTypeAWS    BackendType = "aws"
)

// Backend validation errors
var (
	// ErrBackendMismatch indicates the configured backend differs from
	// the initialized one
	ErrBackendMismatch = errors.New("backend configuration mismatch")
	// ErrBackendNotInitialized indicates no backend has been initialized
	ErrBackendNotInitialized = errors.New("backend not initialized")
	// ErrBackendLockCorrupted indicates the backend lock file is unreadable
	ErrBackendLockCorrupted = errors.New("backend lock file corrupted")
	// ErrUnsafeBackendSwitch indicates a backend change that could
	// orphan environment records
	ErrUnsafeBackendSwitch = errors.New("unsafe backend switch detected")
)

// BackendMetadata records which backend the state directory was
// initialized with. Switching backends silently would orphan the
// records in the old one, so the recorded type and config hash are
// checked on startup.
type BackendMetadata struct {
	Type             BackendType            `json:"type"`
	ConfigHash       string                 `json:"config_hash,omitempty"`
	InitializedAt    time.Time              `json:"initialized_at"`
	LastValidatedAt  time.Time              `json:"last_validated_at"`
	EnvironmentCount int                    `json:"environment_count"`
	Configuration    map[string]interface{} `json:"configuration,omitempty"`
	Version          string                 `json:"version,omitempty"`
}

// BackendValidator guards against accidental backend switches
type BackendValidator interface {
	ValidateBackend(ctx context.Context, cfg *config.Config) error
	InitializeBackend(ctx context.Context, cfg *config.Config, environmentCount int) error
	GetMetadata(ctx context.Context) (*BackendMetadata, error)
	ForceReinitialize(ctx context.Context, cfg *config.Config) error
}

// FileBackendValidator stores backend metadata in a lock file inside
// the state directory.
type FileBackendValidator struct {
	lockFilePath string
	mu           sync.Mutex
}

// NewFileBackendValidator creates a validator whose lock file lives
// under stateDir.
func NewFileBackendValidator(stateDir string) *FileBackendValidator {
	return &FileBackendValidator{
		lockFilePath: filepath.Join(stateDir, "backend.lock"),
	}
}

// ValidateBackend checks the configured backend against the recorded
// metadata. Returns ErrBackendNotInitialized when no metadata exists,
// ErrBackendMismatch on a type change, and ErrUnsafeBackendSwitch when
// AWS configuration drifted from what was initialized.
func (f *FileBackendValidator) ValidateBackend(ctx context.Context, cfg *config.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	metadata, err := f.getMetadata(ctx)
	if err != nil {
		if errors.Is(err, ErrBackendNotInitialized) {
			return err
		}
		return fmt.Errorf("failed to load backend metadata: %w", err)
	}

	expectedType := BackendType(cfg.StateStore.Type)
	if metadata.Type != expectedType {
		return fmt.Errorf("%w: initialized=%s, configured=%s",
			ErrBackendMismatch, metadata.Type, expectedType)
	}

	if expectedType == BackendTypeAWS {
		currentHash, err := f.calculateConfigHash(cfg)
		if err != nil {
			return fmt.Errorf("failed to calculate config hash: %w", err)
		}

		if metadata.ConfigHash != currentHash {
			return fmt.Errorf("%w: configuration has changed since initialization", ErrUnsafeBackendSwitch)
		}
	}

	// Best effort timestamp update
	metadata.LastValidatedAt = time.Now()
	_ = f.saveMetadata(metadata)

	return nil
}

// InitializeBackend records the configured backend in the lock file
func (f *FileBackendValidator) InitializeBackend(_ context.Context, cfg *config.Config, environmentCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	configHash, err := f.calculateConfigHash(cfg)
	if err != nil {
		return fmt.Errorf("failed to calculate config hash: %w", err)
	}

	metadata := &BackendMetadata{
		Type:             BackendType(cfg.StateStore.Type),
		ConfigHash:       configHash,
		InitializedAt:    time.Now(),
		LastValidatedAt:  time.Now(),
		EnvironmentCount: environmentCount,
		Configuration:    f.sanitizeConfig(cfg),
		Version:          config.AppVersion,
	}

	return f.saveMetadata(metadata)
}

// GetMetadata returns the recorded backend metadata
func (f *FileBackendValidator) GetMetadata(ctx context.Context) (*BackendMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getMetadata(ctx)
}

func (f *FileBackendValidator) getMetadata(_ context.Context) (*BackendMetadata, error) {
	dir := filepath.Dir(f.lockFilePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := os.ReadFile(f.lockFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBackendNotInitialized
		}
		return nil, fmt.Errorf("failed to read backend lock file: %w", err)
	}

	var metadata BackendMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendLockCorrupted, err)
	}

	return &metadata, nil
}

// ForceReinitialize discards recorded metadata and re-initializes.
// Use with caution: records in the previous backend become invisible.
func (f *FileBackendValidator) ForceReinitialize(ctx context.Context, cfg *config.Config) error {
	f.mu.Lock()
	if err := os.Remove(f.lockFilePath); err != nil && !os.IsNotExist(err) {
		f.mu.Unlock()
		return fmt.Errorf("failed to remove existing backend lock: %w", err)
	}
	f.mu.Unlock()

	return f.InitializeBackend(ctx, cfg, 0)
}

// saveMetadata writes the lock file atomically
func (f *FileBackendValidator) saveMetadata(metadata *BackendMetadata) error {
	dir := filepath.Dir(f.lockFilePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tmpFile := f.lockFilePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, f.lockFilePath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to atomic rename: %w", err)
	}

	return nil
}

// calculateConfigHash hashes the configuration fields that affect
// where records live. Endpoints and credentials are excluded.
func (f *FileBackendValidator) calculateConfigHash(cfg *config.Config) (string, error) {
	criticalConfig := map[string]interface{}{
		"type": cfg.StateStore.Type,
	}

	switch cfg.StateStore.Type {
	case "aws":
		criticalConfig["s3_bucket"] = cfg.StateStore.AWS.S3.Bucket
		criticalConfig["s3_region"] = cfg.StateStore.AWS.S3.Region
		criticalConfig["s3_prefix"] = cfg.StateStore.AWS.S3.Prefix
		criticalConfig["dynamodb_table"] = cfg.StateStore.AWS.DynamoDB.Table
		criticalConfig["dynamodb_region"] = cfg.StateStore.AWS.DynamoDB.Region
	case "file":
		criticalConfig["path"] = cfg.StateStore.File.Path
	}

	data, err := json.Marshal(criticalConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash), nil
}

// sanitizeConfig returns a storable summary that never includes bucket
// or table names.
func (f *FileBackendValidator) sanitizeConfig(cfg *config.Config) map[string]interface{} {
	sanitized := map[string]interface{}{
		"type": cfg.StateStore.Type,
	}

	switch cfg.StateStore.Type {
	case "aws":
		sanitized["aws"] = map[string]interface{}{
			"s3_bucket_configured":         cfg.StateStore.AWS.S3.Bucket != "",
			"s3_region":                    cfg.StateStore.AWS.S3.Region,
			"s3_prefix":                    cfg.StateStore.AWS.S3.Prefix,
			"s3_endpoint_configured":       cfg.StateStore.AWS.S3.Endpoint != "",
			"dynamodb_table_configured":    cfg.StateStore.AWS.DynamoDB.Table != "",
			"dynamodb_region":              cfg.StateStore.AWS.DynamoDB.Region,
			"dynamodb_endpoint_configured": cfg.StateStore.AWS.DynamoDB.Endpoint != "",
			"locking_enabled":              cfg.StateStore.AWS.DynamoDB.Locking.Enabled,
		}
	case "file":
		sanitized["file"] = map[string]interface{}{
			"path_configured": cfg.StateStore.File.Path != "",
		}
	}

	return sanitized
}

// NewBackendValidator creates a validator for the configured backend.
// The lock file always lives in the local state directory, even for
// remote backends.
func NewBackendValidator(cfg *config.Config) BackendValidator {
	return NewFileBackendValidator(cfg.StateDir)
}

// ValidateOrInitializeBackend validates an existing backend or
// initializes one on first use.
func ValidateOrInitializeBackend(ctx context.Context, cfg *config.Config, validator BackendValidator) error {
	err := validator.ValidateBackend(ctx, cfg)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrBackendNotInitialized) {
		if err := validator.InitializeBackend(ctx, cfg, 0); err != nil {
			return fmt.Errorf("failed to initialize backend: %w", err)
		}
		return nil
	}

	return fmt.Errorf("backend validation failed: %w", err)
}
