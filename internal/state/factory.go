package state

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// NewStateStore creates the state store selected by configuration
func NewStateStore(cfg *config.Config) (interfaces.StateStore, error) {
	switch cfg.StateStore.Type {
	case "file", "":
		return NewFileStore(cfg.StateStore.File.Path)
	case "memory":
		return NewMemoryStore(), nil
	case "aws":
		return NewS3Store(S3StoreConfig{
			Bucket:   cfg.StateStore.AWS.S3.Bucket,
			Region:   cfg.StateStore.AWS.S3.Region,
			Prefix:   cfg.StateStore.AWS.S3.Prefix,
			Endpoint: cfg.StateStore.AWS.S3.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown state store type: %s", cfg.StateStore.Type)
	}
}

// NewEnvironmentLocker creates the environment locker that matches the
// configured backend. AWS state with locking enabled uses DynamoDB;
// distributed queue mode shares locks through Redis; otherwise locks
// are local to the machine.
func NewEnvironmentLocker(cfg *config.Config) (interfaces.EnvironmentLocker, error) {
	if cfg.StateStore.Type == "aws" && cfg.StateStore.AWS.DynamoDB.Locking.Enabled {
		return NewDynamoLocker(DynamoLockerConfig{
			TableName: cfg.StateStore.AWS.DynamoDB.Table,
			Region:    cfg.StateStore.AWS.DynamoDB.Region,
			Endpoint:  cfg.StateStore.AWS.DynamoDB.Endpoint,
			TTL:       time.Duration(cfg.StateStore.AWS.DynamoDB.Locking.TTLSeconds) * time.Second,
		})
	}

	if cfg.Queue.Type == "distributed" && cfg.Queue.RedisURL != "" {
		return NewRedisLocker(RedisLockerConfig{
			RedisURL: cfg.Queue.RedisURL,
		})
	}

	if cfg.StateStore.Type == "memory" {
		return NewMemoryLocker(), nil
	}

	return NewFileLocker(filepath.Join(cfg.StateDir, "locks"))
}
