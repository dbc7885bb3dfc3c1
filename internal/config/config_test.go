package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	cfg := NewConfig()

	// Test default values
	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Debug != false {
		t.Errorf("Expected default debug false, got %v", cfg.Debug)
	}
	if cfg.StateStore.Type != "file" {
		t.Errorf("Expected default state store type 'file', got %s", cfg.StateStore.Type)
	}
	if cfg.Queue.Type != "embedded" {
		t.Errorf("Expected default queue type 'embedded', got %s", cfg.Queue.Type)
	}
	if cfg.ManifestPath != "flightdeck.yaml" {
		t.Errorf("Expected default manifest 'flightdeck.yaml', got %s", cfg.ManifestPath)
	}
}

func TestLoadFromEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv()

	t.Setenv("FLIGHTDECK_PORT", "9090")
	t.Setenv("FLIGHTDECK_DEBUG", "true")
	t.Setenv("FLIGHTDECK_STATE_DIR", "/custom/state")
	t.Setenv("FLIGHTDECK_LOG_FILE", "/custom/log.log")
	t.Setenv("FLIGHTDECK_MANIFEST", "/custom/flightdeck.yaml")
	t.Setenv("FLIGHTDECK_QUEUE_TYPE", "distributed")
	t.Setenv("FLIGHTDECK_REDIS_URL", "redis://localhost:6379")

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Expected port 9090 from env, got %d", cfg.Port)
	}
	if cfg.Debug != true {
		t.Errorf("Expected debug true from env, got %v", cfg.Debug)
	}
	if cfg.StateDir != "/custom/state" {
		t.Errorf("Expected state dir '/custom/state' from env, got %s", cfg.StateDir)
	}
	if cfg.LogFile != "/custom/log.log" {
		t.Errorf("Expected log file '/custom/log.log' from env, got %s", cfg.LogFile)
	}
	if cfg.ManifestPath != "/custom/flightdeck.yaml" {
		t.Errorf("Expected manifest '/custom/flightdeck.yaml' from env, got %s", cfg.ManifestPath)
	}
	if cfg.Queue.Type != "distributed" {
		t.Errorf("Expected queue type 'distributed' from env, got %s", cfg.Queue.Type)
	}
	if cfg.Queue.RedisURL != "redis://localhost:6379" {
		t.Errorf("Expected redis URL from env, got %s", cfg.Queue.RedisURL)
	}
}

func TestLoadFromEnvInvalidPort(t *testing.T) {
	t.Setenv("FLIGHTDECK_PORT", "not-a-port")

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("Expected error for invalid FLIGHTDECK_PORT")
	}
}

func TestLoadFromEnvAWSStore(t *testing.T) {
	t.Setenv("FLIGHTDECK_STATE_STORE", "aws")
	t.Setenv("FLIGHTDECK_AWS_S3_BUCKET", "flightdeck-state")
	t.Setenv("FLIGHTDECK_AWS_S3_REGION", "us-east-1")
	t.Setenv("FLIGHTDECK_AWS_DYNAMODB_TABLE", "flightdeck-locks")
	t.Setenv("FLIGHTDECK_AWS_DYNAMODB_REGION", "us-east-1")
	t.Setenv("FLIGHTDECK_AWS_LOCKING_TTL_SECONDS", "120")

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.StateStore.Type != "aws" {
		t.Errorf("Expected state store type 'aws', got %s", cfg.StateStore.Type)
	}
	if cfg.StateStore.AWS.S3.Bucket != "flightdeck-state" {
		t.Errorf("Expected S3 bucket from env, got %s", cfg.StateStore.AWS.S3.Bucket)
	}
	if cfg.StateStore.AWS.DynamoDB.Table != "flightdeck-locks" {
		t.Errorf("Expected DynamoDB table from env, got %s", cfg.StateStore.AWS.DynamoDB.Table)
	}
	if cfg.StateStore.AWS.DynamoDB.Locking.TTLSeconds != 120 {
		t.Errorf("Expected lock TTL 120, got %d", cfg.StateStore.AWS.DynamoDB.Locking.TTLSeconds)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid AWS config, got %v", err)
	}
}

func TestExpandPaths(t *testing.T) {
	t.Parallel()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Cannot get home directory: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "home directory expansion",
			input:    "~/test",
			expected: filepath.Join(home, "test"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/absolute/path",
			expected: "/absolute/path",
		},
		{
			name:     "relative path unchanged",
			input:    "relative/path",
			expected: "relative/path",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewConfig()
			cfg.StateDir = tt.input

			if err := cfg.ExpandPaths(); err != nil {
				t.Fatalf("ExpandPaths failed: %v", err)
			}

			if cfg.StateDir != tt.expected {
				t.Errorf("Expected expanded path %s, got %s", tt.expected, cfg.StateDir)
			}
		})
	}
}

func TestValidate(t *testing.T) { //nolint:funlen // Test function with comprehensive test cases
	t.Parallel()
	tests := []struct {
		name      string
		setupFunc func(*Config)
		wantErr   bool
		errMsg    string
	}{
		{
			name:      "valid config",
			setupFunc: func(_ *Config) {},
			wantErr:   false,
		},
		{
			name: "invalid port",
			setupFunc: func(cfg *Config) {
				cfg.Port = 0
			},
			wantErr: true,
			errMsg:  "invalid port",
		},
		{
			name: "empty state dir",
			setupFunc: func(cfg *Config) {
				cfg.StateDir = ""
			},
			wantErr: true,
			errMsg:  "state directory cannot be empty",
		},
		{
			name: "invalid state store type",
			setupFunc: func(cfg *Config) {
				cfg.StateStore.Type = "etcd"
			},
			wantErr: true,
			errMsg:  "invalid state store type",
		},
		{
			name: "aws store missing bucket",
			setupFunc: func(cfg *Config) {
				cfg.StateStore.Type = "aws"
				cfg.StateStore.AWS.S3.Region = "us-east-1"
			},
			wantErr: true,
			errMsg:  "S3 bucket is required",
		},
		{
			name: "aws store locking disabled needs no table",
			setupFunc: func(cfg *Config) {
				cfg.StateStore.Type = "aws"
				cfg.StateStore.AWS.S3.Bucket = "bucket"
				cfg.StateStore.AWS.S3.Region = "us-east-1"
				cfg.StateStore.AWS.DynamoDB.Locking.Enabled = false
			},
			wantErr: false,
		},
		{
			name: "distributed queue without redis",
			setupFunc: func(cfg *Config) {
				cfg.Queue.Type = "distributed"
			},
			wantErr: true,
			errMsg:  "redis URL is required",
		},
		{
			name: "unknown queue type",
			setupFunc: func(cfg *Config) {
				cfg.Queue.Type = "kafka"
			},
			wantErr: true,
			errMsg:  "invalid queue type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewConfig()
			tt.setupFunc(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected validation error, got nil")
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestLoadTimeouts(t *testing.T) {
	t.Setenv("FLIGHTDECK_STEP_RETRY_DELAY", "250ms")
	t.Setenv("FLIGHTDECK_STEP_ATTEMPTS", "5")
	t.Setenv("FLIGHTDECK_RUN_TIMEOUT", "45m")

	timeouts := LoadTimeouts()
	if timeouts.StepRetryDelay.String() != "250ms" {
		t.Errorf("Expected retry delay 250ms, got %v", timeouts.StepRetryDelay)
	}
	if timeouts.MaxStepAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", timeouts.MaxStepAttempts)
	}
	if timeouts.RunExecutionTimeout.String() != "45m0s" {
		t.Errorf("Expected run timeout 45m, got %v", timeouts.RunExecutionTimeout)
	}
}

func TestLoadTimeoutsDefaults(t *testing.T) {
	t.Setenv("FLIGHTDECK_STEP_RETRY_DELAY", "")
	t.Setenv("FLIGHTDECK_STEP_ATTEMPTS", "")
	t.Setenv("FLIGHTDECK_RUN_TIMEOUT", "")

	timeouts := LoadTimeouts()
	if timeouts.MaxStepAttempts != 3 {
		t.Errorf("Expected default 3 attempts, got %d", timeouts.MaxStepAttempts)
	}
	if timeouts.StepRetryDelay.String() != "5s" {
		t.Errorf("Expected default retry delay 5s, got %v", timeouts.StepRetryDelay)
	}
}

func TestGetSanitizedOmitsValues(t *testing.T) {
	t.Parallel()
	cfg := NewConfig()
	cfg.StateStore.Type = "aws"
	cfg.StateStore.AWS.S3.Bucket = "secret-bucket-name"

	sanitized := cfg.GetSanitized()
	for key, value := range sanitized {
		if s, ok := value.(string); ok && strings.Contains(s, "secret-bucket-name") {
			t.Errorf("Sanitized config leaks bucket name under %q", key)
		}
	}
}
