package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds execution timing configuration
type Timeouts struct {
	// StepRetryDelay is the pause between attempts of a step that
	// failed transiently
	StepRetryDelay time.Duration
	// MaxStepAttempts bounds how often a step runs before its failure
	// becomes fatal
	MaxStepAttempts int
	// RunExecutionTimeout bounds a whole pipeline run
	RunExecutionTimeout time.Duration
}

// LoadTimeouts loads timing configuration from environment variables
func LoadTimeouts() *Timeouts {
	t := &Timeouts{
		StepRetryDelay:      5 * time.Second,
		MaxStepAttempts:     3,
		RunExecutionTimeout: 2 * time.Hour,
	}

	if delay := os.Getenv("FLIGHTDECK_STEP_RETRY_DELAY"); delay != "" {
		if duration, err := time.ParseDuration(delay); err == nil {
			t.StepRetryDelay = duration
		}
	}

	if attempts := os.Getenv("FLIGHTDECK_STEP_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil && n > 0 {
			t.MaxStepAttempts = n
		}
	}

	if timeout := os.Getenv("FLIGHTDECK_RUN_TIMEOUT"); timeout != "" {
		if duration, err := time.ParseDuration(timeout); err == nil {
			t.RunExecutionTimeout = duration
		}
	}

	return t
}
