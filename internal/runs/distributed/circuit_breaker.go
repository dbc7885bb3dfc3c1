// Package distributed provides the Redis-backed run queue, tracker,
// and worker pool that let several server replicas share one run
// stream, plus the resilience pieces guarding the Redis edge.
package distributed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flightdeck/flightdeck/pkg/logging"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int32

const (
	// CircuitClosed indicates the circuit breaker is closed and allowing requests
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the circuit breaker is open and blocking requests
	CircuitOpen
	// CircuitHalfOpen indicates the circuit breaker is allowing a single probe request
	CircuitHalfOpen
)

// String returns the string representation of CircuitState
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the circuit
	MaxFailures int64
	// Timeout is how long the circuit stays open before allowing a probe
	Timeout time.Duration
	// ReadyToTrip, when set, replaces the consecutive-failure rule
	ReadyToTrip func(counts Counts) bool
	// OnStateChange is called whenever the circuit breaker changes state
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
	}
}

// Counts represents circuit breaker statistics
type Counts struct {
	Requests             int64
	TotalSuccesses       int64
	TotalFailures        int64
	ConsecutiveSuccesses int64
	ConsecutiveFailures  int64
}

// CircuitBreaker sheds load from a failing Redis instead of piling
// retries onto it. Closed passes requests through, open rejects them,
// and half-open lets exactly one probe decide which way to go.
type CircuitBreaker struct {
	name   string
	config *CircuitBreakerConfig
	logger *logging.Logger

	mu       sync.Mutex
	state    CircuitState
	counts   Counts
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.NewLogger("circuit-breaker"),
		state:  CircuitClosed,
	}
}

// Execute runs a function through the circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		cb.record(false)
		return err //nolint:wrapcheck // context.Err() doesn't need wrapping
	}

	err := fn()
	cb.record(err == nil)
	return err
}

// allow decides whether a request may proceed in the current state
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.config.Timeout {
			return errors.New("circuit breaker is open")
		}
		cb.setState(CircuitHalfOpen)
		cb.probing = true
	case CircuitHalfOpen:
		if cb.probing {
			return errors.New("circuit breaker is half-open, request limit reached")
		}
		cb.probing = true
	case CircuitClosed:
	}

	cb.counts.Requests++
	return nil
}

// record applies a request outcome. An outcome that lands after a
// state change only adjusts the counters for the new state.
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == CircuitHalfOpen {
			cb.probing = false
			cb.setState(CircuitClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case CircuitClosed:
		if cb.tripped() {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.probing = false
		cb.setState(CircuitOpen)
	case CircuitOpen:
	}
}

// tripped reports whether the closed circuit should open
func (cb *CircuitBreaker) tripped() bool {
	if cb.config.ReadyToTrip != nil {
		return cb.config.ReadyToTrip(cb.counts)
	}
	return cb.counts.ConsecutiveFailures >= cb.config.MaxFailures
}

// setState transitions the breaker. Caller holds the lock.
func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.counts = Counts{}

	if state == CircuitOpen {
		cb.openedAt = time.Now()
	}

	cb.logger.Infof("circuit breaker %q changed state from %s to %s", cb.name, prev, state)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the current circuit breaker counts
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}
