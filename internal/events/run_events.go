// Package events provides event handling for pipeline run lifecycle events.
package events

import (
	"sync"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// EventType represents the type of run event
type EventType string

const (
	// EventStatusChanged is emitted when a run's status changes
	EventStatusChanged EventType = "status_changed"
	// EventResultReady is emitted when a run's result is ready
	EventResultReady EventType = "result_ready"
	// EventStepCompleted is emitted after each pipeline step finishes
	EventStepCompleted EventType = "step_completed"
	// EventJobCompleted is emitted after each wave job reaches a final state
	EventJobCompleted EventType = "job_completed"
	// EventError is emitted when an error occurs
	EventError EventType = "error"
)

// RunEvent represents an event in the pipeline run lifecycle
type RunEvent struct {
	Type        EventType
	RunID       string
	Environment string
	Timestamp   time.Time

	// Event-specific data
	Status *interfaces.RunStatus
	Result *interfaces.RunResult
	Step   *interfaces.StepResult
	Job    *interfaces.JobOutcome
	Error  error
}

// EventHandler is a function that handles run events
type EventHandler func(event RunEvent)

// EventBus manages run event subscriptions and dispatching
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	synchronous bool // When true, handlers are called synchronously (for testing)
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// NewSynchronousEventBus creates a new event bus that calls handlers synchronously (for testing)
func NewSynchronousEventBus() *EventBus {
	return &EventBus{
		handlers:    make(map[EventType][]EventHandler),
		synchronous: true,
	}
}

// Subscribe registers a handler for specific event types
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish sends an event to all registered handlers
func (eb *EventBus) Publish(event RunEvent) {
	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	synchronous := eb.synchronous
	eb.mu.RUnlock()

	if synchronous {
		for _, handler := range handlers {
			handler(event)
		}
	} else {
		// Async dispatch so publishers never block on slow handlers
		for _, handler := range handlers {
			go handler(event)
		}
	}
}

// PublishStatusChange is a convenience method for status change events
func (eb *EventBus) PublishStatusChange(runID string, status interfaces.RunStatus) {
	eb.Publish(RunEvent{
		Type:      EventStatusChanged,
		RunID:     runID,
		Timestamp: time.Now(),
		Status:    &status,
	})
}

// PublishResult is a convenience method for result events
func (eb *EventBus) PublishResult(runID string, result *interfaces.RunResult) {
	eb.Publish(RunEvent{
		Type:        EventResultReady,
		RunID:       runID,
		Environment: result.Environment,
		Timestamp:   time.Now(),
		Result:      result,
	})
}

// PublishStepCompleted is a convenience method for step completion events
func (eb *EventBus) PublishStepCompleted(runID, environment string, step interfaces.StepResult) {
	eb.Publish(RunEvent{
		Type:        EventStepCompleted,
		RunID:       runID,
		Environment: environment,
		Timestamp:   time.Now(),
		Step:        &step,
	})
}

// PublishJobCompleted is a convenience method for wave job completion events
func (eb *EventBus) PublishJobCompleted(environment string, job interfaces.JobOutcome) {
	eb.Publish(RunEvent{
		Type:        EventJobCompleted,
		Environment: environment,
		Timestamp:   time.Now(),
		Job:         &job,
	})
}

// PublishError is a convenience method for error events
func (eb *EventBus) PublishError(runID string, err error) {
	eb.Publish(RunEvent{
		Type:      EventError,
		RunID:     runID,
		Timestamp: time.Now(),
		Error:     err,
	})
}
