// Package logging provides structured logging for the flightdeck application
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

// CorrelationIDKey is the context key for correlation IDs
const CorrelationIDKey contextKey = "correlationID"

// Logger provides structured logging using slog
type Logger struct {
	logger    *slog.Logger
	component string
}

// NewLogger creates a new logger for a specific component
func NewLogger(component string) *Logger {
	handler := createHandler()
	return &Logger{
		logger:    slog.New(handler),
		component: component,
	}
}

// createHandler creates an appropriate slog handler based on environment variables
func createHandler() slog.Handler {
	var output io.Writer = os.Stdout
	level := getLogLevel()

	format := strings.ToUpper(os.Getenv("FLIGHTDECK_LOG_FORMAT"))
	switch format {
	case "JSON":
		return slog.NewJSONHandler(output, &slog.HandlerOptions{
			Level:       level,
			AddSource:   false,
			ReplaceAttr: replaceAttr,
		})
	default:
		return slog.NewTextHandler(output, &slog.HandlerOptions{
			Level:       level,
			AddSource:   false,
			ReplaceAttr: replaceAttr,
		})
	}
}

// getLogLevel determines the slog level from environment
func getLogLevel() slog.Level {
	// Reduce verbosity during tests
	if os.Getenv("FLIGHTDECK_TEST_MODE") == "true" {
		return slog.LevelError
	}
	levelStr := strings.ToUpper(os.Getenv("FLIGHTDECK_LOG_LEVEL"))
	switch levelStr {
	case "TRACE", "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// replaceAttr customizes attribute names and values
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		switch level {
		case slog.LevelDebug:
			return slog.Attr{Key: a.Key, Value: slog.StringValue("DEBUG")}
		case slog.LevelInfo:
			return slog.Attr{Key: a.Key, Value: slog.StringValue("INFO")}
		case slog.LevelWarn:
			return slog.Attr{Key: a.Key, Value: slog.StringValue("WARN")}
		case slog.LevelError:
			return slog.Attr{Key: a.Key, Value: slog.StringValue("ERROR")}
		}
	}
	return a
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), "component", l.component)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", l.component)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", l.component)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", l.component)
}

// InfoMsg logs a simple info message
func (l *Logger) InfoMsg(msg string) {
	l.logger.Info(msg, "component", l.component)
}

// DebugMsg logs a simple debug message
func (l *Logger) DebugMsg(msg string) {
	l.logger.Debug(msg, "component", l.component)
}

// WarnMsg logs a simple warning message
func (l *Logger) WarnMsg(msg string) {
	l.logger.Warn(msg, "component", l.component)
}

// ErrorMsg logs a simple error message
func (l *Logger) ErrorMsg(msg string) {
	l.logger.Error(msg, "component", l.component)
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}

// WithContext returns a logger carrying the context's correlation ID
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if corrID, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return &Logger{
			logger:    l.logger.With("correlation_id", corrID),
			component: l.component,
		}
	}
	return l
}

// WithCorrelation returns a logger with an explicit correlation ID
func (l *Logger) WithCorrelation(correlationID string) *Logger {
	return &Logger{
		logger:    l.logger.With("correlation_id", correlationID),
		component: l.component,
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		logger:    l.logger.With(args...),
		component: l.component,
	}
}

// Operation logs an operation with structured data at debug level
func (l *Logger) Operation(ctx context.Context, operation string, details map[string]interface{}) {
	if !l.IsDebugEnabled() {
		return
	}

	args := []interface{}{"component", l.component, "operation", operation}
	for k, v := range details {
		args = append(args, k, v)
	}

	l.logger.DebugContext(ctx, "Operation", args...)
}

// Success logs a successful operation
func (l *Logger) Success(ctx context.Context, operation string, details ...interface{}) {
	args := []interface{}{"component", l.component, "operation", operation, "status", "success"}
	if len(details) > 0 {
		args = append(args, "details", details[0])
	}

	l.logger.InfoContext(ctx, "Operation completed successfully", args...)
}

// Failure logs a failed operation
func (l *Logger) Failure(ctx context.Context, operation string, err error) {
	l.logger.ErrorContext(ctx, "Operation failed",
		"component", l.component,
		"operation", operation,
		"status", "failed",
		"error", err)
}

// Specialized logging methods for pipeline execution

// StepStart logs the start of a pipeline step
func (l *Logger) StepStart(environment, stepName string, ordinal, total int) {
	l.logger.Info("Starting pipeline step",
		"component", l.component,
		"environment", environment,
		"step", stepName,
		"ordinal", ordinal,
		"total", total)
}

// StepSuccess logs a successfully completed pipeline step
func (l *Logger) StepSuccess(environment, stepName string, attempts int) {
	l.logger.Info("Pipeline step succeeded",
		"component", l.component,
		"environment", environment,
		"step", stepName,
		"attempts", attempts,
		"status", "success")
}

// StepFailed logs a failed pipeline step
func (l *Logger) StepFailed(environment, stepName string, attempts int, err error) {
	l.logger.Error("Pipeline step failed",
		"component", l.component,
		"environment", environment,
		"step", stepName,
		"attempts", attempts,
		"status", "failed",
		"error", err)
}

// StepRetry logs a retry of a pipeline step after a transient failure
func (l *Logger) StepRetry(environment, stepName string, attempt int, err error) {
	l.logger.Warn("Retrying pipeline step",
		"component", l.component,
		"environment", environment,
		"step", stepName,
		"attempt", attempt,
		"error", err)
}

// RunSummary logs the outcome of a pipeline run
func (l *Logger) RunSummary(environment string, succeeded, total int) {
	if succeeded == total {
		l.logger.Info("Pipeline completed successfully",
			"component", l.component,
			"environment", environment,
			"succeeded", succeeded,
			"total", total,
			"status", "completed")
	} else {
		l.logger.Warn("Pipeline completed with failures",
			"component", l.component,
			"environment", environment,
			"succeeded", succeeded,
			"total", total,
			"status", "completed_with_errors")
	}
}

// JobSubmitted logs a data-load job submission
func (l *Logger) JobSubmitted(jobName string, wave int) {
	l.logger.Info("Submitted job",
		"component", l.component,
		"job", jobName,
		"wave", wave)
}

// JobFinished logs a data-load job reaching a terminal state
func (l *Logger) JobFinished(jobName string, wave int, state, lastStatus string) {
	l.logger.Info("Job finished",
		"component", l.component,
		"job", jobName,
		"wave", wave,
		"state", state,
		"last_status", lastStatus)
}
