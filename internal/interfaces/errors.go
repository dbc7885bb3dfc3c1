package interfaces

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Machine-readable error codes surfaced in API responses and logs
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeTransientAction    = "TRANSIENT_ACTION_FAILED"
	CodeFatalAction        = "FATAL_ACTION_FAILED"
	CodePollTimeout        = "POLL_TIMEOUT"
	CodeConfirmationDenied = "CONFIRMATION_DENIED"
)

// ValidationError aggregates every failed prerequisite into one error.
// All requirements are evaluated before it is built; the message names
// each missing item exactly.
type ValidationError struct {
	Findings []string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if len(e.Findings) == 0 {
		return "prerequisite validation failed"
	}
	return fmt.Sprintf("prerequisite validation failed: %s", strings.Join(e.Findings, "; "))
}

// Code returns the machine-readable error code
func (e *ValidationError) Code() string { return CodeValidationFailed }

// TransientActionError wraps a failure that is safe to retry, such as
// network flakes or a postcondition that has not settled yet
type TransientActionError struct {
	Step  string
	Cause error
}

// Error implements the error interface
func (e *TransientActionError) Error() string {
	return fmt.Sprintf("transient failure in step %q: %v", e.Step, e.Cause)
}

// Unwrap returns the underlying cause
func (e *TransientActionError) Unwrap() error { return e.Cause }

// Code returns the machine-readable error code
func (e *TransientActionError) Code() string { return CodeTransientAction }

// FatalActionError wraps a failure that retrying cannot fix, such as
// bad credentials or invalid configuration
type FatalActionError struct {
	Step  string
	Cause error
}

// Error implements the error interface
func (e *FatalActionError) Error() string {
	return fmt.Sprintf("fatal failure in step %q: %v", e.Step, e.Cause)
}

// Unwrap returns the underlying cause
func (e *FatalActionError) Unwrap() error { return e.Cause }

// Code returns the machine-readable error code
func (e *FatalActionError) Code() string { return CodeFatalAction }

// PollTimeout reports a readiness wait that exhausted its deadline
type PollTimeout struct {
	Operation  string
	Elapsed    time.Duration
	LastStatus string
}

// Error implements the error interface
func (e *PollTimeout) Error() string {
	if e.LastStatus == "" {
		return fmt.Sprintf("timed out waiting for %s after %v", e.Operation, e.Elapsed.Round(time.Second))
	}
	return fmt.Sprintf("timed out waiting for %s after %v (last status: %s)",
		e.Operation, e.Elapsed.Round(time.Second), e.LastStatus)
}

// Code returns the machine-readable error code
func (e *PollTimeout) Code() string { return CodePollTimeout }

// ConfirmationDenied reports that the operator declined a destructive
// step. It is never retried and leaves recorded state untouched.
type ConfirmationDenied struct {
	Step string
}

// Error implements the error interface
func (e *ConfirmationDenied) Error() string {
	return fmt.Sprintf("confirmation declined for step %q", e.Step)
}

// Code returns the machine-readable error code
func (e *ConfirmationDenied) Code() string { return CodeConfirmationDenied }

// NewTransient wraps an error as retryable for the named step
func NewTransient(step string, cause error) error {
	return &TransientActionError{Step: step, Cause: cause}
}

// NewFatal wraps an error as non-retryable for the named step
func NewFatal(step string, cause error) error {
	return &FatalActionError{Step: step, Cause: cause}
}

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransient checks if an error is retryable
func IsTransient(err error) bool {
	var target *TransientActionError
	return errors.As(err, &target)
}

// IsFatal checks if an error is explicitly non-retryable
func IsFatal(err error) bool {
	var target *FatalActionError
	return errors.As(err, &target)
}

// IsPollTimeout checks if an error is a readiness deadline failure
func IsPollTimeout(err error) bool {
	var target *PollTimeout
	return errors.As(err, &target)
}

// IsConfirmationDenied checks if an error is a declined confirmation
func IsConfirmationDenied(err error) bool {
	var target *ConfirmationDenied
	return errors.As(err, &target)
}

// ErrorCode extracts the machine-readable code from a taxonomy error,
// or empty for errors outside the taxonomy
func ErrorCode(err error) string {
	type coded interface{ Code() string }
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}
