package pipeline

import (
	"errors"
	"fmt"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// Process exit codes. Every CLI command maps its result through
// ExitCode so scripts can branch on why a run stopped.
const (
	// ExitSuccess means the requested operation completed
	ExitSuccess = 0
	// ExitValidation means a prerequisite or precondition was not met;
	// nothing was mutated by the failing step
	ExitValidation = 1
	// ExitActionFailed means a step's action or postcondition failed
	// after exhausting its retry budget
	ExitActionFailed = 2
	// ExitConfirmationDenied means the operator declined a
	// confirmation prompt
	ExitConfirmationDenied = 3
)

// PreconditionError reports that a step's precondition was not met.
// The step's action never ran.
type PreconditionError struct {
	Step  string
	Cause error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition for step %q not met: %v", e.Step, e.Cause)
}

func (e *PreconditionError) Unwrap() error {
	return e.Cause
}

// ExitCode classifies an error from a pipeline run into a process exit
// code
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if interfaces.IsConfirmationDenied(err) {
		return ExitConfirmationDenied
	}

	var precondition *PreconditionError
	var unknownEnv *config.UnknownEnvironmentError
	if interfaces.IsValidation(err) || errors.As(err, &precondition) ||
		errors.As(err, &unknownEnv) || errors.Is(err, interfaces.ErrLockHeld) {
		return ExitValidation
	}
	return ExitActionFailed
}
