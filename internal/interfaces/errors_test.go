//go:build !integration
// +build !integration

package interfaces_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

func TestValidationErrorNamesEveryFinding(t *testing.T) {
	t.Parallel()

	err := &interfaces.ValidationError{Findings: []string{
		`binary "terraform" not found on PATH`,
		`file "envs/dev/vars.tfvars" does not exist`,
	}}

	msg := err.Error()
	assert.Contains(t, msg, "prerequisite validation failed")
	assert.Contains(t, msg, `binary "terraform" not found on PATH`)
	assert.Contains(t, msg, `file "envs/dev/vars.tfvars" does not exist`)

	assert.True(t, interfaces.IsValidation(err))
	assert.Equal(t, interfaces.CodeValidationFailed, interfaces.ErrorCode(err))
}

func TestTransientAndFatalClassification(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	transient := interfaces.NewTransient("provision-infrastructure", cause)
	fatal := interfaces.NewFatal("configure-cluster-access", errors.New("bad credentials"))

	t.Run("Transient", func(t *testing.T) {
		t.Parallel()
		assert.True(t, interfaces.IsTransient(transient))
		assert.False(t, interfaces.IsFatal(transient))
		assert.Contains(t, transient.Error(), "provision-infrastructure")
		require.ErrorIs(t, transient, cause)
		assert.Equal(t, interfaces.CodeTransientAction, interfaces.ErrorCode(transient))
	})

	t.Run("Fatal", func(t *testing.T) {
		t.Parallel()
		assert.True(t, interfaces.IsFatal(fatal))
		assert.False(t, interfaces.IsTransient(fatal))
		assert.Contains(t, fatal.Error(), "configure-cluster-access")
		assert.Equal(t, interfaces.CodeFatalAction, interfaces.ErrorCode(fatal))
	})

	t.Run("WrappedStillClassified", func(t *testing.T) {
		t.Parallel()
		wrapped := fmt.Errorf("step 2: %w", transient)
		assert.True(t, interfaces.IsTransient(wrapped))
		assert.Equal(t, interfaces.CodeTransientAction, interfaces.ErrorCode(wrapped))
	})
}

func TestPollTimeoutMessage(t *testing.T) {
	t.Parallel()

	err := &interfaces.PollTimeout{
		Operation:  "job load-tenants",
		Elapsed:    10 * time.Minute,
		LastStatus: "0/1 completions",
	}

	assert.Contains(t, err.Error(), "job load-tenants")
	assert.Contains(t, err.Error(), "0/1 completions")
	assert.True(t, interfaces.IsPollTimeout(err))
	assert.Equal(t, interfaces.CodePollTimeout, interfaces.ErrorCode(err))

	bare := &interfaces.PollTimeout{Operation: "gitops controller", Elapsed: time.Minute}
	assert.NotContains(t, bare.Error(), "last status")
}

func TestConfirmationDenied(t *testing.T) {
	t.Parallel()

	err := &interfaces.ConfirmationDenied{Step: "destroy-infrastructure"}
	assert.Contains(t, err.Error(), "destroy-infrastructure")
	assert.True(t, interfaces.IsConfirmationDenied(err))
	assert.False(t, interfaces.IsTransient(err))
	assert.Equal(t, interfaces.CodeConfirmationDenied, interfaces.ErrorCode(err))
}

func TestErrorCodeOutsideTaxonomy(t *testing.T) {
	t.Parallel()

	assert.Empty(t, interfaces.ErrorCode(errors.New("plain error")))
	assert.Empty(t, interfaces.ErrorCode(nil))
}
