// Package pipeline executes the ordered deployment steps for an
// environment. Each step declares a precondition, an idempotent
// action, and a postcondition; the engine owns retries, resume from
// recorded state, confirmation gates, and the advisory environment
// lock. It never compensates across steps; a failed step halts the run
// for operator remediation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// PrereqValidator validates an environment's prerequisite checks
type PrereqValidator interface {
	Validate(ctx context.Context, checks []config.PrerequisiteSpec) error
}

// Collaborators bundles the external systems a pipeline run drives.
// All fields are required.
type Collaborators struct {
	Infra     interfaces.InfraProvisioner
	Cluster   interfaces.ClusterClient
	GitOps    interfaces.GitOpsController
	Confirmer interfaces.ConfirmationProvider
	Validator PrereqValidator
}

// Pipeline runs deploy and destroy sequences against environments
type Pipeline struct {
	collab    Collaborators
	store     interfaces.StateStore
	locker    interfaces.EnvironmentLocker
	timeouts  *config.Timeouts
	bus       *events.EventBus
	collector *metrics.Collector
	version   string
	logger    *logging.Logger
}

// Option is a functional option for configuring a Pipeline
type Option func(*Pipeline)

// WithEventBus sets the bus step and job events are published on
func WithEventBus(bus *events.EventBus) Option {
	return func(p *Pipeline) {
		p.bus = bus
	}
}

// WithMetrics sets the collector step retries and job counts go to
func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.collector = collector
	}
}

// WithTimeouts overrides the retry and run timing configuration
func WithTimeouts(timeouts *config.Timeouts) Option {
	return func(p *Pipeline) {
		if timeouts != nil {
			p.timeouts = timeouts
		}
	}
}

// WithVersion records the build version in written environment records
func WithVersion(version string) Option {
	return func(p *Pipeline) {
		p.version = version
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a pipeline over the given collaborators, state
// store, and environment locker
func NewPipeline(collab Collaborators, store interfaces.StateStore, locker interfaces.EnvironmentLocker, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		collab:   collab,
		store:    store,
		locker:   locker,
		timeouts: config.LoadTimeouts(),
		bus:      events.NewEventBus(),
		logger:   logging.NewLogger("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.validateConfig(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) validateConfig() error {
	switch {
	case p.collab.Infra == nil:
		return errors.New("infrastructure provisioner is required")
	case p.collab.Cluster == nil:
		return errors.New("cluster client is required")
	case p.collab.GitOps == nil:
		return errors.New("gitops controller is required")
	case p.collab.Confirmer == nil:
		return errors.New("confirmation provider is required")
	case p.collab.Validator == nil:
		return errors.New("prerequisite validator is required")
	case p.store == nil:
		return errors.New("state store is required")
	case p.locker == nil:
		return errors.New("environment locker is required")
	}
	return nil
}

// Deploy runs the full deployment sequence for the environment
func (p *Pipeline) Deploy(ctx context.Context, env *config.Environment) (*interfaces.RunResult, error) {
	runID, err := newRunID()
	if err != nil {
		return nil, err
	}
	return p.run(ctx, runID, env, interfaces.OperationDeploy, p.deploySteps)
}

// Destroy runs the teardown sequence for the environment
func (p *Pipeline) Destroy(ctx context.Context, env *config.Environment) (*interfaces.RunResult, error) {
	runID, err := newRunID()
	if err != nil {
		return nil, err
	}
	return p.run(ctx, runID, env, interfaces.OperationDestroy, p.destroySteps)
}

// RunStep executes one mutating deploy step by ordinal, with
// prerequisite validation always evaluated first as a gate
func (p *Pipeline) RunStep(ctx context.Context, env *config.Environment, ordinal int) (*interfaces.RunResult, error) {
	if ordinal < 1 || ordinal > lastDeployOrdinal {
		return nil, fmt.Errorf("step ordinal must be between 1 and %d, got %d", lastDeployOrdinal, ordinal)
	}
	runID, err := newRunID()
	if err != nil {
		return nil, err
	}

	build := func(rc *runContext) []Step {
		all := p.deploySteps(rc)
		return []Step{all[0], all[ordinal]}
	}
	// Single-step runs advance the same record the full deploy uses
	return p.run(ctx, runID, env, interfaces.OperationDeploy, build)
}

// ExecuteRun dispatches a queued run onto the matching sequence. The
// server's worker pool uses this as its executor.
func (p *Pipeline) ExecuteRun(ctx context.Context, run *interfaces.PipelineRun, env *config.Environment) (*interfaces.RunResult, error) {
	if run == nil || run.Request == nil {
		return nil, errors.New("run request is nil")
	}

	switch run.Request.Operation {
	case interfaces.OperationDeploy:
		return p.run(ctx, run.ID, env, interfaces.OperationDeploy, p.deploySteps)
	case interfaces.OperationDestroy:
		return p.run(ctx, run.ID, env, interfaces.OperationDestroy, p.destroySteps)
	case interfaces.OperationStep:
		ordinal := run.Request.StepOrdinal
		if ordinal < 1 || ordinal > lastDeployOrdinal {
			return nil, fmt.Errorf("step ordinal must be between 1 and %d, got %d", lastDeployOrdinal, ordinal)
		}
		build := func(rc *runContext) []Step {
			all := p.deploySteps(rc)
			return []Step{all[0], all[ordinal]}
		}
		return p.run(ctx, run.ID, env, interfaces.OperationDeploy, build)
	default:
		return nil, fmt.Errorf("unknown run operation %q", run.Request.Operation)
	}
}

// runContext is the per-invocation state shared by the engine and the
// step closures
type runContext struct {
	runID  string
	env    *config.Environment
	record *interfaces.EnvironmentRecord

	// resumeIndex is the record's step index as loaded; the live record
	// advances during the run while resume decisions use this snapshot
	resumeIndex int
	total       int

	// confirmed is set once the operator approves destructive work in
	// this invocation. It is never persisted.
	confirmed bool
}

// resumed reports whether a previous invocation completed this ordinal
func (rc *runContext) resumed(ordinal int) bool {
	return rc.resumeIndex >= ordinal
}

// output reads a recorded step output
func (rc *runContext) output(key string) string {
	if rc.record == nil {
		return ""
	}
	return rc.record.Outputs[key]
}

func (p *Pipeline) run(ctx context.Context, runID string, env *config.Environment, op interfaces.RunOperation, build func(*runContext) []Step) (*interfaces.RunResult, error) {
	result := &interfaces.RunResult{
		RunID:       runID,
		Environment: env.Name,
	}
	fail := func(err error) (*interfaces.RunResult, error) {
		result.Error = err
		result.CompletedAt = time.Now()
		return result, err
	}

	if p.timeouts.RunExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeouts.RunExecutionTimeout)
		defer cancel()
	}

	lock, err := p.locker.AcquireLock(ctx, env.Name)
	if err != nil {
		return fail(fmt.Errorf("cannot start %s: %w", op, err))
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			p.logger.Warnf("failed to release lock for environment %s: %v", env.Name, releaseErr)
		}
	}()

	rc, err := p.loadRunContext(ctx, runID, env, op)
	if err != nil {
		return fail(err)
	}

	steps := build(rc)
	rc.total = len(steps)
	p.logger.Operation(ctx, fmt.Sprintf("%s %s", op, env.Name), map[string]interface{}{
		"run_id": runID,
		"steps":  len(steps),
	})

	var failed error
	for _, step := range steps {
		stepResult := p.runStep(ctx, rc, step)
		result.Steps = append(result.Steps, stepResult)
		if p.bus != nil {
			p.bus.PublishStepCompleted(runID, env.Name, stepResult)
		}

		if stepResult.Error != nil {
			failed = stepResult.Error
			break
		}
		if !step.FinalizesRecord {
			if err := p.recordProgress(ctx, rc, step); err != nil {
				failed = err
				break
			}
		}
	}

	finished := 0
	for _, stepResult := range result.Steps {
		if stepResult.Status == interfaces.StepStatusSucceeded || stepResult.Status == interfaces.StepStatusSkipped {
			finished++
		}
	}
	p.logger.RunSummary(env.Name, finished, len(steps))

	result.Outputs = rc.record.Outputs
	result.CompletedAt = time.Now()
	if failed != nil {
		result.Error = failed
		return result, failed
	}
	result.Success = true
	return result, nil
}

// loadRunContext loads or initializes the environment record. A record
// written by a different operation is discarded; resuming a deploy
// from destroy progress (or vice versa) would skip work the other
// operation undid.
func (p *Pipeline) loadRunContext(ctx context.Context, runID string, env *config.Environment, op interfaces.RunOperation) (*runContext, error) {
	record, err := p.store.LoadRecord(ctx, env.Name)
	switch {
	case errors.Is(err, interfaces.ErrRecordNotFound):
		record = interfaces.NewEnvironmentRecord(env.Name, op)
	case err != nil:
		return nil, fmt.Errorf("failed to load state for environment %q: %w", env.Name, err)
	case record.Operation != op:
		p.logger.Infof("discarding recorded %s state for environment %s; starting %s fresh", record.Operation, env.Name, op)
		record = interfaces.NewEnvironmentRecord(env.Name, op)
	default:
		p.logger.Infof("resuming %s for environment %s; last completed step %d (%s)",
			op, env.Name, record.LastStepIndex, record.LastStepName)
	}

	return &runContext{
		runID:       runID,
		env:         env,
		record:      record,
		resumeIndex: record.LastStepIndex,
	}, nil
}

//nolint:funlen // Step execution walks precondition, skip, confirmation, and the retry loop
func (p *Pipeline) runStep(ctx context.Context, rc *runContext, step Step) interfaces.StepResult {
	start := time.Now()
	result := interfaces.StepResult{
		Name:    step.Name,
		Ordinal: step.Ordinal,
		Status:  interfaces.StepStatusRunning,
	}
	p.logger.StepStart(rc.env.Name, step.Name, step.Ordinal, rc.total)

	fail := func(err error) interfaces.StepResult {
		result.Status = interfaces.StepStatusFailed
		result.Error = err
		result.Duration = time.Since(start)
		p.logger.StepFailed(rc.env.Name, step.Name, result.Attempts, err)
		return result
	}
	skip := func(message string) interfaces.StepResult {
		result.Status = interfaces.StepStatusSkipped
		result.Message = message
		result.Duration = time.Since(start)
		p.logger.Infof("step %s skipped: %s", step.Name, message)
		return result
	}

	if step.Precondition != nil {
		if err := step.Precondition(ctx); err != nil {
			return fail(&PreconditionError{Step: step.Name, Cause: err})
		}
	}

	// Resume: a step the record marks complete only re-verifies its
	// postcondition. The action runs again only when that no longer
	// holds, so a fully deployed environment re-runs with zero
	// mutating actions.
	if !step.NeverSkip && rc.resumed(step.Ordinal) {
		if step.Postcondition == nil {
			return skip("already completed")
		}
		if err := step.Postcondition(ctx); err == nil {
			return skip("already satisfied")
		}
		p.logger.Infof("step %s is recorded complete but its postcondition no longer holds; re-running", step.Name)
	}

	if err := p.confirmStep(ctx, rc, step); err != nil {
		return fail(err)
	}

	maxAttempts := step.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.timeouts.MaxStepAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			if p.collector != nil {
				p.collector.RecordStepRetried()
			}
			p.logger.StepRetry(rc.env.Name, step.Name, attempt, lastErr)
			if err := p.waitRetryDelay(ctx); err != nil {
				return fail(fmt.Errorf("retry interrupted: %w (last attempt: %v)", err, lastErr))
			}
		}

		if step.Action != nil {
			if err := step.Action(ctx); err != nil {
				if interfaces.IsTransient(err) && attempt < maxAttempts {
					lastErr = err
					continue
				}
				return fail(err)
			}
		}

		if step.Postcondition != nil {
			if err := step.Postcondition(ctx); err != nil {
				if retryablePostcondition(err) && attempt < maxAttempts {
					lastErr = err
					continue
				}
				return fail(err)
			}
		}

		result.Status = interfaces.StepStatusSucceeded
		result.Duration = time.Since(start)
		p.logger.StepSuccess(rc.env.Name, step.Name, attempt)
		return result
	}

	return fail(lastErr)
}

// confirmStep gates destructive work on the operator. Consent holds
// for the rest of this invocation but never carries across runs; a
// confirm-always environment re-prompts for every step.
func (p *Pipeline) confirmStep(ctx context.Context, rc *runContext, step Step) error {
	always := rc.env.ConfirmAlways()
	if !always && (!step.Destructive || rc.confirmed) {
		return nil
	}

	prompt := fmt.Sprintf("Step %q will modify environment %q. Continue?", step.Name, rc.env.Name)
	approved, err := p.collab.Confirmer.Confirm(ctx, prompt)
	if err != nil {
		return interfaces.NewFatal(step.Name, fmt.Errorf("confirmation failed: %w", err))
	}
	if !approved {
		return &interfaces.ConfirmationDenied{Step: step.Name}
	}
	rc.confirmed = true
	return nil
}

// retryablePostcondition reports whether a postcondition failure
// should re-run the action. Postconditions are observations, so they
// retry unless the outcome is explicitly terminal.
func retryablePostcondition(err error) bool {
	return !interfaces.IsFatal(err) && !interfaces.IsConfirmationDenied(err) && !interfaces.IsValidation(err)
}

// waitRetryDelay pauses between step attempts, honoring cancellation
func (p *Pipeline) waitRetryDelay(ctx context.Context) error {
	if p.timeouts.StepRetryDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.timeouts.StepRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// recordProgress persists the environment record after a step. The
// index advances only when the step directly follows the last
// completed one, so a single-step run cannot mark earlier steps done.
func (p *Pipeline) recordProgress(ctx context.Context, rc *runContext, step Step) error {
	if step.Ordinal == rc.record.LastStepIndex+1 {
		rc.record.LastStepIndex = step.Ordinal
		rc.record.LastStepName = step.Name
	}
	rc.record.UpdatedAt = time.Now()
	rc.record.WrittenBy = p.version

	if err := p.store.SaveRecord(ctx, rc.record); err != nil {
		return fmt.Errorf("step %s succeeded but its state could not be recorded: %w", step.Name, err)
	}
	return nil
}

func newRunID() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}
	return id, nil
}
