package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/poll"
	"github.com/flightdeck/flightdeck/internal/waves"
)

// Deploy step names, indexed by ordinal
const (
	StepValidatePrereqs = "validate-prerequisites"
	StepProvisionInfra  = "provision-infrastructure"
	StepConfigureAccess = "configure-cluster-access"
	StepBootstrapGitOps = "bootstrap-gitops-controller"
	StepSyncApps        = "sync-applications"
	StepVerify          = "verify-deployment"
)

// Destroy step names, indexed by ordinal
const (
	StepConfirmDestroy  = "confirm-destruction"
	StepRemoveApps      = "remove-applications"
	StepUninstallGitOps = "uninstall-gitops-controller"
	StepDestroyInfra    = "destroy-infrastructure"
	StepClearState      = "clear-state"
)

const lastDeployOrdinal = 5

// DeployStepNames returns the deploy sequence's step names in order
func DeployStepNames() []string {
	return []string{
		StepValidatePrereqs,
		StepProvisionInfra,
		StepConfigureAccess,
		StepBootstrapGitOps,
		StepSyncApps,
		StepVerify,
	}
}

// DestroyStepNames returns the destroy sequence's step names in order
func DestroyStepNames() []string {
	return []string{
		StepConfirmDestroy,
		StepRemoveApps,
		StepUninstallGitOps,
		StepDestroyInfra,
		StepClearState,
	}
}

// Step is one unit of a deploy or destroy sequence. The engine runs
// Precondition, then Action under the retry budget, then Postcondition;
// any nil hook is treated as trivially satisfied.
type Step struct {
	Name    string
	Ordinal int

	// Destructive steps need operator confirmation before their action
	// runs, unless destructive work was already approved in this
	// invocation
	Destructive bool

	// NeverSkip runs the step on every invocation, ignoring recorded
	// progress. Validation and confirmation gates use it.
	NeverSkip bool

	// FinalizesRecord suppresses the progress write after the step, for
	// steps that delete the record themselves
	FinalizesRecord bool

	// MaxAttempts overrides the configured retry budget when positive
	MaxAttempts int

	Precondition  func(ctx context.Context) error
	Action        func(ctx context.Context) error
	Postcondition func(ctx context.Context) error
}

// deploySteps builds the deploy sequence bound to one run's context.
// Step closures read and write the run's record through rc, so outputs
// recorded by provisioning are visible to later steps and to resumes.
func (p *Pipeline) deploySteps(rc *runContext) []Step {
	env := rc.env
	return []Step{
		{
			Name:      StepValidatePrereqs,
			Ordinal:   0,
			NeverSkip: true,
			Action: func(ctx context.Context) error {
				return p.collab.Validator.Validate(ctx, env.Prerequisites)
			},
		},
		{
			Name:    StepProvisionInfra,
			Ordinal: 1,
			Precondition: func(_ context.Context) error {
				info, err := os.Stat(env.InfraDir)
				if err != nil {
					return fmt.Errorf("infrastructure directory %s: %w", env.InfraDir, err)
				}
				if !info.IsDir() {
					return fmt.Errorf("infrastructure path %s is not a directory", env.InfraDir)
				}
				return nil
			},
			Action: func(ctx context.Context) error {
				outputs, err := p.collab.Infra.Apply(ctx, env.InfraDir, env.InfraVars())
				if err != nil {
					return err
				}
				for key, value := range outputs {
					rc.record.SetOutput(key, value)
				}
				if env.Region != "" {
					rc.record.SetOutput(interfaces.OutputRegion, env.Region)
				}
				return nil
			},
			Postcondition: p.clusterReachablePoll(env.InfraPoll),
		},
		{
			Name:    StepConfigureAccess,
			Ordinal: 2,
			Precondition: func(_ context.Context) error {
				if env.KubeContext == "" && rc.output(interfaces.OutputClusterName) == "" {
					return errors.New("no kube_context in the manifest and no cluster_name output recorded by provisioning")
				}
				return nil
			},
			Action: func(ctx context.Context) error {
				kubeContext := env.KubeContext
				if kubeContext == "" {
					kubeContext = rc.output(interfaces.OutputClusterName)
				}
				if err := p.collab.Cluster.UseContext(ctx, kubeContext); err != nil {
					return fmt.Errorf("failed to activate context %s: %w", kubeContext, err)
				}
				rc.record.SetOutput(interfaces.OutputKubeContext, kubeContext)
				return nil
			},
			Postcondition: p.clusterReachablePoll(env.Poll),
		},
		{
			Name:    StepBootstrapGitOps,
			Ordinal: 3,
			Precondition: func(ctx context.Context) error {
				if err := p.collab.Cluster.ServerReachable(ctx); err != nil {
					return fmt.Errorf("cluster not reachable: %w", err)
				}
				return nil
			},
			Action: func(ctx context.Context) error {
				return p.collab.GitOps.InstallController(ctx)
			},
			Postcondition: p.controllerReadyPoll(env.GitOps.Poll),
		},
		{
			Name:    StepSyncApps,
			Ordinal: 4,
			Precondition: func(ctx context.Context) error {
				ready, err := p.collab.GitOps.ControllerReady(ctx)
				if err != nil {
					return fmt.Errorf("gitops controller check failed: %w", err)
				}
				if !ready {
					return errors.New("gitops controller is not ready")
				}
				return nil
			},
			Action: func(ctx context.Context) error {
				for _, app := range env.AppSpecs() {
					if err := p.collab.GitOps.RegisterApplication(ctx, app); err != nil {
						return fmt.Errorf("failed to register application %s: %w", app.Name, err)
					}
				}

				jobs := env.JobSpecs()
				if len(jobs) == 0 {
					return nil
				}
				scheduler := waves.NewScheduler(p.collab.Cluster,
					waves.WithEnvironment(env.Name),
					waves.WithEventBus(p.bus),
					waves.WithMetrics(p.collector),
					waves.WithPollDefaults(env.Poll.Interval, env.Poll.Timeout),
				)
				_, err := scheduler.Run(ctx, jobs)
				return err
			},
			Postcondition: p.appsSettledPoll(env),
		},
		{
			Name:    StepVerify,
			Ordinal: 5,
			// The verification poll is its own retry loop; there is no
			// action to re-run
			MaxAttempts:   1,
			Postcondition: p.verifyPoll(env),
		},
	}
}

// destroySteps builds the teardown sequence bound to one run's context
func (p *Pipeline) destroySteps(rc *runContext) []Step {
	env := rc.env
	return []Step{
		{
			Name:        StepConfirmDestroy,
			Ordinal:     0,
			NeverSkip:   true,
			MaxAttempts: 1,
			Action: func(ctx context.Context) error {
				prompt := fmt.Sprintf("This will destroy environment %q, its applications, and its infrastructure. Continue?", env.Name)
				approved, err := p.collab.Confirmer.Confirm(ctx, prompt)
				if err != nil {
					return interfaces.NewFatal(StepConfirmDestroy, fmt.Errorf("confirmation failed: %w", err))
				}
				if !approved {
					return &interfaces.ConfirmationDenied{Step: StepConfirmDestroy}
				}
				rc.confirmed = true
				return nil
			},
		},
		{
			Name:        StepRemoveApps,
			Ordinal:     1,
			Destructive: true,
			Action: func(ctx context.Context) error {
				for _, app := range env.Applications {
					if err := p.collab.GitOps.UnregisterApplication(ctx, app.Name, true); err != nil {
						return fmt.Errorf("failed to remove application %s: %w", app.Name, err)
					}
				}
				return nil
			},
		},
		{
			Name:        StepUninstallGitOps,
			Ordinal:     2,
			Destructive: true,
			Action: func(ctx context.Context) error {
				return p.collab.Cluster.DeleteResource(ctx, "namespace", env.GitOps.Namespace, "", true)
			},
			Postcondition: p.namespaceGonePoll(env),
		},
		{
			Name:        StepDestroyInfra,
			Ordinal:     3,
			Destructive: true,
			Action: func(ctx context.Context) error {
				return p.collab.Infra.Destroy(ctx, env.InfraDir, env.InfraVars())
			},
		},
		{
			Name:            StepClearState,
			Ordinal:         4,
			Destructive:     true,
			FinalizesRecord: true,
			Action: func(ctx context.Context) error {
				return p.store.DeleteRecord(ctx, env.Name)
			},
		},
	}
}

func (p *Pipeline) newPoller(settings config.PollSettings) *poll.Poller {
	return poll.New(poll.WithInterval(settings.Interval), poll.WithTimeout(settings.Timeout))
}

// clusterReachablePoll waits for the cluster API server to answer
func (p *Pipeline) clusterReachablePoll(settings config.PollSettings) func(context.Context) error {
	const operation = "cluster to become reachable"
	return func(ctx context.Context) error {
		var lastStatus string
		result := p.newPoller(settings).Poll(ctx, operation, func(ctx context.Context) interfaces.PollOutcome {
			if err := p.collab.Cluster.ServerReachable(ctx); err != nil {
				lastStatus = err.Error()
				return interfaces.PollPending(lastStatus)
			}
			return interfaces.PollComplete()
		})
		return pollResultError(ctx, operation, result, lastStatus)
	}
}

// controllerReadyPoll waits for the GitOps control plane to serve
func (p *Pipeline) controllerReadyPoll(settings config.PollSettings) func(context.Context) error {
	const operation = "gitops controller to become ready"
	return func(ctx context.Context) error {
		var lastStatus string
		result := p.newPoller(settings).Poll(ctx, operation, func(ctx context.Context) interfaces.PollOutcome {
			ready, err := p.collab.GitOps.ControllerReady(ctx)
			if err != nil {
				lastStatus = fmt.Sprintf("readiness check failed: %v", err)
				return interfaces.PollPending(lastStatus)
			}
			if !ready {
				lastStatus = "controller not ready"
				return interfaces.PollPending(lastStatus)
			}
			return interfaces.PollComplete()
		})
		return pollResultError(ctx, operation, result, lastStatus)
	}
}

// appsSettledPoll waits for every declared application to report
// synced and healthy. A degraded application fails immediately rather
// than burning the rest of the timeout.
func (p *Pipeline) appsSettledPoll(env *config.Environment) func(context.Context) error {
	const operation = "applications to converge"
	return func(ctx context.Context) error {
		if len(env.Applications) == 0 {
			return nil
		}
		var lastStatus string
		result := p.newPoller(env.Poll).Poll(ctx, operation, func(ctx context.Context) interfaces.PollOutcome {
			for _, app := range env.Applications {
				status, err := p.collab.GitOps.GetSyncStatus(ctx, app.Name)
				if err != nil {
					lastStatus = fmt.Sprintf("%s: status check failed: %v", app.Name, err)
					return interfaces.PollPending(lastStatus)
				}
				if status.Degraded() {
					reason := fmt.Sprintf("application %s is degraded", app.Name)
					if status.Message != "" {
						reason += ": " + status.Message
					}
					return interfaces.PollFailed(reason)
				}
				if !status.Settled() {
					lastStatus = fmt.Sprintf("%s is %s/%s", app.Name, status.Sync, status.Health)
					return interfaces.PollPending(lastStatus)
				}
			}
			return interfaces.PollComplete()
		})
		return pollResultError(ctx, operation, result, lastStatus)
	}
}

// verifyPoll runs the manifest's verification checks until they all
// pass. With nothing declared it succeeds immediately.
func (p *Pipeline) verifyPoll(env *config.Environment) func(context.Context) error {
	const operation = "deployment verification checks"
	return func(ctx context.Context) error {
		if len(env.Verify.Applications) == 0 && len(env.Verify.Resources) == 0 {
			return nil
		}
		var lastStatus string
		result := p.newPoller(env.Poll).Poll(ctx, operation, func(ctx context.Context) interfaces.PollOutcome {
			for _, name := range env.Verify.Applications {
				status, err := p.collab.GitOps.GetSyncStatus(ctx, name)
				if err != nil {
					lastStatus = fmt.Sprintf("%s: status check failed: %v", name, err)
					return interfaces.PollPending(lastStatus)
				}
				if status.Degraded() {
					return interfaces.PollFailed(fmt.Sprintf("application %s is degraded", name))
				}
				if !status.Settled() {
					lastStatus = fmt.Sprintf("application %s is %s/%s", name, status.Sync, status.Health)
					return interfaces.PollPending(lastStatus)
				}
			}
			for _, check := range env.Verify.Resources {
				status, err := p.collab.Cluster.GetResourceStatus(ctx, check.Kind, check.Name, check.Namespace)
				if err != nil {
					lastStatus = fmt.Sprintf("%s/%s: status check failed: %v", check.Kind, check.Name, err)
					return interfaces.PollPending(lastStatus)
				}
				if !status.Exists {
					lastStatus = fmt.Sprintf("%s/%s not found in namespace %s", check.Kind, check.Name, check.Namespace)
					return interfaces.PollPending(lastStatus)
				}
				if !status.Ready {
					lastStatus = fmt.Sprintf("%s/%s is not ready", check.Kind, check.Name)
					if status.Message != "" {
						lastStatus += ": " + status.Message
					}
					return interfaces.PollPending(lastStatus)
				}
			}
			return interfaces.PollComplete()
		})
		return pollResultError(ctx, operation, result, lastStatus)
	}
}

// namespaceGonePoll waits for the GitOps namespace to finish
// terminating after deletion
func (p *Pipeline) namespaceGonePoll(env *config.Environment) func(context.Context) error {
	operation := fmt.Sprintf("namespace %s to terminate", env.GitOps.Namespace)
	return func(ctx context.Context) error {
		var lastStatus string
		result := p.newPoller(env.Poll).Poll(ctx, operation, func(ctx context.Context) interfaces.PollOutcome {
			status, err := p.collab.Cluster.GetResourceStatus(ctx, "namespace", env.GitOps.Namespace, "")
			if err != nil {
				lastStatus = fmt.Sprintf("status check failed: %v", err)
				return interfaces.PollPending(lastStatus)
			}
			if status.Exists {
				lastStatus = fmt.Sprintf("namespace %s still terminating", env.GitOps.Namespace)
				return interfaces.PollPending(lastStatus)
			}
			return interfaces.PollComplete()
		})
		return pollResultError(ctx, operation, result, lastStatus)
	}
}

// pollResultError converts a poll result into a step error. Timeouts
// carry the last raw observation so the operator sees what the poll
// was stuck on, and cancellation wraps the context error so callers
// can tell an interrupt from a genuine timeout.
func pollResultError(ctx context.Context, operation string, result poll.Result, lastStatus string) error {
	switch {
	case result.Outcome.State == interfaces.PollStateComplete:
		return nil
	case result.Outcome.State == interfaces.PollStateFailed:
		return fmt.Errorf("%s: %s", operation, result.Outcome.Reason)
	case result.Canceled():
		return fmt.Errorf("%s interrupted: %w", operation, ctx.Err())
	default:
		if lastStatus == "" {
			lastStatus = result.Outcome.Reason
		}
		return &interfaces.PollTimeout{
			Operation:  operation,
			Elapsed:    result.Elapsed,
			LastStatus: lastStatus,
		}
	}
}
