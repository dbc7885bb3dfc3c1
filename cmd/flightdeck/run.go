package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flightdeck/flightdeck/internal/collab"
	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/internal/pipeline"
	"github.com/flightdeck/flightdeck/internal/prereq"
	"github.com/flightdeck/flightdeck/internal/state"
)

// runOptions holds the flags shared by deploy, destroy, and deploy-step
type runOptions struct {
	manifestPath string
	yes          bool
	timeout      time.Duration
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Approve confirmation prompts without asking")
	cmd.Flags().StringVarP(&opts.manifestPath, "manifest", "m", "", "Deployment manifest path (overrides FLIGHTDECK_MANIFEST)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Overall run timeout (0 uses FLIGHTDECK_RUN_TIMEOUT)")
}

func newDeployCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "deploy <environment>",
		Short: "Deploy an environment end to end",
		Long: `Deploy runs the full sequence for an environment: validate
prerequisites, provision infrastructure, configure cluster access,
bootstrap the GitOps controller, sync applications, and verify.
Steps recorded as complete by an earlier run are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return executeRunCommand(args[0], opts,
				func(ctx context.Context, p *pipeline.Pipeline, env *config.Environment) (*interfaces.RunResult, error) {
					return p.Deploy(ctx, env)
				})
		},
	}

	addRunFlags(cmd, &opts)
	return cmd
}

func newDestroyCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "destroy <environment>",
		Short: "Tear down an environment",
		Long: `Destroy removes applications, uninstalls the GitOps controller,
destroys the infrastructure, and clears the recorded state. It always
asks for confirmation unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return executeRunCommand(args[0], opts,
				func(ctx context.Context, p *pipeline.Pipeline, env *config.Environment) (*interfaces.RunResult, error) {
					return p.Destroy(ctx, env)
				})
		},
	}

	addRunFlags(cmd, &opts)
	return cmd
}

func newDeployStepCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "deploy-step <environment> <ordinal>",
		Short: "Run a single deploy step by ordinal (1-5)",
		Long: `Deploy-step runs one mutating deploy step against an environment.
Prerequisite validation always runs first as a gate. Ordinals:

  1  provision-infrastructure
  2  configure-cluster-access
  3  bootstrap-gitops-controller
  4  sync-applications
  5  verify-deployment`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ordinal, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("step ordinal must be a number between 1 and 5, got %q", args[1])
			}
			return executeRunCommand(args[0], opts,
				func(ctx context.Context, p *pipeline.Pipeline, env *config.Environment) (*interfaces.RunResult, error) {
					return p.RunStep(ctx, env, ordinal)
				})
		},
	}

	addRunFlags(cmd, &opts)
	return cmd
}

// runInvoker selects which pipeline entry point a command drives
type runInvoker func(ctx context.Context, p *pipeline.Pipeline, env *config.Environment) (*interfaces.RunResult, error)

// executeRunCommand is the shared body of deploy, destroy, and
// deploy-step: load config and manifest, resolve the environment, wire
// the pipeline, and run it under a signal-aware context.
func executeRunCommand(envName string, opts runOptions, invoke runInvoker) error {
	cfg, err := loadStandardConfig()
	if err != nil {
		return err
	}
	if opts.manifestPath != "" {
		cfg.ManifestPath = opts.manifestPath
	}

	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}
	env, err := manifest.Environment(envName)
	if err != nil {
		return err
	}

	store, err := state.NewStateStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}
	locker, err := state.NewEnvironmentLocker(cfg)
	if err != nil {
		return fmt.Errorf("failed to create environment locker: %w", err)
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	var confirmer interfaces.ConfirmationProvider = collab.NewTerminalConfirmer(os.Stdin, os.Stdout)
	if opts.yes {
		confirmer = collab.AutoApprove{}
	}

	p, err := buildPipeline(ctx, cfg, env, store, locker, pipelineDeps{
		confirmer: confirmer,
		timeout:   opts.timeout,
	})
	if err != nil {
		return err
	}

	result, runErr := invoke(ctx, p, env)
	printRunResult(os.Stdout, result)
	return runErr
}

// pipelineDeps carries the wiring that differs between one-shot CLI
// runs and server mode
type pipelineDeps struct {
	confirmer interfaces.ConfirmationProvider
	bus       *events.EventBus
	collector *metrics.Collector
	timeout   time.Duration
}

// buildPipeline assembles the real collaborators: terraform, kubectl,
// and argocd as subprocesses, credential checks against STS, and
// prerequisite lookups relative to the manifest's directory.
func buildPipeline(ctx context.Context, cfg *config.Config, env *config.Environment, store interfaces.StateStore, locker interfaces.EnvironmentLocker, deps pipelineDeps) (*pipeline.Pipeline, error) {
	runner := collab.NewExecRunner()

	cluster := collab.NewKubectlCLI(runner, collab.WithKubeContext(env.KubeContext))
	gitops := collab.NewArgoCDCLI(runner, cluster,
		collab.WithGitOpsNamespace(env.GitOps.Namespace),
		collab.WithInstallManifest(env.GitOps.InstallManifest),
	)

	creds, err := collab.NewSTSChecker(ctx, collab.STSCheckerConfig{Region: env.Region})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential checker: %w", err)
	}
	validator := prereq.NewValidator(runner, creds,
		prereq.WithBaseDir(filepath.Dir(cfg.ManifestPath)))

	opts := []pipeline.Option{pipeline.WithVersion(version)}
	if deps.bus != nil {
		opts = append(opts, pipeline.WithEventBus(deps.bus))
	}
	if deps.collector != nil {
		opts = append(opts, pipeline.WithMetrics(deps.collector))
	}
	if deps.timeout > 0 {
		timeouts := config.LoadTimeouts()
		timeouts.RunExecutionTimeout = deps.timeout
		opts = append(opts, pipeline.WithTimeouts(timeouts))
	}

	return pipeline.NewPipeline(pipeline.Collaborators{
		Infra:     collab.NewTerraformCLI(runner),
		Cluster:   cluster,
		GitOps:    gitops,
		Confirmer: deps.confirmer,
		Validator: validator,
	}, store, locker, opts...)
}

// signalContext returns a context canceled on the first SIGINT or
// SIGTERM so the run unwinds and records progress. A second signal
// exits immediately.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "\nReceived %s, canceling run (signal again to exit immediately)\n", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "Received %s again, exiting\n", sig)
		os.Exit(pipeline.ExitActionFailed)
	}()

	return ctx, cancel
}

// printRunResult renders the per-step outcome table and, on success,
// the recorded outputs
func printRunResult(out io.Writer, result *interfaces.RunResult) {
	if result == nil || len(result.Steps) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tATTEMPTS\tDURATION")
	for _, step := range result.Steps {
		status := string(step.Status)
		if step.Status == interfaces.StepStatusSkipped && step.Message != "" {
			status = fmt.Sprintf("%s (%s)", step.Status, step.Message)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			step.Name, status, step.Attempts, step.Duration.Round(time.Millisecond))
	}
	w.Flush()

	switch {
	case result.Success:
		fmt.Fprintf(out, "\nRun %s succeeded for environment %s\n", result.RunID, result.Environment)
	case result.Error != nil:
		fmt.Fprintf(out, "\nRun %s failed: %v\n", result.RunID, result.Error)
	}

	if result.Success && len(result.Outputs) > 0 {
		keys := make([]string, 0, len(result.Outputs))
		for key := range result.Outputs {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintln(out, "\nOutputs:")
		for _, key := range keys {
			fmt.Fprintf(out, "  %s = %s\n", key, result.Outputs[key])
		}
	}
}
