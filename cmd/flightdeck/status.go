package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flightdeck/flightdeck/internal/collab"
	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/prereq"
	"github.com/flightdeck/flightdeck/internal/state"
)

const (
	statusTimeout = 30 * time.Second
	unlockTimeout = 30 * time.Second
)

func newStatusCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "status <environment>",
		Short: "Show recorded deployment state and live application status",
		Long: `Status reports the recorded deployment state for an environment and,
when the cluster answers, the live sync status of its applications. An
unreachable cluster degrades to the recorded view instead of failing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runStatus(args[0], manifestPath)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Deployment manifest path (overrides FLIGHTDECK_MANIFEST)")
	return cmd
}

func runStatus(envName, manifestOverride string) error {
	cfg, err := loadStandardConfig()
	if err != nil {
		return err
	}
	if manifestOverride != "" {
		cfg.ManifestPath = manifestOverride
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

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	record, err := store.LoadRecord(ctx, env.Name)
	switch {
	case errors.Is(err, interfaces.ErrRecordNotFound):
		fmt.Printf("Environment %s has no recorded deployment state\n", env.Name)
		record = nil
	case err != nil:
		return fmt.Errorf("failed to load state for environment %q: %w", env.Name, err)
	default:
		printRecord(os.Stdout, record)
	}

	printLiveStatus(ctx, os.Stdout, env, record)
	return nil
}

func printRecord(out io.Writer, record *interfaces.EnvironmentRecord) {
	lastStep := "none"
	if record.LastStepIndex != interfaces.NoStepCompleted {
		lastStep = fmt.Sprintf("%d (%s)", record.LastStepIndex, record.LastStepName)
	}

	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "Environment:\t%s\n", record.Environment)
	fmt.Fprintf(w, "Operation:\t%s\n", record.Operation)
	fmt.Fprintf(w, "Last completed step:\t%s\n", lastStep)
	fmt.Fprintf(w, "Updated:\t%s\n", record.UpdatedAt.Format(time.RFC3339))
	if record.WrittenBy != "" {
		fmt.Fprintf(w, "Written by:\t%s\n", record.WrittenBy)
	}
	w.Flush()

	if len(record.Outputs) > 0 {
		keys := make([]string, 0, len(record.Outputs))
		for key := range record.Outputs {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintln(out, "\nOutputs:")
		for _, key := range keys {
			fmt.Fprintf(out, "  %s = %s\n", key, record.Outputs[key])
		}
	}
}

// printLiveStatus queries the cluster for application sync state. The
// kube context recorded by configure-cluster-access wins over the
// manifest's, so status works even after the manifest changed.
func printLiveStatus(ctx context.Context, out io.Writer, env *config.Environment, record *interfaces.EnvironmentRecord) {
	kubeContext := env.KubeContext
	if record != nil && record.Outputs[interfaces.OutputKubeContext] != "" {
		kubeContext = record.Outputs[interfaces.OutputKubeContext]
	}

	runner := collab.NewExecRunner()
	cluster := collab.NewKubectlCLI(runner, collab.WithKubeContext(kubeContext))
	if err := cluster.ServerReachable(ctx); err != nil {
		fmt.Fprintf(out, "\nCluster unreachable, live status unavailable: %v\n", err)
		return
	}

	if len(env.Applications) == 0 {
		fmt.Fprintln(out, "\nCluster reachable, no applications declared")
		return
	}

	gitops := collab.NewArgoCDCLI(runner, cluster,
		collab.WithGitOpsNamespace(env.GitOps.Namespace))

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "APPLICATION\tSYNC\tHEALTH")
	for _, app := range env.Applications {
		status, err := gitops.GetSyncStatus(ctx, app.Name)
		if err != nil {
			fmt.Fprintf(w, "%s\tunknown\tunknown (%v)\n", app.Name, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", app.Name, status.Sync, status.Health)
	}
	w.Flush()
}

func newValidatePrereqsCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "validate-prereqs [environment]",
		Short: "Check declared prerequisites without deploying",
		Long: `Validate-prereqs evaluates every declared prerequisite (binaries,
credentials, files, versions) and reports all findings at once. With no
environment it checks every environment in the manifest.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			envName := ""
			if len(args) > 0 {
				envName = args[0]
			}
			return runValidatePrereqs(envName, manifestPath)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Deployment manifest path (overrides FLIGHTDECK_MANIFEST)")
	return cmd
}

func runValidatePrereqs(envName, manifestOverride string) error {
	cfg, err := loadStandardConfig()
	if err != nil {
		return err
	}
	if manifestOverride != "" {
		cfg.ManifestPath = manifestOverride
	}

	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}

	envs := manifest.Environments
	if envName != "" {
		env, err := manifest.Environment(envName)
		if err != nil {
			return err
		}
		envs = []*config.Environment{env}
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	runner := collab.NewExecRunner()
	baseDir := filepath.Dir(cfg.ManifestPath)

	var failed error
	for _, env := range envs {
		creds, err := collab.NewSTSChecker(ctx, collab.STSCheckerConfig{Region: env.Region})
		if err != nil {
			return fmt.Errorf("failed to create credential checker: %w", err)
		}
		validator := prereq.NewValidator(runner, creds, prereq.WithBaseDir(baseDir))

		err = validator.Validate(ctx, env.Prerequisites)
		if err == nil {
			fmt.Printf("✓ %s: all prerequisites satisfied\n", env.Name)
			continue
		}

		var validation *interfaces.ValidationError
		if !errors.As(err, &validation) {
			return err
		}
		fmt.Printf("✗ %s:\n", env.Name)
		for _, finding := range validation.Findings {
			fmt.Printf("    %s\n", finding)
		}
		failed = err
	}

	return failed
}

func newUnlockCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "unlock <environment>",
		Short: "Force-release a stale environment lock",
		Long: `Unlock breaks the advisory lock for an environment. Only use this
when a crashed run left its lock behind; breaking the lock of a live
run lets two pipelines mutate the same environment at once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runUnlock(args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Release without prompting")
	return cmd
}

// runUnlock needs no manifest lookup: locks can outlive the manifest
// entry that created them
func runUnlock(envName string, yes bool) error {
	cfg, err := loadStandardConfig()
	if err != nil {
		return err
	}
	locker, err := state.NewEnvironmentLocker(cfg)
	if err != nil {
		return fmt.Errorf("failed to create environment locker: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	if !yes {
		confirmer := collab.NewTerminalConfirmer(os.Stdin, os.Stdout)
		prompt := fmt.Sprintf("Force-release the lock for environment %q? Only do this if no run is in progress.", envName)
		approved, err := confirmer.Confirm(ctx, prompt)
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !approved {
			return &interfaces.ConfirmationDenied{Step: "unlock"}
		}
	}

	if err := locker.ForceRelease(ctx, envName); err != nil {
		return fmt.Errorf("failed to release lock for environment %q: %w", envName, err)
	}

	fmt.Printf("Lock released for environment %s\n", envName)
	return nil
}
