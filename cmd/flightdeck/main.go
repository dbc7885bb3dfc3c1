// Package main implements the flightdeck CLI for deploying, inspecting,
// and tearing down cluster environments.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/pipeline"
)

// Build-time version information, injected via ldflags
//
//nolint:gochecknoglobals // standard build-time version injection
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

//nolint:gochecknoglobals // bound to the root --debug flag
var debugMode bool

// loadStandardConfig creates a config, loads environment overrides, and
// expands paths. Every command starts from this.
func loadStandardConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("failed to expand configuration paths: %w", err)
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flightdeck",
		Short: "Deployment orchestration for cluster environments",
		Long: `Flightdeck drives environment deployments end to end: prerequisite
validation, infrastructure provisioning, cluster access, GitOps
bootstrap, application sync, and verification. Interrupted runs resume
from the last recorded step.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// Exit codes carry the failure class, so errors are printed
		// once in main instead of by cobra
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debugMode {
				os.Setenv("FLIGHTDECK_DEBUG", "true")
				os.Setenv("FLIGHTDECK_LOG_LEVEL", "debug")
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newDeployCommand(),
		newDestroyCommand(),
		newDeployStepCommand(),
		newStatusCommand(),
		newValidatePrereqsCommand(),
		newUnlockCommand(),
		newServerCommand(),
		newConfigCommand(),
	)

	return rootCmd
}

func main() {
	config.AppVersion = version

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(pipeline.ExitCode(err))
	}
}
