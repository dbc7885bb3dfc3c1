// Package main implements the standalone flightdeck API server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flightdeck/flightdeck/internal/apiserver"
	"github.com/flightdeck/flightdeck/internal/collab"
	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/internal/monitor"
	"github.com/flightdeck/flightdeck/internal/pipeline"
	"github.com/flightdeck/flightdeck/internal/prereq"
	"github.com/flightdeck/flightdeck/internal/state"
	"github.com/flightdeck/flightdeck/internal/system"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// Version can be set at build time
var Version = "dev"

var logger = logging.NewLogger("api-server")

const shutdownTimeout = 10 * time.Second

// @title           flightdeck API
// @version         1.0
// @description     REST API for deploying and tearing down cluster environments

// @contact.name   API Support
// @contact.url    https://github.com/flightdeck/flightdeck/issues

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes http https
func main() {
	if err := run(); err != nil {
		logger.Errorf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	var port int
	var debug bool
	flag.IntVar(&port, "port", 8080, "Port to listen on")
	flag.BoolVar(&debug, "debug", false, "Enable debug mode")
	flag.Parse()

	config.AppVersion = Version

	cfg, err := createServerConfig(port, debug)
	if err != nil {
		return err
	}

	logConfiguration(cfg)

	if err := validateBackendSafety(context.Background(), cfg); err != nil {
		return fmt.Errorf("backend validation failed: %w", err)
	}

	svcComponents, err := initializeComponents(cfg)
	if err != nil {
		return err
	}

	return runServer(svcComponents)
}

func createServerConfig(port int, debug bool) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Port = port
	cfg.Debug = debug

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("failed to expand configuration paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func logConfiguration(cfg *config.Config) {
	logger.Infof("Starting flightdeck API server v%s", Version)
	logger.Infof("Configuration:")
	logger.Infof("  Port: %d", cfg.Port)
	logger.Infof("  Debug: %t", cfg.Debug)
	logger.Infof("  State Store: %s", cfg.StateStore.Type)
	logger.Infof("  Queue Type: %s", cfg.Queue.Type)
	logger.Infof("  Manifest: %s", cfg.ManifestPath)
}

func validateBackendSafety(ctx context.Context, cfg *config.Config) error {
	// The memory backend is for tests, nothing persists across restarts
	if cfg.StateStore.Type == "memory" {
		logger.Infof("Skipping backend validation for memory backend")
		return nil
	}

	validator := state.NewBackendValidator(cfg)

	if os.Getenv("FLIGHTDECK_FORCE_BACKEND_REINIT") == "true" {
		logger.Infof("Forcing backend reinitialization due to FLIGHTDECK_FORCE_BACKEND_REINIT=true")
		if err := validator.ForceReinitialize(ctx, cfg); err != nil {
			return fmt.Errorf("failed to force reinitialize backend: %w", err)
		}
		return nil
	}

	logger.Infof("Validating backend configuration safety...")

	if err := state.ValidateOrInitializeBackend(ctx, cfg, validator); err != nil {
		if errors.Is(err, state.ErrBackendMismatch) || errors.Is(err, state.ErrUnsafeBackendSwitch) {
			logger.Errorf("Backend validation failed: %v", err)
			logger.Errorf("")
			logger.Errorf("This error prevents accidental loss of environment records from backend configuration changes.")
			logger.Errorf("")
			logger.Errorf("WARNING: Record migration tools are not yet implemented.")
			logger.Errorf("To force reinitialization (abandons existing records):")
			logger.Errorf("   FLIGHTDECK_FORCE_BACKEND_REINIT=true flightdeck-server")
			logger.Errorf("")
			return fmt.Errorf("backend validation failed: %w", err)
		}

		return fmt.Errorf("backend validation error: %w", err)
	}

	logger.Infof("Backend validation successful")
	return nil
}

type serverComponents struct {
	runSystem *system.RunSystem
	server    *apiserver.APIServer
}

func initializeComponents(cfg *config.Config) (*serverComponents, error) {
	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment manifest: %w", err)
	}

	store, err := state.NewStateStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}
	locker, err := state.NewEnvironmentLocker(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create environment locker: %w", err)
	}

	eventBus := events.NewEventBus()
	collector := metrics.NewCollector()

	runSystem, err := system.NewRunSystem(cfg,
		newRunExecutor(cfg, manifest, store, locker, eventBus, collector),
		system.Options{EventBus: eventBus, Collector: collector})
	if err != nil {
		return nil, fmt.Errorf("failed to create run system: %w", err)
	}

	events.ConnectTrackerToEventBus(eventBus, runSystem.Tracker)

	staleMonitor := monitor.NewStaleRunMonitor(monitor.Config{
		Queue:     runSystem.Queue,
		Tracker:   runSystem.Tracker,
		Inspector: runSystem.Inspector,
		EventBus:  eventBus,
		Collector: collector,
		Reconcile: true,
	})

	runSystem.WorkerPool.Start()

	server, err := apiserver.NewAPIServer(cfg, apiserver.Components{
		Queue:      runSystem.Queue,
		Tracker:    runSystem.Tracker,
		WorkerPool: runSystem.WorkerPool,
		StateStore: store,
		Locker:     locker,
		Manifest:   manifest,
		Collector:  collector,
		EventBus:   eventBus,
		Monitor:    staleMonitor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &serverComponents{
		runSystem: runSystem,
		server:    server,
	}, nil
}

// newRunExecutor wires a fresh pipeline per run, since kube context and
// GitOps settings differ per environment
func newRunExecutor(cfg *config.Config, manifest *config.Manifest, store interfaces.StateStore, locker interfaces.EnvironmentLocker, bus *events.EventBus, collector *metrics.Collector) system.RunExecutor {
	return func(ctx context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		env, err := manifest.Environment(run.Request.Environment)
		if err != nil {
			return nil, err
		}

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

		p, err := pipeline.NewPipeline(pipeline.Collaborators{
			Infra:   collab.NewTerraformCLI(runner),
			Cluster: cluster,
			GitOps:  gitops,
			// API submissions are pre-approved, there is no terminal
			// to ask
			Confirmer: collab.AutoApprove{},
			Validator: validator,
		}, store, locker,
			pipeline.WithVersion(Version),
			pipeline.WithEventBus(bus),
			pipeline.WithMetrics(collector),
		)
		if err != nil {
			return nil, err
		}

		return p.ExecuteRun(ctx, run, env)
	}
}

func runServer(svcComponents *serverComponents) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := svcComponents.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Infof("Received shutdown signal")
		return gracefulShutdown(svcComponents)
	case err := <-errChan:
		if shutdownErr := gracefulShutdown(svcComponents); shutdownErr != nil {
			logger.Errorf("Shutdown error: %v", shutdownErr)
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

func gracefulShutdown(svcComponents *serverComponents) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svcComponents.server.Shutdown(ctx); err != nil {
		logger.Errorf("Failed to shutdown server: %v", err)
	}

	if err := svcComponents.runSystem.Close(ctx); err != nil {
		logger.Errorf("Failed to shutdown run system: %v", err)
		return fmt.Errorf("failed to close run system: %w", err)
	}

	return nil
}
