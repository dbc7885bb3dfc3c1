package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flightdeck/flightdeck/internal/apiserver"
	"github.com/flightdeck/flightdeck/internal/collab"
	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/internal/monitor"
	"github.com/flightdeck/flightdeck/internal/monitoring"
	"github.com/flightdeck/flightdeck/internal/state"
	"github.com/flightdeck/flightdeck/internal/system"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

const (
	defaultServerPort     = 8080
	serverShutdownTimeout = 10 * time.Second
	healthProbeTimeout    = 5 * time.Second
	daemonStartupWait     = 2 * time.Second
)

// Static errors for err113 compliance
var (
	ErrServerFailedToStart = errors.New("server failed to start, check logs")
	ErrServerNotRunning    = errors.New("server is not running")
)

func newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the flightdeck API server",
	}

	var (
		port   int
		daemon bool
	)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the API server",
		Long: `Start runs the REST API that accepts deployment runs over HTTP. The
queue backend comes from configuration: embedded (in-process) by
default, distributed (Redis) when FLIGHTDECK_QUEUE_TYPE=distributed.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if daemon {
				return runServerDaemon(port, debugMode)
			}
			return runServerForeground(port, debugMode)
		},
	}
	startCmd.Flags().IntVarP(&port, "port", "p", defaultServerPort, "Server port")
	startCmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run server in background")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a background server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}
			if err := stopServer(cfg.PIDFile); err != nil {
				return err
			}
			fmt.Println("Server stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether the server is running",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}
			return checkServerStatus(cfg.PIDFile, cfg.Port)
		},
	}

	cmd.AddCommand(startCmd, stopCmd, statusCmd)
	return cmd
}

//nolint:funlen // server startup wires every component in order
func runServerForeground(port int, debug bool) error {
	logger := logging.NewLogger("server")

	cfg := config.NewConfig()
	cfg.Port = port
	cfg.Debug = debug

	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return fmt.Errorf("failed to expand configuration paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Infof("Starting flightdeck server v%s", version)
	logger.Infof("Configuration:")
	logger.Infof("  Port: %d", cfg.Port)
	logger.Infof("  Debug: %t", cfg.Debug)
	logger.Infof("  State Store: %s", cfg.StateStore.Type)
	logger.Infof("  Queue Type: %s", cfg.Queue.Type)
	logger.Infof("  Manifest: %s", cfg.ManifestPath)

	if cfg.Debug {
		logger.Debugf("State Directory: %s", cfg.StateDir)
		logger.Debugf("Log File: %s", cfg.GetLogPath())
		logger.Debugf("State Path: %s", cfg.StateStore.File.Path)
	}

	if err := cfg.WriteConfigInfo(); err != nil {
		logger.Warnf("Failed to write config info: %v", err)
	}

	ctx := context.Background()

	if err := validateBackendSafety(ctx, cfg, logger); err != nil {
		return err
	}

	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load deployment manifest: %w", err)
	}

	store, err := state.NewStateStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}
	locker, err := state.NewEnvironmentLocker(cfg)
	if err != nil {
		return fmt.Errorf("failed to create environment locker: %w", err)
	}

	eventBus := events.NewEventBus()
	collector := metrics.NewCollector()

	runSystem, err := system.NewRunSystem(cfg,
		newRunExecutor(cfg, manifest, store, locker, eventBus, collector),
		system.Options{EventBus: eventBus, Collector: collector})
	if err != nil {
		return fmt.Errorf("failed to create run system: %w", err)
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
		return fmt.Errorf("failed to create server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()

	if !cfg.DaemonMode {
		diskMonitor := monitoring.NewDiskMonitor(cfg)
		go diskMonitor.Start(monitorCtx)
		logger.Infof("Disk monitoring enabled (warning: %.0f%%, critical: %.0f%%)", 80.0, 90.0)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Infof("Received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		if err := runSystem.Close(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown run system: %w", err)
		}
		return nil
	case err := <-errChan:
		return err
	}
}

// newRunExecutor returns the function the worker pool drives. Each run
// gets a fresh pipeline wired for its environment, since kube context
// and GitOps settings differ per environment.
func newRunExecutor(cfg *config.Config, manifest *config.Manifest, store interfaces.StateStore, locker interfaces.EnvironmentLocker, bus *events.EventBus, collector *metrics.Collector) system.RunExecutor {
	return func(ctx context.Context, run *interfaces.PipelineRun) (*interfaces.RunResult, error) {
		env, err := manifest.Environment(run.Request.Environment)
		if err != nil {
			return nil, err
		}

		p, err := buildPipeline(ctx, cfg, env, store, locker, pipelineDeps{
			// API submissions are pre-approved, there is no terminal
			// to ask
			confirmer: collab.AutoApprove{},
			bus:       bus,
			collector: collector,
		})
		if err != nil {
			return nil, err
		}

		return p.ExecuteRun(ctx, run, env)
	}
}

// validateBackendSafety refuses to start against a different state
// backend than the one this state directory was initialized with.
// FLIGHTDECK_FORCE_BACKEND_REINIT=true overrides after an intentional
// migration.
func validateBackendSafety(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	validator := state.NewBackendValidator(cfg)

	if os.Getenv("FLIGHTDECK_FORCE_BACKEND_REINIT") == "true" {
		logger.Warnf("Forcing backend reinitialization, previous backend metadata will be overwritten")
		if err := validator.ForceReinitialize(ctx, cfg); err != nil {
			return fmt.Errorf("failed to reinitialize backend: %w", err)
		}
		return nil
	}

	if err := state.ValidateOrInitializeBackend(ctx, cfg, validator); err != nil {
		if errors.Is(err, state.ErrBackendMismatch) {
			logger.Errorf("State backend mismatch: %v", err)
			logger.Errorf("This state directory was initialized with a different backend configuration.")
			logger.Errorf("Restore the previous configuration, or set FLIGHTDECK_FORCE_BACKEND_REINIT=true to accept the new one.")
		}
		return fmt.Errorf("backend validation failed: %w", err)
	}
	return nil
}

//nolint:funlen // daemon setup handles log file, fork, and PID bookkeeping
func runServerDaemon(port int, debug bool) error {
	logger := logging.NewLogger("server-daemon")

	cfg := config.NewConfig()
	cfg.Port = port
	cfg.Debug = debug
	cfg.DaemonMode = true
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return fmt.Errorf("failed to expand configuration paths: %w", err)
	}

	// No pre-check whether the server is running: savePID checks and
	// creates the PID file atomically, avoiding the TOCTOU race
	logPath := cfg.GetLogPath()
	if logPath != "" {
		logDir := filepath.Dir(logPath)
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 - logPath is from config
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// The child runs the same binary in foreground mode; its output
	// goes to the log file
	args := []string{"server", "start", "--port", strconv.Itoa(port)}
	if debug {
		args = append(args, "--debug")
	}
	cmd := exec.Command(executable, args...) // #nosec G204 - executable is self (os.Executable), args are controlled
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setupServerProcess(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}
	if err := logFile.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	if err := savePID(cmd.Process.Pid, cfg.PIDFile); err != nil {
		if killErr := cmd.Process.Kill(); killErr != nil {
			logger.Warnf("Failed to kill orphaned server process %d: %v", cmd.Process.Pid, killErr)
		}
		return fmt.Errorf("failed to save PID: %w", err)
	}

	// Give the child a moment to bind before declaring success
	time.Sleep(daemonStartupWait)

	if !isServerRunning(cfg.PIDFile) {
		return fmt.Errorf("%w at: %s", ErrServerFailedToStart, logPath)
	}

	logger.Infof("Server started successfully in background")
	logger.Infof("Log file: %s", logPath)
	logger.Infof("PID file: %s", cfg.PIDFile)

	return nil
}

func stopServer(pidFile string) error {
	pid, err := readPIDFromFile(pidFile)
	if err != nil {
		return ErrServerNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	// SIGTERM first so in-flight runs can record their progress
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidFile)
		return ErrServerNotRunning
	}

	for i := 0; i < 10; i++ {
		if !isProcessRunning(pid) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if isProcessRunning(pid) {
		if err := process.Kill(); err != nil {
			_ = err // process may have exited between the check and the kill
		}
	}

	removePIDFile(pidFile)
	return nil
}

func checkServerStatus(pidFile string, port int) error {
	if !isServerRunning(pidFile) {
		fmt.Println("Server is not running")
		return nil
	}

	pid, _ := readPIDFromFile(pidFile)

	ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d/api/v1/system/health", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	client := &http.Client{Timeout: healthProbeTimeout}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Server process %d is running but not answering on port %d\n", pid, port)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	fmt.Printf("Server is running (PID %d, port %d, health: %s)\n", pid, port, resp.Status)
	return nil
}

func isServerRunning(pidFile string) bool {
	pid, err := readPIDFromFile(pidFile)
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func savePID(pid int, pidFile string) error {
	pidDir := filepath.Dir(pidFile)
	if err := os.MkdirAll(pidDir, 0o700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	// O_EXCL makes check-and-create atomic
	file, err := os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 - pidFile path is from config
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create PID file %s: %w", pidFile, err)
		}
		existingPID, readErr := readPIDFromFile(pidFile)
		if readErr == nil && isProcessRunning(existingPID) {
			return fmt.Errorf("server already running with PID %d (pid file: %s)", existingPID, pidFile)
		}
		// Stale PID file, remove and retry once
		_ = os.Remove(pidFile)
		file, err = os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 - pidFile path is from config
		if err != nil {
			return fmt.Errorf("failed to create PID file %s after removing stale file: %w", pidFile, err)
		}
	}
	defer func() { _ = file.Close() }()

	if _, err := fmt.Fprintf(file, "%d\n", pid); err != nil {
		_ = os.Remove(pidFile)
		return fmt.Errorf("failed to write PID: %w", err)
	}

	return nil
}

func readPIDFromFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile) // #nosec G304 - pidFile path is from config
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file %s: %w", pidFile, err)
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("failed to parse PID from file %s (content: %q): %w", pidFile, pidStr, err)
	}
	return pid, nil
}

func removePIDFile(pidFile string) {
	_ = os.Remove(pidFile)
}
