package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// Defaults for the controller installation
const (
	DefaultGitOpsNamespace  = "argocd"
	defaultDestServer       = "https://kubernetes.default.svc"
	controllerServiceName   = "argocd-server"
	controllerRepoServer    = "argocd-repo-server"
	controllerAppController = "argocd-application-controller"
)

// ArgoCDCLI manages the GitOps control plane through the argocd binary.
// Controller installation goes through the cluster client; application
// management uses the CLI in core mode against the active kubeconfig.
type ArgoCDCLI struct {
	runner          CommandRunner
	cluster         interfaces.ClusterClient
	binary          string
	namespace       string
	installManifest string
	extraArgs       []string // e.g. --core
	logger          *logging.Logger
}

// ArgoCDOption configures an ArgoCDCLI
type ArgoCDOption func(*ArgoCDCLI)

// WithGitOpsNamespace overrides the controller namespace
func WithGitOpsNamespace(namespace string) ArgoCDOption {
	return func(a *ArgoCDCLI) {
		if namespace != "" {
			a.namespace = namespace
		}
	}
}

// WithInstallManifest sets the controller install manifest path or URL
func WithInstallManifest(manifest string) ArgoCDOption {
	return func(a *ArgoCDCLI) { a.installManifest = manifest }
}

// WithArgoCDArgs appends flags to every argocd invocation
func WithArgoCDArgs(args ...string) ArgoCDOption {
	return func(a *ArgoCDCLI) { a.extraArgs = append(a.extraArgs, args...) }
}

// WithArgoCDBinary overrides the argocd binary name
func WithArgoCDBinary(binary string) ArgoCDOption {
	return func(a *ArgoCDCLI) {
		if binary != "" {
			a.binary = binary
		}
	}
}

// NewArgoCDCLI creates an argocd-backed GitOps controller
func NewArgoCDCLI(runner CommandRunner, cluster interfaces.ClusterClient, opts ...ArgoCDOption) *ArgoCDCLI {
	a := &ArgoCDCLI{
		runner:    runner,
		cluster:   cluster,
		binary:    "argocd",
		namespace: DefaultGitOpsNamespace,
		extraArgs: []string{"--core"},
		logger:    logging.NewLogger("argocd"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *ArgoCDCLI) run(ctx context.Context, args ...string) (CommandResult, error) {
	return a.runner.Run(ctx, Command{
		Binary: a.binary,
		Args:   append(args, a.extraArgs...),
	})
}

// InstallController installs the controller into the cluster
func (a *ArgoCDCLI) InstallController(ctx context.Context) error {
	if a.installManifest == "" {
		return fmt.Errorf("no install manifest configured for gitops controller")
	}
	if err := a.cluster.ApplyManifest(ctx, a.installManifest, a.namespace); err != nil {
		return fmt.Errorf("install gitops controller: %w", err)
	}
	a.logger.Infof("controller manifest applied to namespace %s", a.namespace)
	return nil
}

// ControllerReady reports whether the controller is serving. The
// server, repo server, and application controller must all be ready.
func (a *ArgoCDCLI) ControllerReady(ctx context.Context) (bool, error) {
	checks := []struct {
		kind string
		name string
	}{
		{"deployment", controllerServiceName},
		{"deployment", controllerRepoServer},
		{"statefulset", controllerAppController},
	}
	for _, check := range checks {
		status, err := a.cluster.GetResourceStatus(ctx, check.kind, check.name, a.namespace)
		if err != nil {
			return false, err
		}
		if !status.Exists || !status.Ready {
			return false, nil
		}
	}
	return true, nil
}

// RegisterApplication creates or updates an application definition
func (a *ArgoCDCLI) RegisterApplication(ctx context.Context, app interfaces.ApplicationSpec) error {
	args := []string{
		"app", "create", app.Name,
		"--repo", app.RepoURL,
		"--path", app.Path,
		"--dest-server", defaultDestServer,
		"--dest-namespace", app.Namespace,
		"--sync-policy", "automated",
		"--upsert",
	}
	if app.TargetRevision != "" {
		args = append(args, "--revision", app.TargetRevision)
	}
	if app.Project != "" {
		args = append(args, "--project", app.Project)
	}
	for key, value := range app.Parameters {
		args = append(args, "--parameter", fmt.Sprintf("%s=%s", key, value))
	}

	result, err := a.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("argocd app create %s: %w", app.Name, err)
	}
	if !result.Success() {
		return fmt.Errorf("argocd app create %s failed: %s", app.Name, lastLines(result.Stderr, 5))
	}
	a.logger.Infof("registered application %s (%s@%s)", app.Name, app.Path, app.TargetRevision)
	return nil
}

// appDoc captures the status fields of `argocd app get -o json`
type appDoc struct {
	Status struct {
		Sync struct {
			Status   string `json:"status"`
			Revision string `json:"revision"`
		} `json:"sync"`
		Health struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"health"`
		OperationState struct {
			Message string `json:"message"`
		} `json:"operationState"`
	} `json:"status"`
}

// GetSyncStatus reports an application's sync state
func (a *ArgoCDCLI) GetSyncStatus(ctx context.Context, appName string) (*interfaces.SyncStatus, error) {
	result, err := a.run(ctx, "app", "get", appName, "-o", "json")
	if err != nil {
		return nil, fmt.Errorf("argocd app get %s: %w", appName, err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("argocd app get %s failed: %s", appName, lastLines(result.Stderr, 5))
	}

	var doc appDoc
	if err := json.Unmarshal([]byte(result.Stdout), &doc); err != nil {
		return nil, fmt.Errorf("parse app %s: %w", appName, err)
	}

	message := doc.Status.Health.Message
	if message == "" {
		message = doc.Status.OperationState.Message
	}
	return &interfaces.SyncStatus{
		Sync:     doc.Status.Sync.Status,
		Health:   doc.Status.Health.Status,
		Revision: doc.Status.Sync.Revision,
		Message:  message,
	}, nil
}

// UnregisterApplication removes an application; cascade also deletes
// its cluster resources
func (a *ArgoCDCLI) UnregisterApplication(ctx context.Context, appName string, cascade bool) error {
	args := []string{"app", "delete", appName, "--yes"}
	if !cascade {
		args = append(args, "--cascade=false")
	}
	result, err := a.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("argocd app delete %s: %w", appName, err)
	}
	if !result.Success() {
		return fmt.Errorf("argocd app delete %s failed: %s", appName, lastLines(result.Stderr, 5))
	}
	a.logger.Infof("unregistered application %s (cascade=%t)", appName, cascade)
	return nil
}

// Ensure ArgoCDCLI implements the controller contract
var _ interfaces.GitOpsController = (*ArgoCDCLI)(nil)
