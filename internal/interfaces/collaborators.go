// Package interfaces defines the core interfaces for the flightdeck system
package interfaces

import (
	"context"
)

// InfraVars carries variable inputs for infrastructure operations
type InfraVars struct {
	Files  []string          `json:"files,omitempty"`  // -var-file paths
	Values map[string]string `json:"values,omitempty"` // -var key=value pairs
}

// PlanSummary describes the changes a plan would make
type PlanSummary struct {
	HasChanges bool   `json:"has_changes"`
	Raw        string `json:"raw,omitempty"` // human-readable plan output
}

// InfraProvisioner applies and destroys declared infrastructure.
// The production implementation shells out to the terraform CLI.
type InfraProvisioner interface {
	// Apply converges the infrastructure in dir and returns its outputs
	Apply(ctx context.Context, dir string, vars InfraVars) (map[string]string, error)
	// PlanChanges reports whether applying would change anything
	PlanChanges(ctx context.Context, dir string, vars InfraVars) (*PlanSummary, error)
	// Destroy tears down the infrastructure in dir
	Destroy(ctx context.Context, dir string, vars InfraVars) error
	// Outputs reads current outputs without applying
	Outputs(ctx context.Context, dir string) (map[string]string, error)
}

// ResourceStatus is the observed state of an arbitrary cluster resource
type ResourceStatus struct {
	Exists  bool   `json:"exists"`
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
}

// ClusterClient talks to the Kubernetes cluster for an environment.
// The production implementation shells out to kubectl.
type ClusterClient interface {
	// ApplyManifest applies a manifest file, optionally into a namespace
	ApplyManifest(ctx context.Context, manifestPath, namespace string) error
	// GetResourceStatus reports existence and readiness of a resource
	GetResourceStatus(ctx context.Context, kind, name, namespace string) (*ResourceStatus, error)
	// DeleteResource removes a resource; ignoreNotFound suppresses
	// missing-resource errors
	DeleteResource(ctx context.Context, kind, name, namespace string, ignoreNotFound bool) error
	// JobStatus reports the state of a Job resource
	JobStatus(ctx context.Context, name, namespace string) (*JobStatus, error)
	// PodLogTail returns the last lines of logs for pods matching a
	// label selector
	PodLogTail(ctx context.Context, selector, namespace string, lines int) (string, error)
	// UseContext switches the active kubeconfig context
	UseContext(ctx context.Context, kubeContext string) error
	// ServerReachable verifies the API server answers
	ServerReachable(ctx context.Context) error
}

// ApplicationSpec describes a GitOps-managed application to register
type ApplicationSpec struct {
	Name           string            `json:"name"`
	RepoURL        string            `json:"repo_url"`
	Path           string            `json:"path"`
	TargetRevision string            `json:"target_revision,omitempty"`
	Namespace      string            `json:"namespace"`
	Project        string            `json:"project,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
}

// SyncStatus is the observed sync and health state of an application
type SyncStatus struct {
	Sync     string `json:"sync"`   // e.g. Synced, OutOfSync
	Health   string `json:"health"` // e.g. Healthy, Progressing, Degraded
	Revision string `json:"revision,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Settled reports whether the application is synced and healthy
func (s *SyncStatus) Settled() bool {
	return s != nil && s.Sync == "Synced" && s.Health == "Healthy"
}

// Degraded reports whether the application has terminally degraded
func (s *SyncStatus) Degraded() bool {
	return s != nil && s.Health == "Degraded"
}

// GitOpsController manages the GitOps control plane and its applications.
// The production implementation shells out to the argocd CLI.
type GitOpsController interface {
	// InstallController installs the controller into the cluster
	InstallController(ctx context.Context) error
	// ControllerReady reports whether the controller is serving
	ControllerReady(ctx context.Context) (bool, error)
	// RegisterApplication creates or updates an application definition
	RegisterApplication(ctx context.Context, app ApplicationSpec) error
	// GetSyncStatus reports an application's sync state
	GetSyncStatus(ctx context.Context, appName string) (*SyncStatus, error)
	// UnregisterApplication removes an application; cascade also deletes
	// its cluster resources
	UnregisterApplication(ctx context.Context, appName string, cascade bool) error
}

// Identity describes the principal behind the active cloud credentials
type Identity struct {
	Account string `json:"account"`
	ARN     string `json:"arn"`
	UserID  string `json:"user_id"`
}

// CredentialChecker verifies that cloud credentials are usable
type CredentialChecker interface {
	WhoAmI(ctx context.Context) (*Identity, error)
}

// ConfirmationProvider gates destructive operations on an explicit
// answer. Implementations must not cache answers between calls.
type ConfirmationProvider interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}
