package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// MockInfraProvisioner is a minimal mock for infrastructure operations
type MockInfraProvisioner struct {
	ApplyFunc   func(ctx context.Context, dir string, vars interfaces.InfraVars) (map[string]string, error)
	PlanFunc    func(ctx context.Context, dir string, vars interfaces.InfraVars) (*interfaces.PlanSummary, error)
	DestroyFunc func(ctx context.Context, dir string, vars interfaces.InfraVars) error
	OutputsFunc func(ctx context.Context, dir string) (map[string]string, error)

	ApplyCalls   int
	DestroyCalls int
	mutex        sync.Mutex
}

// Apply converges infrastructure and returns outputs
func (m *MockInfraProvisioner) Apply(ctx context.Context, dir string, vars interfaces.InfraVars) (map[string]string, error) {
	m.mutex.Lock()
	m.ApplyCalls++
	m.mutex.Unlock()

	if m.ApplyFunc != nil {
		return m.ApplyFunc(ctx, dir, vars)
	}
	return map[string]string{}, nil
}

// PlanChanges reports whether applying would change anything
func (m *MockInfraProvisioner) PlanChanges(ctx context.Context, dir string, vars interfaces.InfraVars) (*interfaces.PlanSummary, error) {
	if m.PlanFunc != nil {
		return m.PlanFunc(ctx, dir, vars)
	}
	return &interfaces.PlanSummary{HasChanges: false}, nil
}

// Destroy tears down infrastructure
func (m *MockInfraProvisioner) Destroy(ctx context.Context, dir string, vars interfaces.InfraVars) error {
	m.mutex.Lock()
	m.DestroyCalls++
	m.mutex.Unlock()

	if m.DestroyFunc != nil {
		return m.DestroyFunc(ctx, dir, vars)
	}
	return nil
}

// Outputs reads current outputs without applying
func (m *MockInfraProvisioner) Outputs(ctx context.Context, dir string) (map[string]string, error) {
	if m.OutputsFunc != nil {
		return m.OutputsFunc(ctx, dir)
	}
	return map[string]string{}, nil
}

// MockClusterClient is a mock Kubernetes client that records the
// mutating operations issued against it, in order.
type MockClusterClient struct {
	ApplyManifestFunc     func(ctx context.Context, manifestPath, namespace string) error
	GetResourceStatusFunc func(ctx context.Context, kind, name, namespace string) (*interfaces.ResourceStatus, error)
	DeleteResourceFunc    func(ctx context.Context, kind, name, namespace string, ignoreNotFound bool) error
	JobStatusFunc         func(ctx context.Context, name, namespace string) (*interfaces.JobStatus, error)
	PodLogTailFunc        func(ctx context.Context, selector, namespace string, lines int) (string, error)
	UseContextFunc        func(ctx context.Context, kubeContext string) error
	ServerReachableFunc   func(ctx context.Context) error

	ops   []string
	mutex sync.Mutex
}

func (m *MockClusterClient) recordOp(format string, args ...interface{}) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ops = append(m.ops, fmt.Sprintf(format, args...))
}

// Ops returns the mutating operations issued so far, oldest first.
// Entries look like "apply manifests/etl.yaml" and "delete job/etl".
func (m *MockClusterClient) Ops() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	ops := make([]string, len(m.ops))
	copy(ops, m.ops)
	return ops
}

// ApplyManifest applies a manifest file
func (m *MockClusterClient) ApplyManifest(ctx context.Context, manifestPath, namespace string) error {
	m.recordOp("apply %s", manifestPath)
	if m.ApplyManifestFunc != nil {
		return m.ApplyManifestFunc(ctx, manifestPath, namespace)
	}
	return nil
}

// GetResourceStatus reports resource existence and readiness
func (m *MockClusterClient) GetResourceStatus(ctx context.Context, kind, name, namespace string) (*interfaces.ResourceStatus, error) {
	if m.GetResourceStatusFunc != nil {
		return m.GetResourceStatusFunc(ctx, kind, name, namespace)
	}
	return &interfaces.ResourceStatus{Exists: true, Ready: true}, nil
}

// DeleteResource removes a resource
func (m *MockClusterClient) DeleteResource(ctx context.Context, kind, name, namespace string, ignoreNotFound bool) error {
	m.recordOp("delete %s/%s", kind, name)
	if m.DeleteResourceFunc != nil {
		return m.DeleteResourceFunc(ctx, kind, name, namespace, ignoreNotFound)
	}
	return nil
}

// JobStatus reports the state of a Job resource
func (m *MockClusterClient) JobStatus(ctx context.Context, name, namespace string) (*interfaces.JobStatus, error) {
	if m.JobStatusFunc != nil {
		return m.JobStatusFunc(ctx, name, namespace)
	}
	return &interfaces.JobStatus{Exists: true, Succeeded: 1}, nil
}

// PodLogTail returns recent pod logs for a label selector
func (m *MockClusterClient) PodLogTail(ctx context.Context, selector, namespace string, lines int) (string, error) {
	if m.PodLogTailFunc != nil {
		return m.PodLogTailFunc(ctx, selector, namespace, lines)
	}
	return "", nil
}

// UseContext switches the active kubeconfig context
func (m *MockClusterClient) UseContext(ctx context.Context, kubeContext string) error {
	m.recordOp("use-context %s", kubeContext)
	if m.UseContextFunc != nil {
		return m.UseContextFunc(ctx, kubeContext)
	}
	return nil
}

// ServerReachable verifies the API server answers
func (m *MockClusterClient) ServerReachable(ctx context.Context) error {
	if m.ServerReachableFunc != nil {
		return m.ServerReachableFunc(ctx)
	}
	return nil
}

// MockGitOpsController is a minimal mock for the GitOps control plane
type MockGitOpsController struct {
	InstallControllerFunc     func(ctx context.Context) error
	ControllerReadyFunc       func(ctx context.Context) (bool, error)
	RegisterApplicationFunc   func(ctx context.Context, app interfaces.ApplicationSpec) error
	GetSyncStatusFunc         func(ctx context.Context, appName string) (*interfaces.SyncStatus, error)
	UnregisterApplicationFunc func(ctx context.Context, appName string, cascade bool) error

	Installs     int
	Registered   []interfaces.ApplicationSpec
	Unregistered []string
	mutex        sync.Mutex
}

// InstallController installs the controller
func (m *MockGitOpsController) InstallController(ctx context.Context) error {
	m.mutex.Lock()
	m.Installs++
	m.mutex.Unlock()

	if m.InstallControllerFunc != nil {
		return m.InstallControllerFunc(ctx)
	}
	return nil
}

// ControllerReady reports whether the controller is serving
func (m *MockGitOpsController) ControllerReady(ctx context.Context) (bool, error) {
	if m.ControllerReadyFunc != nil {
		return m.ControllerReadyFunc(ctx)
	}
	return true, nil
}

// RegisterApplication records and registers an application
func (m *MockGitOpsController) RegisterApplication(ctx context.Context, app interfaces.ApplicationSpec) error {
	m.mutex.Lock()
	m.Registered = append(m.Registered, app)
	m.mutex.Unlock()

	if m.RegisterApplicationFunc != nil {
		return m.RegisterApplicationFunc(ctx, app)
	}
	return nil
}

// GetSyncStatus reports an application's sync state
func (m *MockGitOpsController) GetSyncStatus(ctx context.Context, appName string) (*interfaces.SyncStatus, error) {
	if m.GetSyncStatusFunc != nil {
		return m.GetSyncStatusFunc(ctx, appName)
	}
	return &interfaces.SyncStatus{Sync: "Synced", Health: "Healthy"}, nil
}

// UnregisterApplication records and removes an application
func (m *MockGitOpsController) UnregisterApplication(ctx context.Context, appName string, cascade bool) error {
	m.mutex.Lock()
	m.Unregistered = append(m.Unregistered, appName)
	m.mutex.Unlock()

	if m.UnregisterApplicationFunc != nil {
		return m.UnregisterApplicationFunc(ctx, appName, cascade)
	}
	return nil
}

// MockCredentialChecker is a minimal mock for credential validation
type MockCredentialChecker struct {
	WhoAmIFunc func(ctx context.Context) (*interfaces.Identity, error)
}

// WhoAmI returns the configured identity
func (m *MockCredentialChecker) WhoAmI(ctx context.Context) (*interfaces.Identity, error) {
	if m.WhoAmIFunc != nil {
		return m.WhoAmIFunc(ctx)
	}
	return &interfaces.Identity{
		Account: "123456789012",
		ARN:     "arn:aws:iam::123456789012:user/pipeline",
		UserID:  "AIDAEXAMPLE",
	}, nil
}

// MockConfirmer is a scripted ConfirmationProvider. Each call consumes
// the next answer; when Answers is exhausted it returns Default.
type MockConfirmer struct {
	ConfirmFunc func(ctx context.Context, prompt string) (bool, error)
	Answers     []bool
	Default     bool

	prompts []string
	mutex   sync.Mutex
}

// Confirm records the prompt and returns the next scripted answer
func (m *MockConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, prompt)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.prompts = append(m.prompts, prompt)
	if len(m.Answers) > 0 {
		answer := m.Answers[0]
		m.Answers = m.Answers[1:]
		return answer, nil
	}
	return m.Default, nil
}

// Prompts returns every prompt shown so far
func (m *MockConfirmer) Prompts() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	prompts := make([]string, len(m.prompts))
	copy(prompts, m.prompts)
	return prompts
}

// Verify interface compliance
var (
	_ interfaces.InfraProvisioner     = (*MockInfraProvisioner)(nil)
	_ interfaces.ClusterClient        = (*MockClusterClient)(nil)
	_ interfaces.GitOpsController     = (*MockGitOpsController)(nil)
	_ interfaces.CredentialChecker    = (*MockCredentialChecker)(nil)
	_ interfaces.ConfirmationProvider = (*MockConfirmer)(nil)
)
