package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// KubectlCLI talks to the cluster through the kubectl binary
type KubectlCLI struct {
	runner      CommandRunner
	binary      string
	kubeconfig  string
	kubeContext string
	logger      *logging.Logger
}

// KubectlOption configures a KubectlCLI
type KubectlOption func(*KubectlCLI)

// WithKubeconfig points kubectl at an explicit kubeconfig file
func WithKubeconfig(path string) KubectlOption {
	return func(k *KubectlCLI) { k.kubeconfig = path }
}

// WithKubeContext pins every call to a kubeconfig context
func WithKubeContext(name string) KubectlOption {
	return func(k *KubectlCLI) { k.kubeContext = name }
}

// WithKubectlBinary overrides the kubectl binary name
func WithKubectlBinary(binary string) KubectlOption {
	return func(k *KubectlCLI) {
		if binary != "" {
			k.binary = binary
		}
	}
}

// NewKubectlCLI creates a kubectl-backed cluster client
func NewKubectlCLI(runner CommandRunner, opts ...KubectlOption) *KubectlCLI {
	k := &KubectlCLI{
		runner: runner,
		binary: "kubectl",
		logger: logging.NewLogger("kubectl"),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// baseArgs returns the flags applied to every invocation
func (k *KubectlCLI) baseArgs() []string {
	var args []string
	if k.kubeconfig != "" {
		args = append(args, "--kubeconfig", k.kubeconfig)
	}
	if k.kubeContext != "" {
		args = append(args, "--context", k.kubeContext)
	}
	return args
}

func (k *KubectlCLI) run(ctx context.Context, args ...string) (CommandResult, error) {
	return k.runner.Run(ctx, Command{
		Binary: k.binary,
		Args:   append(k.baseArgs(), args...),
	})
}

// ApplyManifest applies a manifest file, optionally into a namespace
func (k *KubectlCLI) ApplyManifest(ctx context.Context, manifestPath, namespace string) error {
	args := []string{"apply", "-f", manifestPath}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	result, err := k.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("kubectl apply %s: %w", manifestPath, err)
	}
	if !result.Success() {
		return fmt.Errorf("kubectl apply %s failed: %s", manifestPath, lastLines(result.Stderr, 5))
	}
	k.logger.Debugf("applied %s", manifestPath)
	return nil
}

// DeleteResource removes a resource; ignoreNotFound suppresses
// missing-resource errors
func (k *KubectlCLI) DeleteResource(ctx context.Context, kind, name, namespace string, ignoreNotFound bool) error {
	args := []string{"delete", kind, name}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	if ignoreNotFound {
		args = append(args, "--ignore-not-found")
	}
	result, err := k.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("kubectl delete %s/%s: %w", kind, name, err)
	}
	if !result.Success() {
		return fmt.Errorf("kubectl delete %s/%s failed: %s", kind, name, lastLines(result.Stderr, 5))
	}
	return nil
}

// resourceDoc captures the fields we read from `kubectl get -o json`
type resourceDoc struct {
	Spec struct {
		Replicas *int `json:"replicas"`
	} `json:"spec"`
	Status struct {
		Phase         string `json:"phase"`
		Replicas      int    `json:"replicas"`
		ReadyReplicas int    `json:"readyReplicas"`
		Active        int    `json:"active"`
		Succeeded     int    `json:"succeeded"`
		Failed        int    `json:"failed"`
		Conditions    []struct {
			Type               string `json:"type"`
			Status             string `json:"status"`
			Reason             string `json:"reason"`
			Message            string `json:"message"`
			LastTransitionTime string `json:"lastTransitionTime"`
		} `json:"conditions"`
	} `json:"status"`
}

func isNotFound(result CommandResult) bool {
	return result.ExitCode != 0 && strings.Contains(result.Stderr, "NotFound")
}

// GetResourceStatus reports existence and readiness of a resource
func (k *KubectlCLI) GetResourceStatus(ctx context.Context, kind, name, namespace string) (*interfaces.ResourceStatus, error) {
	args := []string{"get", kind, name, "-o", "json"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	result, err := k.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("kubectl get %s/%s: %w", kind, name, err)
	}
	if isNotFound(result) {
		return &interfaces.ResourceStatus{Exists: false}, nil
	}
	if !result.Success() {
		return nil, fmt.Errorf("kubectl get %s/%s failed: %s", kind, name, lastLines(result.Stderr, 5))
	}

	var doc resourceDoc
	if err := json.Unmarshal([]byte(result.Stdout), &doc); err != nil {
		return nil, fmt.Errorf("parse %s/%s: %w", kind, name, err)
	}
	return resourceReadiness(kind, &doc), nil
}

// resourceReadiness maps a resource document onto a readiness verdict
func resourceReadiness(kind string, doc *resourceDoc) *interfaces.ResourceStatus {
	status := &interfaces.ResourceStatus{Exists: true}
	switch strings.ToLower(kind) {
	case "deployment", "deployments", "deploy", "statefulset", "statefulsets", "sts":
		desired := 1
		if doc.Spec.Replicas != nil {
			desired = *doc.Spec.Replicas
		}
		status.Ready = doc.Status.ReadyReplicas >= desired
		status.Message = fmt.Sprintf("%d/%d replicas ready", doc.Status.ReadyReplicas, desired)
	case "namespace", "namespaces", "ns":
		status.Ready = doc.Status.Phase == "Active"
		status.Message = doc.Status.Phase
	case "job", "jobs":
		status.Ready = doc.Status.Succeeded > 0
		status.Message = fmt.Sprintf("succeeded=%d failed=%d", doc.Status.Succeeded, doc.Status.Failed)
	default:
		status.Ready = true
	}
	return status
}

// JobStatus reports the state of a Job resource
func (k *KubectlCLI) JobStatus(ctx context.Context, name, namespace string) (*interfaces.JobStatus, error) {
	args := []string{"get", "job", name, "-o", "json"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	result, err := k.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("kubectl get job %s: %w", name, err)
	}
	if isNotFound(result) {
		return &interfaces.JobStatus{Exists: false}, nil
	}
	if !result.Success() {
		return nil, fmt.Errorf("kubectl get job %s failed: %s", name, lastLines(result.Stderr, 5))
	}

	var doc resourceDoc
	if err := json.Unmarshal([]byte(result.Stdout), &doc); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", name, err)
	}

	status := &interfaces.JobStatus{
		Exists:    true,
		Active:    doc.Status.Active,
		Succeeded: doc.Status.Succeeded,
		Failed:    doc.Status.Failed,
	}
	for _, cond := range doc.Status.Conditions {
		if cond.Status != "True" {
			continue
		}
		switch cond.Type {
		case "Failed":
			reason := cond.Reason
			if cond.Message != "" {
				reason = fmt.Sprintf("%s: %s", cond.Reason, cond.Message)
			}
			status.FailureReason = reason
		case "Complete":
			if ts, err := time.Parse(time.RFC3339, cond.LastTransitionTime); err == nil {
				status.CompletedAt = &ts
			}
		}
	}
	return status, nil
}

// PodLogTail returns the last lines of logs for pods matching a label
// selector
func (k *KubectlCLI) PodLogTail(ctx context.Context, selector, namespace string, lines int) (string, error) {
	if lines <= 0 {
		lines = 20
	}
	args := []string{"logs", "-l", selector, "--tail", strconv.Itoa(lines), "--prefix"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	result, err := k.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("kubectl logs -l %s: %w", selector, err)
	}
	if !result.Success() {
		// Pods may already be gone; return what stderr offers
		return lastLines(result.Stderr, 3), nil
	}
	return strings.TrimRight(result.Stdout, "\n"), nil
}

// UseContext switches the active kubeconfig context
func (k *KubectlCLI) UseContext(ctx context.Context, kubeContext string) error {
	result, err := k.run(ctx, "config", "use-context", kubeContext)
	if err != nil {
		return fmt.Errorf("kubectl use-context %s: %w", kubeContext, err)
	}
	if !result.Success() {
		return fmt.Errorf("kubectl use-context %s failed: %s", kubeContext, lastLines(result.Stderr, 3))
	}
	k.kubeContext = kubeContext
	return nil
}

// ServerReachable verifies the API server answers
func (k *KubectlCLI) ServerReachable(ctx context.Context) error {
	result, err := k.run(ctx, "get", "--raw", "/readyz")
	if err != nil {
		return fmt.Errorf("kubectl readyz: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("cluster API not reachable: %s", lastLines(result.Stderr, 3))
	}
	return nil
}

// Ensure KubectlCLI implements the cluster contract
var _ interfaces.ClusterClient = (*KubectlCLI)(nil)
