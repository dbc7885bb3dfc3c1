package interfaces

import (
	"time"
)

// RecordSchemaVersion is bumped when the persisted record shape changes
const RecordSchemaVersion = 1

// NoStepCompleted is the LastStepIndex value before any step has finished
const NoStepCompleted = -1

// Well-known output keys written by pipeline steps
const (
	OutputClusterEndpoint = "cluster_endpoint"
	OutputClusterName     = "cluster_name"
	OutputGitOpsServer    = "gitops_server"
	OutputKubeContext     = "kube_context"
	OutputRegion          = "region"
)

// EnvironmentRecord is the persisted per-environment deployment state.
// One record exists per environment; it carries enough to resume an
// interrupted pipeline without re-running completed actions.
type EnvironmentRecord struct {
	SchemaVersion int               `json:"schema_version"`
	Environment   string            `json:"environment"`
	Operation     RunOperation      `json:"operation"`
	LastStepIndex int               `json:"last_step_index"` // 0-based, NoStepCompleted if none
	LastStepName  string            `json:"last_step_name,omitempty"`
	Outputs       map[string]string `json:"outputs,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
	WrittenBy     string            `json:"written_by,omitempty"` // flightdeck version
}

// NewEnvironmentRecord returns a fresh record with no completed steps
func NewEnvironmentRecord(environment string, operation RunOperation) *EnvironmentRecord {
	return &EnvironmentRecord{
		SchemaVersion: RecordSchemaVersion,
		Environment:   environment,
		Operation:     operation,
		LastStepIndex: NoStepCompleted,
		Outputs:       make(map[string]string),
		UpdatedAt:     time.Now(),
	}
}

// Completed reports whether the step at the given ordinal finished in a
// previous run
func (r *EnvironmentRecord) Completed(ordinal int) bool {
	return r != nil && r.LastStepIndex >= ordinal
}

// SetOutput records a step output, allocating the map on first use
func (r *EnvironmentRecord) SetOutput(key, value string) {
	if r.Outputs == nil {
		r.Outputs = make(map[string]string)
	}
	r.Outputs[key] = value
}
