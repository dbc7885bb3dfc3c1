package interfaces

import (
	"time"
)

// JobSpec describes one data-load job submitted to the cluster.
// The manifest is treated as an opaque payload; flightdeck only cares
// about the job's identity, its wave, and how to wait for it.
type JobSpec struct {
	Name         string        `json:"name"`
	Wave         int           `json:"wave"`
	ManifestPath string        `json:"manifest"`
	Namespace    string        `json:"namespace,omitempty"`
	PollInterval time.Duration `json:"poll_interval,omitempty"`
	PollTimeout  time.Duration `json:"poll_timeout,omitempty"`
}

// JobOutcome records how a submitted job finished
type JobOutcome struct {
	Name       string        `json:"name"`
	Wave       int           `json:"wave"`
	State      PollState     `json:"state"`
	LastStatus string        `json:"last_status,omitempty"`
	LogExcerpt string        `json:"log_excerpt,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
}

// JobStatus is the observed cluster-side state of a Job resource
type JobStatus struct {
	Exists        bool       `json:"exists"`
	Active        int        `json:"active"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
