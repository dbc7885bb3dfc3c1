// Package logging provides structured logging support for the flightdeck application
package logging

// Component-specific loggers for easy incremental adoption

// Pipeline logger for step pipeline operations
var Pipeline = NewLogger("pipeline")

// Waves logger for job wave scheduling operations
var Waves = NewLogger("waves")

// Poll logger for readiness polling operations
var Poll = NewLogger("poll")

// State logger for state management operations
var State = NewLogger("state")

// Prereq logger for prerequisite validation operations
var Prereq = NewLogger("prereq")

// Infra logger for infrastructure provisioning operations
var Infra = NewLogger("infra")

// Cluster logger for cluster access operations
var Cluster = NewLogger("cluster")

// GitOps logger for GitOps controller operations
var GitOps = NewLogger("gitops")

// Config logger for configuration operations
var Config = NewLogger("config")

// CommandStart logs an external command invocation
func CommandStart(binary string, args []string) {
	Cluster.Debugf("exec binary=%s args=%v", binary, args)
}

// CommandResult logs an external command result
func CommandResult(binary string, exitCode int, durationMs int64) {
	if exitCode == 0 {
		Cluster.Debugf("exec done binary=%s exit=%d duration_ms=%d", binary, exitCode, durationMs)
	} else {
		Cluster.Warnf("exec failed binary=%s exit=%d duration_ms=%d", binary, exitCode, durationMs)
	}
}
