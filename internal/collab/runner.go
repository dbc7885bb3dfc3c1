// Package collab contains the adapters flightdeck drives external
// tooling through: terraform, kubectl, argocd, STS, and the terminal.
// Nothing outside this package starts a subprocess.
package collab

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/flightdeck/flightdeck/pkg/logging"
)

// Command describes one external process invocation
type Command struct {
	Binary string
	Args   []string
	Dir    string   // working directory, empty for inherited
	Env    []string // KEY=VALUE pairs appended to the process env
	Stdin  string
}

// CommandResult represents the result of executing a command
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success returns true if the command exited with code 0
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// CommandRunner executes external commands. A non-zero exit is
// reported in the result, not as an error; errors mean the process
// could not run at all.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
	LookPath(binary string) (string, error)
}

// ExecRunner executes real processes
type ExecRunner struct {
	logger *logging.Logger
}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{logger: logging.NewLogger("exec")}
}

// Run executes a command and returns the result
func (r *ExecRunner) Run(ctx context.Context, command Command) (CommandResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, command.Binary, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	if command.Stdin != "" {
		cmd.Stdin = strings.NewReader(command.Stdin)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debugf("run %s %s", command.Binary, strings.Join(command.Args, " "))
	err := cmd.Run()

	result := CommandResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.Debugf("%s exited %d in %v", command.Binary, result.ExitCode, result.Duration)
			return result, nil
		}
		return result, err
	}

	r.logger.Debugf("%s exited 0 in %v", command.Binary, result.Duration)
	return result, nil
}

// LookPath reports where a binary resolves on PATH
func (r *ExecRunner) LookPath(binary string) (string, error) {
	return exec.LookPath(binary)
}

// Ensure ExecRunner implements CommandRunner
var _ CommandRunner = (*ExecRunner)(nil)

// lastLines returns up to n trailing non-empty lines of s, for error
// excerpts
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		kept = append([]string{lines[i]}, kept...)
	}
	return strings.Join(kept, "\n")
}
