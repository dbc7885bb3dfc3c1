package mocks

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/flightdeck/flightdeck/internal/collab"
)

// ScriptedRunner implements collab.CommandRunner by matching each
// command line against registered scripts. The first matching script
// wins; unmatched commands succeed with empty output.
type ScriptedRunner struct {
	scripts []runnerScript
	missing map[string]bool
	calls   []collab.Command
	mutex   sync.Mutex
}

type runnerScript struct {
	prefix string
	result collab.CommandResult
	err    error
}

// NewScriptedRunner creates an empty scripted runner
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{missing: make(map[string]bool)}
}

// Script returns result for commands whose "binary arg arg..." line
// starts with prefix
func (r *ScriptedRunner) Script(prefix string, result collab.CommandResult) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.scripts = append(r.scripts, runnerScript{prefix: prefix, result: result})
}

// ScriptError makes matching commands fail to start at all
func (r *ScriptedRunner) ScriptError(prefix string, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.scripts = append(r.scripts, runnerScript{prefix: prefix, err: err})
}

// SetMissing makes LookPath report the binary as absent from PATH
func (r *ScriptedRunner) SetMissing(binary string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.missing[binary] = true
}

// Run matches the command against the scripts
func (r *ScriptedRunner) Run(ctx context.Context, cmd collab.Command) (collab.CommandResult, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.calls = append(r.calls, cmd)

	if err := ctx.Err(); err != nil {
		return collab.CommandResult{ExitCode: -1}, err
	}

	line := commandLine(cmd)
	for _, script := range r.scripts {
		if strings.HasPrefix(line, script.prefix) {
			return script.result, script.err
		}
	}
	return collab.CommandResult{ExitCode: 0}, nil
}

// LookPath resolves a binary unless it was marked missing
func (r *ScriptedRunner) LookPath(binary string) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.missing[binary] {
		return "", &exec.Error{Name: binary, Err: exec.ErrNotFound}
	}
	return "/usr/local/bin/" + binary, nil
}

// Calls returns every command run so far, oldest first
func (r *ScriptedRunner) Calls() []collab.Command {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	calls := make([]collab.Command, len(r.calls))
	copy(calls, r.calls)
	return calls
}

// CommandLines returns each run command as a space-joined line
func (r *ScriptedRunner) CommandLines() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	lines := make([]string, 0, len(r.calls))
	for _, cmd := range r.calls {
		lines = append(lines, commandLine(cmd))
	}
	return lines
}

func commandLine(cmd collab.Command) string {
	if len(cmd.Args) == 0 {
		return cmd.Binary
	}
	return cmd.Binary + " " + strings.Join(cmd.Args, " ")
}

// Verify interface compliance
var _ collab.CommandRunner = (*ScriptedRunner)(nil)
