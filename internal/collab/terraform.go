package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// Plan exit codes from terraform -detailed-exitcode
const (
	planExitClean   = 0
	planExitError   = 1
	planExitChanges = 2
)

// TerraformCLI drives infrastructure through the terraform binary
type TerraformCLI struct {
	runner CommandRunner
	binary string
	logger *logging.Logger

	mu          sync.Mutex
	initialized map[string]bool // working dirs initialized this process
}

// TerraformOption configures a TerraformCLI
type TerraformOption func(*TerraformCLI)

// WithTerraformBinary overrides the terraform binary name
func WithTerraformBinary(binary string) TerraformOption {
	return func(t *TerraformCLI) {
		if binary != "" {
			t.binary = binary
		}
	}
}

// NewTerraformCLI creates a terraform-backed provisioner
func NewTerraformCLI(runner CommandRunner, opts ...TerraformOption) *TerraformCLI {
	t := &TerraformCLI{
		runner:      runner,
		binary:      "terraform",
		logger:      logging.NewLogger("terraform"),
		initialized: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ensureInit runs terraform init once per working directory per process
func (t *TerraformCLI) ensureInit(ctx context.Context, dir string) error {
	t.mu.Lock()
	done := t.initialized[dir]
	t.mu.Unlock()
	if done {
		return nil
	}

	result, err := t.runner.Run(ctx, Command{
		Binary: t.binary,
		Args:   []string{"init", "-input=false", "-no-color"},
		Dir:    dir,
	})
	if err != nil {
		return fmt.Errorf("terraform init in %s: %w", dir, err)
	}
	if !result.Success() {
		return fmt.Errorf("terraform init in %s failed: %s", dir, lastLines(result.Stderr, 5))
	}

	t.mu.Lock()
	t.initialized[dir] = true
	t.mu.Unlock()
	return nil
}

// varArgs renders var files and inline values as CLI flags, values in
// stable order
func varArgs(vars interfaces.InfraVars) []string {
	args := make([]string, 0, len(vars.Files)+len(vars.Values))
	for _, f := range vars.Files {
		args = append(args, "-var-file="+f)
	}
	keys := make([]string, 0, len(vars.Values))
	for k := range vars.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("-var=%s=%s", k, vars.Values[k]))
	}
	return args
}

// Apply converges the infrastructure in dir and returns its outputs
func (t *TerraformCLI) Apply(ctx context.Context, dir string, vars interfaces.InfraVars) (map[string]string, error) {
	if err := t.ensureInit(ctx, dir); err != nil {
		return nil, err
	}

	args := append([]string{"apply", "-input=false", "-auto-approve", "-no-color"}, varArgs(vars)...)
	result, err := t.runner.Run(ctx, Command{Binary: t.binary, Args: args, Dir: dir})
	if err != nil {
		return nil, fmt.Errorf("terraform apply in %s: %w", dir, err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("terraform apply in %s failed: %s", dir, lastLines(result.Stderr, 10))
	}

	t.logger.Infof("apply completed in %s (%v)", dir, result.Duration)
	return t.Outputs(ctx, dir)
}

// PlanChanges reports whether applying would change anything
func (t *TerraformCLI) PlanChanges(ctx context.Context, dir string, vars interfaces.InfraVars) (*interfaces.PlanSummary, error) {
	if err := t.ensureInit(ctx, dir); err != nil {
		return nil, err
	}

	args := append([]string{"plan", "-input=false", "-detailed-exitcode", "-no-color"}, varArgs(vars)...)
	result, err := t.runner.Run(ctx, Command{Binary: t.binary, Args: args, Dir: dir})
	if err != nil {
		return nil, fmt.Errorf("terraform plan in %s: %w", dir, err)
	}

	switch result.ExitCode {
	case planExitClean:
		return &interfaces.PlanSummary{HasChanges: false, Raw: lastLines(result.Stdout, 20)}, nil
	case planExitChanges:
		return &interfaces.PlanSummary{HasChanges: true, Raw: lastLines(result.Stdout, 20)}, nil
	case planExitError:
		return nil, fmt.Errorf("terraform plan in %s failed: %s", dir, lastLines(result.Stderr, 10))
	default:
		return nil, fmt.Errorf("terraform plan in %s: unexpected exit code %d", dir, result.ExitCode)
	}
}

// Destroy tears down the infrastructure in dir
func (t *TerraformCLI) Destroy(ctx context.Context, dir string, vars interfaces.InfraVars) error {
	if err := t.ensureInit(ctx, dir); err != nil {
		return err
	}

	args := append([]string{"destroy", "-input=false", "-auto-approve", "-no-color"}, varArgs(vars)...)
	result, err := t.runner.Run(ctx, Command{Binary: t.binary, Args: args, Dir: dir})
	if err != nil {
		return fmt.Errorf("terraform destroy in %s: %w", dir, err)
	}
	if !result.Success() {
		return fmt.Errorf("terraform destroy in %s failed: %s", dir, lastLines(result.Stderr, 10))
	}

	t.logger.Infof("destroy completed in %s (%v)", dir, result.Duration)
	return nil
}

// terraformOutput mirrors one entry of `terraform output -json`
type terraformOutput struct {
	Sensitive bool        `json:"sensitive"`
	Value     interface{} `json:"value"`
}

// Outputs reads current outputs without applying
func (t *TerraformCLI) Outputs(ctx context.Context, dir string) (map[string]string, error) {
	result, err := t.runner.Run(ctx, Command{
		Binary: t.binary,
		Args:   []string{"output", "-json", "-no-color"},
		Dir:    dir,
	})
	if err != nil {
		return nil, fmt.Errorf("terraform output in %s: %w", dir, err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("terraform output in %s failed: %s", dir, lastLines(result.Stderr, 5))
	}

	raw := map[string]terraformOutput{}
	if err := json.Unmarshal([]byte(result.Stdout), &raw); err != nil {
		return nil, fmt.Errorf("parse terraform output in %s: %w", dir, err)
	}

	outputs := make(map[string]string, len(raw))
	for name, out := range raw {
		switch v := out.Value.(type) {
		case string:
			outputs[name] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode terraform output %q: %w", name, err)
			}
			outputs[name] = string(encoded)
		}
	}
	return outputs, nil
}

// Ensure TerraformCLI implements the provisioner contract
var _ interfaces.InfraProvisioner = (*TerraformCLI)(nil)
