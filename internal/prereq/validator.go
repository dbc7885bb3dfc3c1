// Package prereq validates that a workstation can run a deployment:
// required binaries on PATH, tool versions, cloud credentials, and
// files the environment references. Checks never stop at the first
// failure; the operator gets every finding in one pass.
package prereq

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/flightdeck/flightdeck/internal/collab"
	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// versionPattern matches the first version-looking token in tool output
var versionPattern = regexp.MustCompile(`v?\d+\.\d+(?:\.\d+)?`)

// versionArgs overrides the default "version" subcommand per binary
var versionArgs = map[string][]string{
	"kubectl": {"version", "--client"},
	"argocd":  {"version", "--client"},
}

// Validator runs prerequisite checks and aggregates findings
type Validator struct {
	runner  collab.CommandRunner
	creds   interfaces.CredentialChecker
	logger  *logging.Logger
	baseDir string
}

// Option configures a Validator
type Option func(*Validator)

// WithBaseDir sets the directory relative file prerequisites resolve
// against, usually the manifest's directory
func WithBaseDir(dir string) Option {
	return func(v *Validator) {
		v.baseDir = dir
	}
}

// NewValidator creates a prerequisite validator
func NewValidator(runner collab.CommandRunner, creds interfaces.CredentialChecker, opts ...Option) *Validator {
	v := &Validator{
		runner: runner,
		creds:  creds,
		logger: logging.NewLogger("prereq"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every check. A non-nil error is either the context's
// error or a *interfaces.ValidationError carrying every finding,
// deduplicated, in check order.
func (v *Validator) Validate(ctx context.Context, checks []config.PrerequisiteSpec) error {
	findings := make([]string, 0)

	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("prerequisite validation interrupted: %w", err)
		}
		findings = append(findings, v.runCheck(ctx, check)...)
	}

	findings = dedupe(findings)
	if len(findings) > 0 {
		v.logger.Warnf("prerequisite validation failed with %d finding(s)", len(findings))
		return &interfaces.ValidationError{Findings: findings}
	}

	v.logger.Debugf("all %d prerequisite check(s) passed", len(checks))
	return nil
}

// runCheck returns the findings for one check, empty when it passes
func (v *Validator) runCheck(ctx context.Context, check config.PrerequisiteSpec) []string {
	switch check.Kind {
	case config.PrereqBinary, config.PrereqVersion:
		return v.checkBinary(ctx, check)
	case config.PrereqCredential:
		return v.checkCredentials(ctx)
	case config.PrereqFile:
		return v.checkFile(check)
	default:
		return []string{fmt.Sprintf("unknown prerequisite kind %q", check.Kind)}
	}
}

// checkBinary verifies presence on PATH and, when a minimum version is
// declared, that the installed version satisfies it
func (v *Validator) checkBinary(ctx context.Context, check config.PrerequisiteSpec) []string {
	if check.Name == "" {
		return []string{"binary prerequisite missing name"}
	}
	if check.Kind == config.PrereqVersion && check.MinVersion == "" {
		return []string{fmt.Sprintf("version prerequisite for %q missing min_version", check.Name)}
	}

	path, err := v.runner.LookPath(check.Name)
	if err != nil {
		return []string{fmt.Sprintf("required binary %q not found on PATH", check.Name)}
	}
	v.logger.Debugf("found %s at %s", check.Name, path)

	if check.MinVersion == "" {
		return nil
	}
	return v.checkVersion(ctx, check.Name, check.MinVersion)
}

// checkVersion runs the tool's version command and compares
func (v *Validator) checkVersion(ctx context.Context, binary, minVersion string) []string {
	args, ok := versionArgs[binary]
	if !ok {
		args = []string{"version"}
	}

	result, err := v.runner.Run(ctx, collab.Command{Binary: binary, Args: args})
	if err != nil || !result.Success() {
		return []string{fmt.Sprintf("could not determine %s version", binary)}
	}

	// Some tools report the version on stderr
	installed := extractVersion(result.Stdout + "\n" + result.Stderr)
	if installed == "" {
		return []string{fmt.Sprintf("could not determine %s version", binary)}
	}

	minimum := canonicalVersion(minVersion)
	if !semver.IsValid(installed) || !semver.IsValid(minimum) {
		return []string{fmt.Sprintf("cannot compare %s version %s against %s", binary, installed, minVersion)}
	}
	if semver.Compare(installed, minimum) < 0 {
		return []string{fmt.Sprintf("%s version %s is older than required %s", binary, strings.TrimPrefix(installed, "v"), minVersion)}
	}

	v.logger.Debugf("%s version %s satisfies >= %s", binary, installed, minVersion)
	return nil
}

// checkCredentials verifies the active cloud credentials resolve to an
// identity
func (v *Validator) checkCredentials(ctx context.Context) []string {
	identity, err := v.creds.WhoAmI(ctx)
	if err != nil {
		return []string{fmt.Sprintf("cloud credentials invalid: %v", err)}
	}

	v.logger.Debugf("authenticated as %s (account %s)", identity.ARN, identity.Account)
	return nil
}

// checkFile verifies a referenced file exists and is a regular file
func (v *Validator) checkFile(check config.PrerequisiteSpec) []string {
	if check.Path == "" {
		return []string{"file prerequisite missing path"}
	}

	path := check.Path
	if !filepath.IsAbs(path) && v.baseDir != "" {
		path = filepath.Join(v.baseDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return []string{fmt.Sprintf("required file %s not found", check.Path)}
	}
	if info.IsDir() {
		return []string{fmt.Sprintf("required file %s is a directory", check.Path)}
	}
	return nil
}

// extractVersion pulls the first version token from tool output and
// canonicalizes it with a leading v
func extractVersion(output string) string {
	match := versionPattern.FindString(output)
	if match == "" {
		return ""
	}
	return canonicalVersion(match)
}

func canonicalVersion(version string) string {
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return version
}

// dedupe removes duplicate findings, keeping first-seen order
func dedupe(findings []string) []string {
	seen := make(map[string]bool, len(findings))
	kept := make([]string, 0, len(findings))
	for _, finding := range findings {
		if seen[finding] {
			continue
		}
		seen[finding] = true
		kept = append(kept, finding)
	}
	return kept
}
