package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/poll"
)

// ManifestVersion is the flightdeck.yaml schema version this build reads
const ManifestVersion = 1

// DefaultGitOpsNamespace is where the GitOps controller lives unless
// the manifest says otherwise
const DefaultGitOpsNamespace = "argocd"

// Prerequisite kinds accepted in the manifest. Unknown kinds are kept
// as written; the prerequisite validator reports them as findings.
const (
	PrereqBinary     = "binary"
	PrereqCredential = "credential"
	PrereqFile       = "file"
	PrereqVersion    = "version"
)

// ConfirmAlways gates every step on operator confirmation, not just
// the destructive ones
const ConfirmAlways = "always"

// PollSettings configures one readiness polling loop. Zero fields
// inherit from the enclosing scope.
type PollSettings struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Manifest is the parsed flightdeck.yaml deployment manifest
type Manifest struct {
	Version      int            `yaml:"version"`
	Poll         PollSettings   `yaml:"poll"`
	Environments []*Environment `yaml:"environments"`
}

// Environment declares everything needed to deploy one environment
type Environment struct {
	Name        string            `yaml:"name"`
	Region      string            `yaml:"region"`
	InfraDir    string            `yaml:"infra_dir"`
	VarFiles    []string          `yaml:"var_files"`
	Variables   map[string]string `yaml:"variables"`
	KubeContext string            `yaml:"kube_context"`

	// Poll is the environment-wide polling default; InfraPoll covers
	// cluster readiness after provisioning, which routinely needs a far
	// longer timeout than anything else
	Poll      PollSettings `yaml:"poll"`
	InfraPoll PollSettings `yaml:"infra_poll"`

	GitOps        GitOpsSettings     `yaml:"gitops"`
	Prerequisites []PrerequisiteSpec `yaml:"prerequisites"`
	Jobs          []JobEntry         `yaml:"jobs"`
	Applications  []ApplicationEntry `yaml:"applications"`
	Verify        VerifySettings     `yaml:"verify"`

	// Confirm is the confirmation policy. Empty gates destructive steps
	// only; "always" gates every step.
	Confirm string `yaml:"confirm"`
}

// ConfirmAlways reports whether every step needs operator confirmation
func (e *Environment) ConfirmAlways() bool {
	return e.Confirm == ConfirmAlways
}

// GitOpsSettings configures the GitOps controller for an environment
type GitOpsSettings struct {
	Namespace       string       `yaml:"namespace"`
	InstallManifest string       `yaml:"install_manifest"`
	Poll            PollSettings `yaml:"poll"`
}

// PrerequisiteSpec declares one prerequisite check
type PrerequisiteSpec struct {
	Kind       string `yaml:"kind"`
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	MinVersion string `yaml:"min_version"`
}

// JobEntry declares one data-load job and its wave
type JobEntry struct {
	Name      string       `yaml:"name"`
	Wave      int          `yaml:"wave"`
	Manifest  string       `yaml:"manifest"`
	Namespace string       `yaml:"namespace"`
	Poll      PollSettings `yaml:"poll"`
}

// ApplicationEntry declares one GitOps-managed application
type ApplicationEntry struct {
	Name       string            `yaml:"name"`
	RepoURL    string            `yaml:"repo_url"`
	Path       string            `yaml:"path"`
	Revision   string            `yaml:"revision"`
	Namespace  string            `yaml:"namespace"`
	Project    string            `yaml:"project"`
	Parameters map[string]string `yaml:"parameters"`
}

// VerifySettings lists the checks the verification step runs
type VerifySettings struct {
	Applications []string        `yaml:"applications"`
	Resources    []ResourceCheck `yaml:"resources"`
}

// ResourceCheck names one cluster resource that must be ready
type ResourceCheck struct {
	Kind      string `yaml:"kind"`
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
}

// LoadManifest reads and parses a manifest file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return manifest, nil
}

// ParseManifest parses manifest YAML, applies defaults, and validates.
// YAML is decoded into a generic tree first and then through
// mapstructure; yaml alone cannot decode "10s" into a time.Duration.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	var manifest Manifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &manifest,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		TagName: "yaml",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	manifest.applyDefaults()
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// applyDefaults resolves the polling inheritance chain and fills
// namespace defaults
func (m *Manifest) applyDefaults() {
	m.Poll = mergePoll(PollSettings{Interval: poll.DefaultInterval, Timeout: poll.DefaultTimeout}, m.Poll)

	for _, env := range m.Environments {
		env.Poll = mergePoll(m.Poll, env.Poll)
		env.InfraPoll = mergePoll(env.Poll, env.InfraPoll)
		env.GitOps.Poll = mergePoll(env.Poll, env.GitOps.Poll)
		if env.GitOps.Namespace == "" {
			env.GitOps.Namespace = DefaultGitOpsNamespace
		}

		for i := range env.Jobs {
			env.Jobs[i].Poll = mergePoll(env.Poll, env.Jobs[i].Poll)
			if env.Jobs[i].Namespace == "" {
				env.Jobs[i].Namespace = "default"
			}
		}
	}
}

// mergePoll overlays non-zero override fields onto base
func mergePoll(base, override PollSettings) PollSettings {
	merged := base
	if override.Interval > 0 {
		merged.Interval = override.Interval
	}
	if override.Timeout > 0 {
		merged.Timeout = override.Timeout
	}
	return merged
}

// Validate checks the manifest shape. Prerequisite kinds are not
// checked here; the validator owns that so unknown kinds surface as
// validation findings rather than config errors.
func (m *Manifest) Validate() error { //nolint:gocognit,gocyclo // Shape validation walks every section
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d (this build reads version %d)", m.Version, ManifestVersion)
	}
	if len(m.Environments) == 0 {
		return fmt.Errorf("manifest declares no environments")
	}

	seenEnvs := make(map[string]bool)
	for _, env := range m.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment with empty name")
		}
		if seenEnvs[env.Name] {
			return fmt.Errorf("duplicate environment %q", env.Name)
		}
		seenEnvs[env.Name] = true

		if env.InfraDir == "" {
			return fmt.Errorf("environment %q: infra_dir is required", env.Name)
		}

		seenJobs := make(map[string]bool)
		for _, job := range env.Jobs {
			if job.Name == "" {
				return fmt.Errorf("environment %q: job with empty name", env.Name)
			}
			if seenJobs[job.Name] {
				return fmt.Errorf("environment %q: duplicate job %q", env.Name, job.Name)
			}
			seenJobs[job.Name] = true

			if job.Manifest == "" {
				return fmt.Errorf("environment %q: job %q has no manifest", env.Name, job.Name)
			}
			if job.Wave < 0 {
				return fmt.Errorf("environment %q: job %q has negative wave %d", env.Name, job.Name, job.Wave)
			}
		}

		seenApps := make(map[string]bool)
		for _, app := range env.Applications {
			if app.Name == "" {
				return fmt.Errorf("environment %q: application with empty name", env.Name)
			}
			if seenApps[app.Name] {
				return fmt.Errorf("environment %q: duplicate application %q", env.Name, app.Name)
			}
			seenApps[app.Name] = true

			if app.RepoURL == "" || app.Path == "" {
				return fmt.Errorf("environment %q: application %q needs repo_url and path", env.Name, app.Name)
			}
		}

		for i, prereq := range env.Prerequisites {
			if prereq.Kind == "" {
				return fmt.Errorf("environment %q: prerequisite %d has no kind", env.Name, i)
			}
		}

		if env.Confirm != "" && env.Confirm != ConfirmAlways {
			return fmt.Errorf("environment %q: unknown confirm policy %q", env.Name, env.Confirm)
		}
	}

	return nil
}

// UnknownEnvironmentError reports a lookup for an environment the
// manifest does not declare
type UnknownEnvironmentError struct {
	Name  string
	Known []string
}

func (e *UnknownEnvironmentError) Error() string {
	return fmt.Sprintf("unknown environment %q (manifest declares: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Environment returns the named environment declaration
func (m *Manifest) Environment(name string) (*Environment, error) {
	for _, env := range m.Environments {
		if env.Name == name {
			return env, nil
		}
	}
	return nil, &UnknownEnvironmentError{Name: name, Known: m.EnvironmentNames()}
}

// EnvironmentNames returns the declared environment names in manifest order
func (m *Manifest) EnvironmentNames() []string {
	names := make([]string, 0, len(m.Environments))
	for _, env := range m.Environments {
		names = append(names, env.Name)
	}
	return names
}

// JobSpecs returns the environment's jobs as scheduler specs, in
// declaration order
func (e *Environment) JobSpecs() []interfaces.JobSpec {
	specs := make([]interfaces.JobSpec, 0, len(e.Jobs))
	for _, job := range e.Jobs {
		specs = append(specs, interfaces.JobSpec{
			Name:         job.Name,
			Wave:         job.Wave,
			ManifestPath: job.Manifest,
			Namespace:    job.Namespace,
			PollInterval: job.Poll.Interval,
			PollTimeout:  job.Poll.Timeout,
		})
	}
	return specs
}

// AppSpecs returns the environment's applications as GitOps specs
func (e *Environment) AppSpecs() []interfaces.ApplicationSpec {
	specs := make([]interfaces.ApplicationSpec, 0, len(e.Applications))
	for _, app := range e.Applications {
		specs = append(specs, interfaces.ApplicationSpec{
			Name:           app.Name,
			RepoURL:        app.RepoURL,
			Path:           app.Path,
			TargetRevision: app.Revision,
			Namespace:      app.Namespace,
			Project:        app.Project,
			Parameters:     app.Parameters,
		})
	}
	return specs
}

// InfraVars returns the environment's terraform variable inputs
func (e *Environment) InfraVars() interfaces.InfraVars {
	return interfaces.InfraVars{
		Files:  e.VarFiles,
		Values: e.Variables,
	}
}
