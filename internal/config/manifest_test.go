package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleManifest = `
version: 1
poll:
  interval: 5s
  timeout: 2m
environments:
  - name: staging
    region: us-east-1
    infra_dir: infra/staging
    var_files:
      - staging.tfvars
    variables:
      node_count: "3"
    kube_context: staging-admin
    infra_poll:
      timeout: 40m
    gitops:
      install_manifest: manifests/argocd/install.yaml
      poll:
        timeout: 15m
    prerequisites:
      - kind: binary
        name: terraform
        min_version: 1.5.0
      - kind: credential
        name: aws
      - kind: file
        path: infra/staging/main.tf
    jobs:
      - name: schema-migrate
        wave: 1
        manifest: manifests/jobs/schema-migrate.yaml
        namespace: etl
      - name: seed-reference-data
        wave: 2
        manifest: manifests/jobs/seed-reference-data.yaml
        namespace: etl
        poll:
          interval: 2s
          timeout: 30m
    applications:
      - name: api
        repo_url: https://git.example.com/platform/deploy.git
        path: apps/api
        revision: main
        namespace: api
    verify:
      applications:
        - api
      resources:
        - kind: deployment
          name: api
          namespace: api
  - name: production
    region: us-west-2
    infra_dir: infra/production
`

func TestParseManifest(t *testing.T) {
	t.Parallel()
	manifest, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	if manifest.Version != 1 {
		t.Errorf("Expected version 1, got %d", manifest.Version)
	}
	if len(manifest.Environments) != 2 {
		t.Fatalf("Expected 2 environments, got %d", len(manifest.Environments))
	}

	staging := manifest.Environments[0]
	if staging.Name != "staging" {
		t.Errorf("Expected first environment 'staging', got %s", staging.Name)
	}
	if staging.Region != "us-east-1" {
		t.Errorf("Expected region us-east-1, got %s", staging.Region)
	}
	if staging.InfraDir != "infra/staging" {
		t.Errorf("Expected infra_dir infra/staging, got %s", staging.InfraDir)
	}
	if len(staging.Prerequisites) != 3 {
		t.Errorf("Expected 3 prerequisites, got %d", len(staging.Prerequisites))
	}
	if staging.Variables["node_count"] != "3" {
		t.Errorf("Expected variable node_count=3, got %q", staging.Variables["node_count"])
	}
}

func TestParseManifestDurations(t *testing.T) {
	t.Parallel()
	manifest, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	staging := manifest.Environments[0]

	// Manifest-level poll settings parsed as durations
	if manifest.Poll.Interval != 5*time.Second {
		t.Errorf("Expected manifest interval 5s, got %v", manifest.Poll.Interval)
	}
	if manifest.Poll.Timeout != 2*time.Minute {
		t.Errorf("Expected manifest timeout 2m, got %v", manifest.Poll.Timeout)
	}

	// infra_poll overrides only timeout; interval inherits
	if staging.InfraPoll.Timeout != 40*time.Minute {
		t.Errorf("Expected infra timeout 40m, got %v", staging.InfraPoll.Timeout)
	}
	if staging.InfraPoll.Interval != 5*time.Second {
		t.Errorf("Expected infra interval inherited 5s, got %v", staging.InfraPoll.Interval)
	}

	// gitops poll overrides timeout
	if staging.GitOps.Poll.Timeout != 15*time.Minute {
		t.Errorf("Expected gitops timeout 15m, got %v", staging.GitOps.Poll.Timeout)
	}
}

func TestParseManifestJobDefaults(t *testing.T) {
	t.Parallel()
	manifest, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	staging := manifest.Environments[0]
	if len(staging.Jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(staging.Jobs))
	}

	// First job inherits environment poll settings
	migrate := staging.Jobs[0]
	if migrate.Poll.Interval != 5*time.Second || migrate.Poll.Timeout != 2*time.Minute {
		t.Errorf("Expected inherited poll settings, got %+v", migrate.Poll)
	}

	// Second job overrides both
	seed := staging.Jobs[1]
	if seed.Poll.Interval != 2*time.Second || seed.Poll.Timeout != 30*time.Minute {
		t.Errorf("Expected overridden poll settings, got %+v", seed.Poll)
	}

	// GitOps namespace defaulted
	if staging.GitOps.Namespace != "argocd" {
		t.Errorf("Expected default gitops namespace argocd, got %s", staging.GitOps.Namespace)
	}
}

func TestParseManifestPollDefaultsWithoutOverrides(t *testing.T) {
	t.Parallel()
	minimal := `
version: 1
environments:
  - name: dev
    infra_dir: infra/dev
`
	manifest, err := ParseManifest([]byte(minimal))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	dev := manifest.Environments[0]
	if dev.Poll.Interval != 10*time.Second {
		t.Errorf("Expected default interval 10s, got %v", dev.Poll.Interval)
	}
	if dev.Poll.Timeout != 10*time.Minute {
		t.Errorf("Expected default timeout 10m, got %v", dev.Poll.Timeout)
	}
}

func TestParseManifestErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "wrong version",
			yaml:   "version: 99\nenvironments:\n  - name: dev\n    infra_dir: x\n",
			errMsg: "unsupported manifest version",
		},
		{
			name:   "no environments",
			yaml:   "version: 1\n",
			errMsg: "no environments",
		},
		{
			name:   "missing infra_dir",
			yaml:   "version: 1\nenvironments:\n  - name: dev\n",
			errMsg: "infra_dir is required",
		},
		{
			name: "duplicate environment",
			yaml: `version: 1
environments:
  - name: dev
    infra_dir: a
  - name: dev
    infra_dir: b
`,
			errMsg: "duplicate environment",
		},
		{
			name: "duplicate job",
			yaml: `version: 1
environments:
  - name: dev
    infra_dir: a
    jobs:
      - name: load
        manifest: m.yaml
      - name: load
        manifest: m.yaml
`,
			errMsg: "duplicate job",
		},
		{
			name: "job without manifest",
			yaml: `version: 1
environments:
  - name: dev
    infra_dir: a
    jobs:
      - name: load
`,
			errMsg: "has no manifest",
		},
		{
			name: "negative wave",
			yaml: `version: 1
environments:
  - name: dev
    infra_dir: a
    jobs:
      - name: load
        wave: -1
        manifest: m.yaml
`,
			errMsg: "negative wave",
		},
		{
			name: "application without repo",
			yaml: `version: 1
environments:
  - name: dev
    infra_dir: a
    applications:
      - name: api
`,
			errMsg: "needs repo_url and path",
		},
		{
			name:   "not yaml",
			yaml:   "{{{",
			errMsg: "failed to parse manifest YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseManifest([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLoadManifestFromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "flightdeck.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o600); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	manifest, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if len(manifest.Environments) != 2 {
		t.Errorf("Expected 2 environments, got %d", len(manifest.Environments))
	}

	if _, err := LoadManifest(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing manifest file")
	}
}

func TestEnvironmentLookup(t *testing.T) {
	t.Parallel()
	manifest, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}

	env, err := manifest.Environment("production")
	if err != nil {
		t.Fatalf("Environment lookup failed: %v", err)
	}
	if env.Name != "production" {
		t.Errorf("Expected production, got %s", env.Name)
	}

	_, err = manifest.Environment("nope")
	if err == nil {
		t.Fatal("Expected error for unknown environment")
	}
	var unknown *UnknownEnvironmentError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownEnvironmentError, got %T", err)
	}
	if unknown.Name != "nope" {
		t.Errorf("Expected name nope, got %q", unknown.Name)
	}
	if !strings.Contains(err.Error(), "staging, production") {
		t.Errorf("Expected known environments in error, got %q", err.Error())
	}
}

func TestEnvironmentConversions(t *testing.T) {
	t.Parallel()
	manifest, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	staging := manifest.Environments[0]

	jobs := staging.JobSpecs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 job specs, got %d", len(jobs))
	}
	if jobs[0].Name != "schema-migrate" || jobs[0].Wave != 1 {
		t.Errorf("Unexpected first job spec: %+v", jobs[0])
	}
	if jobs[0].ManifestPath != "manifests/jobs/schema-migrate.yaml" {
		t.Errorf("Unexpected manifest path: %s", jobs[0].ManifestPath)
	}
	if jobs[1].PollTimeout != 30*time.Minute {
		t.Errorf("Expected job poll timeout 30m, got %v", jobs[1].PollTimeout)
	}

	apps := staging.AppSpecs()
	if len(apps) != 1 {
		t.Fatalf("Expected 1 app spec, got %d", len(apps))
	}
	if apps[0].RepoURL != "https://git.example.com/platform/deploy.git" {
		t.Errorf("Unexpected app repo: %s", apps[0].RepoURL)
	}
	if apps[0].TargetRevision != "main" {
		t.Errorf("Unexpected app revision: %s", apps[0].TargetRevision)
	}

	vars := staging.InfraVars()
	if len(vars.Files) != 1 || vars.Files[0] != "staging.tfvars" {
		t.Errorf("Unexpected var files: %v", vars.Files)
	}
	if vars.Values["node_count"] != "3" {
		t.Errorf("Unexpected var values: %v", vars.Values)
	}
}
