package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/flightdeck/flightdeck/internal/apiserver/types"
	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/runs"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// maxRecentRuns caps the run history attached to an environment detail
const maxRecentRuns = 20

// EnvironmentHandler serves the manifest's environment declarations
// enriched with persisted deployment state and run history
type EnvironmentHandler struct {
	manifest   *config.Manifest
	stateStore interfaces.StateStore
	runService *runs.Service
	logger     *logging.Logger
}

// NewEnvironmentHandler creates a new environment handler
func NewEnvironmentHandler(
	manifest *config.Manifest,
	stateStore interfaces.StateStore,
	runService *runs.Service,
) (*EnvironmentHandler, error) {
	if manifest == nil {
		return nil, errors.New("manifest is required")
	}
	if stateStore == nil {
		return nil, errors.New("state store is required")
	}
	return &EnvironmentHandler{
		manifest:   manifest,
		stateStore: stateStore,
		runService: runService,
		logger:     logging.NewLogger("environment-handler"),
	}, nil
}

// ListEnvironments returns every environment the manifest declares
// @Summary List environments
// @Description List declared environments with their persisted deployment state
// @Tags environments
// @Accept json
// @Produce json
// @Success 200 {array} map[string]interface{} "List of environments"
// @Router /environments [get]
func (h *EnvironmentHandler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	response := make([]map[string]interface{}, 0, len(h.manifest.Environments))
	for _, env := range h.manifest.Environments {
		entry := map[string]interface{}{
			"name":          env.Name,
			"region":        env.Region,
			"infra_dir":     env.InfraDir,
			"jobs":          len(env.Jobs),
			"applications":  len(env.Applications),
			"prerequisites": len(env.Prerequisites),
		}
		h.attachRecord(r, entry, env.Name)
		response = append(response, entry)
	}

	writeJSON(w, http.StatusOK, response)
}

// GetEnvironment returns one environment's declaration, record, and
// recent runs
// @Summary Get environment details
// @Description Retrieve one environment's declaration, persisted state, and recent runs
// @Tags environments
// @Accept json
// @Produce json
// @Param name path string true "Environment name"
// @Success 200 {object} map[string]interface{} "Environment details"
// @Failure 404 {object} map[string]interface{} "Environment not found"
// @Router /environments/{name} [get]
func (h *EnvironmentHandler) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	env, err := h.manifest.Environment(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_environment", err.Error())
		return
	}

	response := map[string]interface{}{
		"name":         env.Name,
		"region":       env.Region,
		"infra_dir":    env.InfraDir,
		"kube_context": env.KubeContext,
		"confirm":      env.Confirm,
	}

	jobs := make([]map[string]interface{}, 0, len(env.Jobs))
	for _, job := range env.Jobs {
		jobs = append(jobs, map[string]interface{}{
			"name":      job.Name,
			"wave":      job.Wave,
			"namespace": job.Namespace,
		})
	}
	response["jobs"] = jobs

	applications := make([]map[string]interface{}, 0, len(env.Applications))
	for _, app := range env.Applications {
		applications = append(applications, map[string]interface{}{
			"name":     app.Name,
			"repo_url": app.RepoURL,
			"path":     app.Path,
			"revision": app.Revision,
		})
	}
	response["applications"] = applications

	prerequisites := make([]map[string]interface{}, 0, len(env.Prerequisites))
	for _, prereq := range env.Prerequisites {
		prerequisites = append(prerequisites, map[string]interface{}{
			"kind": prereq.Kind,
			"name": prereq.Name,
		})
	}
	response["prerequisites"] = prerequisites

	h.attachRecord(r, response, env.Name)
	h.attachRecentRuns(response, env.Name)

	writeJSON(w, http.StatusOK, response)
}

// attachRecord adds the persisted environment record when one exists.
// Store failures degrade to omitting the record.
func (h *EnvironmentHandler) attachRecord(r *http.Request, entry map[string]interface{}, name string) {
	record, err := h.stateStore.LoadRecord(r.Context(), name)
	switch {
	case err == nil:
		entry["record"] = map[string]interface{}{
			"operation":       string(record.Operation),
			"last_step_index": record.LastStepIndex,
			"last_step_name":  record.LastStepName,
			"updated_at":      record.UpdatedAt,
		}
	case errors.Is(err, interfaces.ErrRecordNotFound):
		entry["record"] = nil
	default:
		h.logger.Warnf("Failed to load record for environment %s: %v", name, err)
	}
}

// attachRecentRuns adds the environment's newest runs when a run
// service is wired
func (h *EnvironmentHandler) attachRecentRuns(response map[string]interface{}, name string) {
	if h.runService == nil {
		return
	}

	listed, err := h.runService.ListRuns(interfaces.RunFilter{Environment: name})
	if err != nil {
		h.logger.Warnf("Failed to list runs for environment %s: %v", name, err)
		return
	}

	sort.Slice(listed, func(i, j int) bool {
		return listed[i].CreatedAt.After(listed[j].CreatedAt)
	})
	if len(listed) > maxRecentRuns {
		listed = listed[:maxRecentRuns]
	}

	recent := make([]types.RunView, 0, len(listed))
	for _, run := range listed {
		recent = append(recent, types.NewRunView(run))
	}
	response["recent_runs"] = recent
}
