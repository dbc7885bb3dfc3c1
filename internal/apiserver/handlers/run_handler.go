// Package handlers provides HTTP request handlers for the API server.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flightdeck/flightdeck/internal/apiserver/types"
	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/runs"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// Package-level logger for global functions
var logger = logging.NewLogger("run-handler")

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON safely writes JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding_error", "Failed to encode response")
		logger.Errorf("JSON encoding error: %v, data: %+v", err, data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(jsonData); err != nil {
		logger.Errorf("Failed to write response body: %v", err)
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	response := ErrorResponse{
		Error:   code,
		Message: message,
	}

	jsonData, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error: failed to encode error response"))
		logger.Errorf("Failed to encode error response: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(jsonData); err != nil {
		logger.Errorf("Failed to write error response: %v", err)
	}
}

// Error constants for run submissions
var (
	ErrMissingEnvironment = errors.New("environment is required")
	ErrMissingOperation   = errors.New("operation is required")
)

// RunHandler handles run-related HTTP requests
type RunHandler struct {
	runService *runs.Service
	logger     *logging.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runService *runs.Service) (*RunHandler, error) {
	if runService == nil {
		return nil, errors.New("run service is required")
	}
	return &RunHandler{
		runService: runService,
		logger:     logging.NewLogger("run-handler"),
	}, nil
}

// CreateRun submits a new pipeline run
// @Summary Submit new run
// @Description Queue a deploy, destroy, or single-step run for an environment
// @Tags runs
// @Accept json
// @Produce json
// @Param run body types.RunSubmission true "Run submission"
// @Success 201 {object} map[string]interface{} "Run queued successfully"
// @Failure 400 {object} map[string]interface{} "Bad request"
// @Failure 409 {object} map[string]interface{} "Run already queued"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [post]
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req types.RunSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON in request body")
		return
	}

	if err := h.validateRunSubmission(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	run, err := h.runService.CreateRun(r.Context(), req.ToRunRequest(), runs.CreateOptions{
		RunID:     req.RunID,
		RequestID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	response := map[string]interface{}{
		"id":          run.ID,
		"request_id":  run.RequestID,
		"environment": run.Request.Environment,
		"operation":   string(run.Request.Operation),
		"status":      string(run.Status),
		"created_at":  run.CreatedAt,
	}

	metrics := h.runService.GetQueueMetrics()
	response["queue_info"] = map[string]interface{}{
		"queue_depth":       metrics.CurrentDepth,
		"average_wait_time": metrics.AverageWaitTime.Seconds(),
	}

	writeJSON(w, http.StatusCreated, response)
}

// writeCreateError maps run creation failures onto HTTP statuses
func (h *RunHandler) writeCreateError(w http.ResponseWriter, err error) {
	var unknownEnv *config.UnknownEnvironmentError
	switch {
	case errors.As(err, &unknownEnv):
		writeError(w, http.StatusBadRequest, "unknown_environment", err.Error())
	case errors.Is(err, interfaces.ErrRunAlreadyQueued):
		writeError(w, http.StatusConflict, "run_conflict", err.Error())
	case isSubmissionError(err):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "run_failed", err.Error())
	}
}

// isSubmissionError recognizes the service's request-shape failures so
// they come back as 400s rather than 500s
func isSubmissionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "step ordinal") ||
		strings.Contains(msg, "unknown operation") ||
		strings.Contains(msg, "is required")
}

// validateRunSubmission enforces field presence. Shape validation
// happens in middleware; depth validation happens in the service.
func (h *RunHandler) validateRunSubmission(req *types.RunSubmission) error {
	if req.Environment == "" {
		return ErrMissingEnvironment
	}
	if req.Operation == "" {
		return ErrMissingOperation
	}
	return nil
}

// GetRun retrieves a run by ID
// @Summary Get run details
// @Description Retrieve a run, including its result once it has finished
// @Tags runs
// @Accept json
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} types.RunView "Run details"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id} [get]
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	run, err := h.runService.GetRun(runID)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		} else {
			writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		}
		return
	}

	view := types.NewRunView(run)

	// Attach the result when one exists; a lookup failure degrades to
	// the bare run rather than failing the request
	result, err := h.runService.GetRunResult(runID)
	if err != nil {
		h.logger.Warnf("Failed to get result for run %s: %v", runID, err)
	} else {
		view.Result = types.NewRunResultView(result)
	}

	writeJSON(w, http.StatusOK, view)
}

// ListRuns retrieves runs matching the query
// @Summary List runs
// @Description Retrieve runs, optionally filtered by environment and status
// @Tags runs
// @Accept json
// @Produce json
// @Param environment query string false "Filter by environment"
// @Param status query string false "Filter by status (comma-separated)"
// @Success 200 {array} types.RunView "List of runs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [get]
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := interfaces.RunFilter{
		Environment: r.URL.Query().Get("environment"),
	}
	if statuses := r.URL.Query().Get("status"); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			filter.Status = append(filter.Status, interfaces.RunStatus(strings.TrimSpace(status)))
		}
	}

	listed, err := h.runService.ListRuns(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}

	// Newest first
	sort.Slice(listed, func(i, j int) bool {
		return listed[i].CreatedAt.After(listed[j].CreatedAt)
	})

	response := make([]types.RunView, 0, len(listed))
	for _, run := range listed {
		response = append(response, types.NewRunView(run))
	}

	writeJSON(w, http.StatusOK, response)
}

// CancelRun cancels a queued run
// @Summary Cancel run
// @Description Cancel a run that has not started executing yet
// @Tags runs
// @Accept json
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Run canceled"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Failure 409 {object} map[string]interface{} "Run not cancelable"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs/{id} [delete]
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	if err := h.runService.CancelRun(r.Context(), runID); err != nil {
		switch {
		case errors.Is(err, runs.ErrRunNotFound):
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		case errors.Is(err, runs.ErrRunNotCancelable):
			writeError(w, http.StatusConflict, "not_cancelable", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     runID,
		"status": "canceled",
	})
}
