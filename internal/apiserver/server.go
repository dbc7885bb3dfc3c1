// Package apiserver provides HTTP API endpoints and server functionality for flightdeck
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/flightdeck/flightdeck/internal/apiserver/handlers"
	customMiddleware "github.com/flightdeck/flightdeck/internal/apiserver/middleware"
	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/events"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/metrics"
	"github.com/flightdeck/flightdeck/internal/monitor"
	"github.com/flightdeck/flightdeck/internal/runs"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// APIServer provides HTTP API endpoints for run management
type APIServer struct {
	router     chi.Router
	server     *http.Server
	queue      interfaces.RunQueue
	tracker    interfaces.RunTracker
	workerPool interfaces.WorkerPool
	stateStore interfaces.StateStore
	locker     interfaces.EnvironmentLocker
	manifest   *config.Manifest
	runService *runs.Service
	collector  *metrics.Collector
	monitor    *monitor.StaleRunMonitor
	config     *config.Config
	logger     *logging.Logger
}

// Components bundles the run system pieces the server is built from.
// Queue, Tracker, WorkerPool, StateStore, and Manifest are required;
// the rest are optional.
type Components struct {
	Queue      interfaces.RunQueue
	Tracker    interfaces.RunTracker
	WorkerPool interfaces.WorkerPool
	StateStore interfaces.StateStore
	Locker     interfaces.EnvironmentLocker
	Manifest   *config.Manifest
	Collector  *metrics.Collector
	EventBus   *events.EventBus
	Monitor    *monitor.StaleRunMonitor
}

// NewAPIServer creates a new API server over the given components
//
//nolint:funlen // Constructor function with many dependency injections - complexity is necessary
func NewAPIServer(cfg *config.Config, components Components) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if components.Queue == nil {
		return nil, fmt.Errorf("run queue is required")
	}
	if components.Tracker == nil {
		return nil, fmt.Errorf("run tracker is required")
	}
	if components.WorkerPool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}
	if components.StateStore == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if components.Manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}

	collector := components.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}

	runService, err := runs.NewService(runs.ServiceConfig{
		Queue:     components.Queue,
		Tracker:   components.Tracker,
		Manifest:  components.Manifest,
		Collector: collector,
		EventBus:  components.EventBus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run service: %w", err)
	}

	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID) // Generate unique request ID for tracing
	router.Use(middleware.RealIP)    // Get real client IP for logging
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes) // Remove trailing slashes for consistent routing
	router.Use(middleware.Timeout(RequestTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}

	apiServer := &APIServer{
		router:     router,
		server:     server,
		queue:      components.Queue,
		tracker:    components.Tracker,
		workerPool: components.WorkerPool,
		stateStore: components.StateStore,
		locker:     components.Locker,
		manifest:   components.Manifest,
		runService: runService,
		collector:  collector,
		monitor:    components.Monitor,
		config:     cfg,
		logger:     logging.NewLogger("apiserver"),
	}

	if err := apiServer.setupRoutes(); err != nil {
		return nil, err
	}

	// Add global 404 handler that returns JSON instead of HTML
	// Set after routes to ensure it's the fallback
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apiServer.writeError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
	})

	return apiServer, nil
}

// RunService returns the run service instance
func (s *APIServer) RunService() *runs.Service {
	return s.runService
}

// setupRoutes wires the API routes and their validators
func (s *APIServer) setupRoutes() error {
	runHandler, err := handlers.NewRunHandler(s.runService)
	if err != nil {
		return fmt.Errorf("failed to create run handler: %w", err)
	}

	environmentHandler, err := handlers.NewEnvironmentHandler(s.manifest, s.stateStore, s.runService)
	if err != nil {
		return fmt.Errorf("failed to create environment handler: %w", err)
	}

	s.router.Route(APIPrefix, func(r chi.Router) {
		// Set 404 handler for this subrouter
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			s.writeError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
		})

		// Apply content type validation to all endpoints
		r.Use(customMiddleware.ContentTypeValidator())

		// Run endpoints using handlers with validation
		r.Route("/runs", func(r chi.Router) {
			r.With(customMiddleware.EnvironmentValidator(), customMiddleware.OperationValidator()).
				Post("/", runHandler.CreateRun)

			r.Get("/", runHandler.ListRuns)

			r.Route("/{id}", func(r chi.Router) {
				// Apply ID validation to all endpoints with {id} parameter
				r.Use(customMiddleware.IDValidator("id"))

				r.Get("/", runHandler.GetRun)
				r.Delete("/", runHandler.CancelRun)
			})
		})

		// Environment endpoints
		r.Route("/environments", func(r chi.Router) {
			r.Get("/", environmentHandler.ListEnvironments)

			r.Route("/{name}", func(r chi.Router) {
				r.Use(customMiddleware.EnvironmentParamValidator("name"))

				r.Get("/", environmentHandler.GetEnvironment)
			})
		})

		// Queue and system endpoints (no special validation needed)
		r.Get("/queue/metrics", s.getQueueMetrics)
		r.Get("/system/health", s.getSystemHealth)
		r.Get("/system/metrics", s.getSystemMetricsReport)

		// Operational endpoints
		opsHandler := handlers.NewOperationsHandler(s.config, s.stateStore, s.workerPool, s.queue)
		opsHandler.RegisterRoutes(r)
	})

	// Add Swagger UI endpoint
	s.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", s.config.Port)),
	))

	return nil
}

// writeError writes a structured error response
func (s *APIServer) writeError(w http.ResponseWriter, status int, code string, message string) {
	response := map[string]string{
		"error":   code,
		"message": message,
	}

	jsonData, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error: failed to encode error response"))
		s.logger.Errorf("Failed to encode error response: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(jsonData); err != nil {
		s.logger.Errorf("Failed to write error response: %v", err)
	}
}

// getQueueMetrics returns queue metrics
// @Summary Get queue metrics
// @Description Get metrics about the run queue
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Queue metrics"
// @Router /queue/metrics [get]
func (s *APIServer) getQueueMetrics(w http.ResponseWriter, _ *http.Request) {
	queueMetrics := s.runService.GetQueueMetrics()

	response := map[string]interface{}{
		"total_enqueued":    queueMetrics.TotalEnqueued,
		"total_dequeued":    queueMetrics.TotalDequeued,
		"current_depth":     queueMetrics.CurrentDepth,
		"average_wait_time": queueMetrics.AverageWaitTime.String(),
		"oldest_run":        queueMetrics.OldestRun.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

// getSystemMetricsReport returns aggregated run system metrics
// @Summary Get system metrics
// @Description Get aggregated metrics for runs, steps, jobs, and the queue
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "System metrics"
// @Router /system/metrics [get]
func (s *APIServer) getSystemMetricsReport(w http.ResponseWriter, _ *http.Request) {
	// Refresh the gauges the collector cannot observe on its own
	queueMetrics := s.queue.GetMetrics()
	s.collector.UpdateQueueDepth(queueMetrics.CurrentDepth)

	systemMetrics := s.collector.GetSystemMetrics()

	response := map[string]interface{}{
		"runs": map[string]interface{}{
			"processed": systemMetrics.RunsProcessed,
			"succeeded": systemMetrics.RunsSucceeded,
			"failed":    systemMetrics.RunsFailed,
			"canceled":  systemMetrics.RunsCanceled,
		},
		"steps": map[string]interface{}{
			"retried": systemMetrics.StepsRetried,
		},
		"jobs": map[string]interface{}{
			"failed": systemMetrics.JobsFailed,
		},
		"queue": map[string]interface{}{
			"current_depth":  queueMetrics.CurrentDepth,
			"total_enqueued": queueMetrics.TotalEnqueued,
			"total_dequeued": queueMetrics.TotalDequeued,
		},
		"average_run_time": systemMetrics.AverageRunTime.String(),
		"active_workers":   systemMetrics.ActiveWorkers,
		"uptime":           systemMetrics.SystemUptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

// componentHealth represents the health status of a system component
type componentHealth struct {
	Status  string
	Details map[string]interface{}
	Healthy bool
}

// getSystemHealth returns system health status
// @Summary Health check
// @Description Check if the API server is running and healthy
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Service is healthy"
// @Success 503 {object} map[string]interface{} "Service unhealthy"
// @Router /system/health [get]
func (s *APIServer) getSystemHealth(w http.ResponseWriter, r *http.Request) {
	queueHealth := s.checkQueueHealth()
	trackerHealth := s.checkTrackerHealth()
	workerPoolHealth := s.checkWorkerPoolHealth()
	stateStoreHealth := s.checkStateStoreHealth(r.Context())

	overallHealthy := queueHealth.Healthy && trackerHealth.Healthy &&
		workerPoolHealth.Healthy && stateStoreHealth.Healthy

	componentDetails := map[string]interface{}{
		string(interfaces.ComponentRunQueue):   queueHealth.Details,
		string(interfaces.ComponentRunTracker): trackerHealth.Details,
		string(interfaces.ComponentWorkerPool): workerPoolHealth.Details,
		string(interfaces.ComponentStateStore): stateStoreHealth.Details,
	}

	// The locker is optional; include it only when wired
	if s.locker != nil {
		lockerHealth := s.checkLockerHealth(r.Context())
		componentDetails[string(interfaces.ComponentLocker)] = lockerHealth.Details
		overallHealthy = overallHealthy && lockerHealth.Healthy
	}

	systemStats := s.runtimeStats()

	s.sendHealthResponse(w, overallHealthy, componentDetails, systemStats)
}

// checkQueueHealth checks the health of the queue component
func (s *APIServer) checkQueueHealth() componentHealth {
	if s.queue == nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": "Queue not initialized",
			},
			Healthy: false,
		}
	}

	queueMetrics := s.queue.GetMetrics()
	details := map[string]interface{}{
		"status":   "healthy",
		"depth":    queueMetrics.CurrentDepth,
		"enqueued": queueMetrics.TotalEnqueued,
		"dequeued": queueMetrics.TotalDequeued,
	}

	// Check if queue depth is too high
	healthy := true
	if queueMetrics.CurrentDepth > QueueDepthWarningThreshold {
		details["status"] = "warning"
		details["message"] = "Queue depth is high"
		healthy = false
	}

	return componentHealth{
		Status:  details["status"].(string),
		Details: details,
		Healthy: healthy,
	}
}

// checkTrackerHealth checks the health of the tracker component
func (s *APIServer) checkTrackerHealth() componentHealth {
	if s.tracker == nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": "Tracker not initialized",
			},
			Healthy: false,
		}
	}

	// Try to list recent runs to verify the tracker is working
	recent, err := s.tracker.List(interfaces.RunFilter{
		CreatedAfter: time.Now().Add(-1 * time.Minute),
	})
	if err != nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": fmt.Sprintf("Failed to query tracker: %v", err),
			},
			Healthy: false,
		}
	}

	return componentHealth{
		Status: "healthy",
		Details: map[string]interface{}{
			"status":      "healthy",
			"recent_runs": len(recent),
		},
		Healthy: true,
	}
}

// checkWorkerPoolHealth checks the health of the worker pool
func (s *APIServer) checkWorkerPoolHealth() componentHealth {
	if s.workerPool == nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": "Worker pool not initialized",
			},
			Healthy: false,
		}
	}

	details := map[string]interface{}{
		"status": "healthy",
	}

	// Add counts when the pool exposes them. Pools that need a network
	// round trip for stats deliberately do not implement this.
	if pool, ok := s.workerPool.(interface {
		GetWorkerCount() int
		GetQueuedCount() int
	}); ok {
		details["workers"] = pool.GetWorkerCount()
		details["queued"] = pool.GetQueuedCount()
	}

	return componentHealth{
		Status:  "healthy",
		Details: details,
		Healthy: true,
	}
}

// checkStateStoreHealth checks the health of the state store
func (s *APIServer) checkStateStoreHealth(ctx context.Context) componentHealth {
	if s.stateStore == nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": "State store not initialized",
			},
			Healthy: false,
		}
	}

	// Try a simple operation to verify connectivity
	pingCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	if err := s.stateStore.Ping(pingCtx); err != nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": fmt.Sprintf("State store connectivity issue: %v", err),
			},
			Healthy: false,
		}
	}

	return componentHealth{
		Status: "healthy",
		Details: map[string]interface{}{
			"status": "healthy",
		},
		Healthy: true,
	}
}

// checkLockerHealth checks the health of the environment locker
func (s *APIServer) checkLockerHealth(ctx context.Context) componentHealth {
	details := map[string]interface{}{
		"status": "healthy",
	}

	// Lockers backed by a remote table can report connectivity
	if checker, ok := s.locker.(interfaces.HealthChecker); ok {
		checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
		defer cancel()
		if err := checker.CheckHealth(checkCtx); err != nil {
			return componentHealth{
				Status: "unhealthy",
				Details: map[string]interface{}{
					"status":  "unhealthy",
					"message": fmt.Sprintf("Locker connectivity issue: %v", err),
				},
				Healthy: false,
			}
		}
	}

	return componentHealth{
		Status:  "healthy",
		Details: details,
		Healthy: true,
	}
}

// runtimeStats returns current process statistics
func (s *APIServer) runtimeStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"gc_count": m.NumGC,
		},
	}
}

// sendHealthResponse sends the health check response
func (s *APIServer) sendHealthResponse(w http.ResponseWriter, healthy bool, components, system map[string]interface{}) {
	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	response := map[string]interface{}{
		"status":     status,
		"time":       time.Now().Format(time.RFC3339),
		"components": components,
		"system":     system,
		"version": map[string]interface{}{
			"api": APIVersion,
		},
	}

	statusCode := http.StatusOK
	if !healthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

// Start starts the API server
func (s *APIServer) Start() error {
	if s.monitor != nil {
		if err := s.monitor.Start(); err != nil {
			s.logger.Warnf("Failed to start stale run monitor: %v", err)
		}
	}

	s.logger.Infof("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Router returns the HTTP router for testing
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Infof("Shutting down API server...")

	if s.monitor != nil {
		if err := s.monitor.Stop(ctx); err != nil {
			s.logger.Warnf("Warning: failed to stop stale run monitor: %v", err)
		}
	}

	// Stop worker pool if present
	if s.workerPool != nil {
		if err := s.workerPool.Stop(ctx); err != nil {
			s.logger.Warnf("Warning: failed to stop worker pool: %v", err)
		}
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
