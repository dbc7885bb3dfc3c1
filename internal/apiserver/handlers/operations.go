package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/internal/utils/fsutil"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// Disk usage alert thresholds, in percent
const (
	diskWarningPercent  = 80.0
	diskCriticalPercent = 90.0
)

// OperationsHandler handles operational endpoints like config, paths,
// and runtime statistics
type OperationsHandler struct {
	config     *config.Config
	stateStore interfaces.StateStore
	workerPool interfaces.WorkerPool
	queue      interfaces.RunQueue
	logger     *logging.Logger
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(
	cfg *config.Config,
	stateStore interfaces.StateStore,
	workerPool interfaces.WorkerPool,
	queue interfaces.RunQueue,
) *OperationsHandler {
	return &OperationsHandler{
		config:     cfg,
		stateStore: stateStore,
		workerPool: workerPool,
		queue:      queue,
		logger:     logging.NewLogger("operations-handler"),
	}
}

// RegisterRoutes registers all operational routes
func (h *OperationsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/system/config", h.GetConfig)
	r.Get("/system/paths", h.GetPaths)
	r.Get("/system/storage", h.GetStorageInfo)
	r.Get("/system/runtime", h.GetRuntimeInfo)
	r.Get("/system/disk-usage", h.GetDiskUsage)
}

// GetConfig returns the current server configuration
// @Summary Get server configuration
// @Description Get the current server configuration (sanitized)
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Server configuration"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /system/config [get]
func (h *OperationsHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	// Return sanitized configuration
	safeCfg := h.config.GetSanitized()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(safeCfg); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to encode configuration")
	}
}

// GetPaths returns path health status without exposing sensitive information
// @Summary Get system paths
// @Description Get configured system paths and their health status
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Path information"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /system/paths [get]
func (h *OperationsHandler) GetPaths(w http.ResponseWriter, _ *http.Request) {
	// Only expose health status, not actual paths
	status := map[string]interface{}{
		"state_storage": map[string]interface{}{
			"configured": h.config.StateDir != "",
			"healthy":    fsutil.DirExists(h.config.StateDir) && fsutil.IsWritable(h.config.StateDir),
		},
		"manifest": map[string]interface{}{
			"configured": h.config.ManifestPath != "",
		},
		"logging": map[string]interface{}{
			"configured": h.config.GetLogPath() != "",
			"type":       "file",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to encode path status")
	}
}

// GetStorageInfo returns information about the storage backend
// @Summary Get storage information
// @Description Get state store backend information
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Storage information"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /system/storage [get]
func (h *OperationsHandler) GetStorageInfo(w http.ResponseWriter, r *http.Request) {
	storeInfo := map[string]interface{}{
		"type": h.config.StateStore.Type,
	}

	if h.stateStore != nil {
		pingErr := h.stateStore.Ping(r.Context())
		storeInfo["reachable"] = pingErr == nil

		if pingErr == nil {
			if environments, err := h.stateStore.ListEnvironments(r.Context()); err == nil {
				storeInfo["environment_count"] = len(environments)
			}
		}
	}

	info := map[string]interface{}{
		"state_store": storeInfo,
	}

	// Add disk space percentages only (no paths)
	diskSpace := make(map[string]interface{})
	if stateUsage, err := fsutil.GetDiskUsageMap(h.config.StateDir); err == nil {
		if percent, ok := stateUsage["used_percent"].(float64); ok {
			diskSpace["state_storage"] = map[string]interface{}{
				"used_percent": percent,
			}
		}
	}
	info["disk_space"] = diskSpace

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to encode storage info")
	}
}

// GetRuntimeInfo returns runtime information about the server
// @Summary Get runtime information
// @Description Get runtime statistics and metrics
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Runtime information"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /system/runtime [get]
func (h *OperationsHandler) GetRuntimeInfo(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	info := map[string]interface{}{
		"go_version":     runtime.Version(),
		"num_goroutines": runtime.NumGoroutine(),
		"num_cpu":        runtime.NumCPU(),
		"memory": map[string]interface{}{
			"alloc_mb":       m.Alloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"sys_mb":         m.Sys / 1024 / 1024,
			"gc_runs":        m.NumGC,
		},
		"config": map[string]interface{}{
			"port":        h.config.Port,
			"debug":       h.config.Debug,
			"daemon_mode": h.config.DaemonMode,
		},
	}

	// Add worker pool counts when the pool exposes them
	if h.workerPool != nil {
		if pool, ok := h.workerPool.(interface {
			GetWorkerCount() int
			GetQueuedCount() int
		}); ok {
			info["worker_pool"] = map[string]interface{}{
				"workers": pool.GetWorkerCount(),
				"queued":  pool.GetQueuedCount(),
			}
		}
	}

	// Add queue info if available
	if h.queue != nil {
		if queue, ok := h.queue.(interface {
			Size() int
		}); ok {
			info["queue"] = map[string]interface{}{
				"size": queue.Size(),
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to encode runtime info")
	}
}

// GetDiskUsage returns current disk usage without exposing paths
// @Summary Get disk usage
// @Description Get disk usage statistics
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Disk usage information"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /system/disk-usage [get]
func (h *OperationsHandler) GetDiskUsage(w http.ResponseWriter, _ *http.Request) {
	usage := map[string]interface{}{
		"storage": make(map[string]interface{}),
		"thresholds": map[string]float64{
			"warning":  diskWarningPercent,
			"critical": diskCriticalPercent,
		},
	}

	// Check each configured storage area without exposing paths
	storageAreas := map[string]string{
		"state": h.config.StateDir,
	}

	alerts := []map[string]interface{}{}
	for name, path := range storageAreas {
		if path == "" {
			continue
		}

		diskUsage, err := fsutil.GetDiskUsageMap(path)
		if err != nil {
			continue
		}
		percentUsed, ok := diskUsage["used_percent"].(float64)
		if !ok {
			continue
		}

		storageInfo := map[string]interface{}{
			"used_percent": percentUsed,
		}

		switch {
		case percentUsed >= diskCriticalPercent:
			storageInfo["status"] = "critical"
			alerts = append(alerts, diskAlert(name, "critical", percentUsed))
		case percentUsed >= diskWarningPercent:
			storageInfo["status"] = "warning"
			alerts = append(alerts, diskAlert(name, "warning", percentUsed))
		default:
			storageInfo["status"] = "healthy"
		}

		usage["storage"].(map[string]interface{})[name] = storageInfo
	}

	usage["alerts"] = alerts
	usage["alert_count"] = len(alerts)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(usage); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to encode disk usage")
	}
}

func diskAlert(storage, level string, percent float64) map[string]interface{} {
	return map[string]interface{}{
		"storage": storage,
		"level":   level,
		"percent": percent,
		"message": fmt.Sprintf("%s storage is %.1f%% full", storage, percent),
	}
}

// Helper method to write errors
func (h *OperationsHandler) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	}); err != nil {
		h.logger.Errorf("Failed to encode error response: %v", err)
	}
}
