// Package monitoring watches disk usage under the directories
// flightdeck writes to and raises alerts before they fill up.
package monitoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flightdeck/flightdeck/internal/config"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// DiskUsageChecker reports disk usage for a path (allows mocking)
type DiskUsageChecker interface {
	GetDiskUsage(path string) *DiskUsage
}

// DefaultDiskUsageChecker implements DiskUsageChecker via syscall
type DefaultDiskUsageChecker struct{}

// GetDiskUsage returns disk usage for a path
func (d *DefaultDiskUsageChecker) GetDiskUsage(path string) *DiskUsage {
	return getDiskUsage(path)
}

// MockDiskUsageChecker is a DiskUsageChecker for tests
type MockDiskUsageChecker struct {
	mu        sync.RWMutex
	usageData map[string]*DiskUsage
}

// NewMockDiskUsageChecker creates a mock disk usage checker
func NewMockDiskUsageChecker() *MockDiskUsageChecker {
	return &MockDiskUsageChecker{
		usageData: make(map[string]*DiskUsage),
	}
}

// GetDiskUsage returns mocked disk usage for a path. Unmocked paths
// report a half-full disk so they never trip an alert.
func (m *MockDiskUsageChecker) GetDiskUsage(path string) *DiskUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if usage, ok := m.usageData[path]; ok {
		return usage
	}
	return &DiskUsage{
		TotalBytes:  100 * 1024 * 1024 * 1024,
		FreeBytes:   50 * 1024 * 1024 * 1024,
		UsedBytes:   50 * 1024 * 1024 * 1024,
		PercentUsed: 50.0,
	}
}

// SetDiskUsage sets mocked disk usage for a path
func (m *MockDiskUsageChecker) SetDiskUsage(path string, percentUsed float64, freeBytes, totalBytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.usageData[path] = &DiskUsage{
		TotalBytes:  totalBytes,
		FreeBytes:   freeBytes,
		UsedBytes:   totalBytes - freeBytes,
		PercentUsed: percentUsed,
	}
}

// DiskMonitor periodically checks disk usage for the configured
// directories: state, record store, logs, and the PID file location
type DiskMonitor struct {
	config         *config.Config
	alertThreshold float64
	warnThreshold  float64
	checkInterval  time.Duration
	mu             sync.RWMutex
	lastCheck      time.Time
	alerts         []DiskAlert
	diskChecker    DiskUsageChecker
	logger         *logging.Logger
}

// DiskAlert represents a disk usage alert
type DiskAlert struct {
	Path        string
	Level       AlertLevel
	PercentUsed float64
	FreeBytes   uint64
	TotalBytes  uint64
	Message     string
	Timestamp   time.Time
}

// AlertLevel represents the severity of an alert
type AlertLevel string

const (
	// AlertLevelWarning indicates the warning threshold was exceeded
	AlertLevelWarning AlertLevel = "warning"
	// AlertLevelCritical indicates the critical threshold was exceeded
	AlertLevelCritical AlertLevel = "critical"
)

const (
	defaultWarnThreshold  = 80.0
	defaultAlertThreshold = 90.0
	defaultCheckInterval  = 5 * time.Minute
)

// NewDiskMonitor creates a disk monitor over the configured paths
func NewDiskMonitor(cfg *config.Config) *DiskMonitor {
	monitor := &DiskMonitor{
		config:         cfg,
		alertThreshold: defaultAlertThreshold,
		warnThreshold:  defaultWarnThreshold,
		checkInterval:  defaultCheckInterval,
		alerts:         make([]DiskAlert, 0),
		diskChecker:    &DefaultDiskUsageChecker{},
		logger:         logging.NewLogger("disk-monitor"),
	}

	// Test runs use the mock checker so a genuinely full CI disk does
	// not produce alert noise
	if os.Getenv("FLIGHTDECK_TEST_MODE") == "true" {
		monitor.diskChecker = NewMockDiskUsageChecker()
	}

	return monitor
}

// Start checks immediately and then on every tick until the context is
// canceled
func (m *DiskMonitor) Start(ctx context.Context) {
	m.checkDiskSpace()

	m.mu.RLock()
	interval := m.checkInterval
	m.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			currentInterval := m.checkInterval
			m.mu.RUnlock()

			if currentInterval != interval {
				ticker.Stop()
				ticker = time.NewTicker(currentInterval)
				interval = currentInterval
			}

			m.checkDiskSpace()
		}
	}
}

// SetThresholds sets the warning and critical thresholds
func (m *DiskMonitor) SetThresholds(warn, alert float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnThreshold = warn
	m.alertThreshold = alert
}

// SetCheckInterval sets how often to check disk usage
func (m *DiskMonitor) SetCheckInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkInterval = interval
}

// SetDiskChecker sets the disk usage checker (for testing)
func (m *DiskMonitor) SetDiskChecker(checker DiskUsageChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diskChecker = checker
}

// GetAlerts returns a copy of the current alerts
func (m *DiskMonitor) GetAlerts() []DiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]DiskAlert, len(m.alerts))
	copy(alerts, m.alerts)
	return alerts
}

// GetLastCheck returns when disk usage was last checked
func (m *DiskMonitor) GetLastCheck() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck
}

// CheckNow performs an immediate disk check and returns the alerts
func (m *DiskMonitor) CheckNow() []DiskAlert {
	m.checkDiskSpace()
	return m.GetAlerts()
}

// checkDiskSpace evaluates every monitored path against the thresholds.
// Disk checks run without the lock held.
func (m *DiskMonitor) checkDiskSpace() {
	paths := m.getPathsToMonitor()

	newAlerts := make([]DiskAlert, 0)
	checkTime := time.Now()

	m.mu.RLock()
	alertThreshold := m.alertThreshold
	warnThreshold := m.warnThreshold
	m.mu.RUnlock()

	for name, path := range paths {
		if path == "" {
			continue
		}

		usage := m.diskChecker.GetDiskUsage(path)
		if usage == nil {
			m.logger.Errorf("Failed to get disk usage for %s (%s)", name, path)
			continue
		}

		switch {
		case usage.PercentUsed >= alertThreshold:
			newAlerts = append(newAlerts, DiskAlert{
				Path:        path,
				Level:       AlertLevelCritical,
				PercentUsed: usage.PercentUsed,
				FreeBytes:   usage.FreeBytes,
				TotalBytes:  usage.TotalBytes,
				Message:     formatDiskAlert(name, path, usage.PercentUsed, usage.FreeBytes),
				Timestamp:   checkTime,
			})
			m.logger.Errorf("CRITICAL: Disk space alert for %s (%s): %.1f%% used, %s free",
				name, path, usage.PercentUsed, formatBytes(usage.FreeBytes))
		case usage.PercentUsed >= warnThreshold:
			newAlerts = append(newAlerts, DiskAlert{
				Path:        path,
				Level:       AlertLevelWarning,
				PercentUsed: usage.PercentUsed,
				FreeBytes:   usage.FreeBytes,
				TotalBytes:  usage.TotalBytes,
				Message:     formatDiskAlert(name, path, usage.PercentUsed, usage.FreeBytes),
				Timestamp:   checkTime,
			})
			m.logger.Warnf("Disk space warning for %s (%s): %.1f%% used, %s free",
				name, path, usage.PercentUsed, formatBytes(usage.FreeBytes))
		}
	}

	m.mu.Lock()
	m.lastCheck = checkTime
	m.alerts = newAlerts
	m.mu.Unlock()
}

// getPathsToMonitor returns every directory flightdeck writes to
func (m *DiskMonitor) getPathsToMonitor() map[string]string {
	paths := make(map[string]string)

	paths["State Directory"] = m.config.StateDir

	if m.config.StateStore.File.Path != "" {
		paths["Record Store"] = m.config.StateStore.File.Path
	}

	if m.config.GetLogPath() != "" {
		paths["Log Directory"] = filepath.Dir(m.config.GetLogPath())
	}

	// PID file lands in the temp directory by default
	if m.config.PIDFile != "" {
		paths["PID Directory"] = filepath.Dir(m.config.PIDFile)
	}

	return paths
}

// DiskUsage contains disk usage for one filesystem
type DiskUsage struct {
	TotalBytes  uint64
	FreeBytes   uint64
	UsedBytes   uint64
	PercentUsed float64
}

// getDiskUsage is implemented in platform-specific files:
// disk_monitor_unix.go for Unix and disk_monitor_windows.go for Windows

// formatDiskAlert creates a human-readable alert message
func formatDiskAlert(name, path string, percentUsed float64, freeBytes uint64) string {
	return fmt.Sprintf("%s (%s) is %.1f%% full with %s free",
		name, path, percentUsed, formatBytes(freeBytes))
}

// formatBytes formats bytes into a human-readable form
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
