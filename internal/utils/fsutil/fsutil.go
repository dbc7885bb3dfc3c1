// Package fsutil provides filesystem probes used by health checks and
// the disk-usage endpoint.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsWritable reports whether files can be created in the directory at path.
// Mode bits alone lie under containers and odd mounts, so after the
// permission check it creates and removes a probe file.
func IsWritable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return false
	}
	if info.Mode().Perm()&0o200 == 0 {
		return false
	}

	probe := filepath.Join(path, ".write_test")
	defer func() {
		_ = os.Remove(probe)
	}()

	file, err := os.Create(probe) // #nosec G304 - probe lives inside the checked directory
	if err != nil {
		return false
	}
	_ = file.Close()

	return true
}

// DiskUsage describes the filesystem holding a path.
type DiskUsage struct {
	TotalBytes  uint64
	FreeBytes   uint64
	UsedBytes   uint64
	UsedPercent float64
}

// GetDiskUsage is implemented per platform in fsutil_unix.go and
// fsutil_windows.go.

// GetDiskUsageMap returns disk usage keyed for JSON responses.
func GetDiskUsageMap(path string) (map[string]interface{}, error) {
	usage, err := GetDiskUsage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk usage: %w", err)
	}

	return map[string]interface{}{
		"total_bytes":  usage.TotalBytes,
		"free_bytes":   usage.FreeBytes,
		"used_bytes":   usage.UsedBytes,
		"used_percent": usage.UsedPercent,
	}, nil
}
