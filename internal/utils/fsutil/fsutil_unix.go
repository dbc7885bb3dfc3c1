//go:build !windows
// +build !windows

package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// GetDiskUsage returns usage for the filesystem holding path. A path that
// does not exist yet falls back to its parent, so the state directory can
// be checked before the first run creates it.
func GetDiskUsage(path string) (*DiskUsage, error) {
	// macOS aliases /tmp to /private/tmp, resolve symlinks before statting
	resolvedPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolvedPath = path
	}

	checkPath := resolvedPath
	if _, err := os.Stat(checkPath); err != nil {
		checkPath = filepath.Dir(resolvedPath)
		if _, err := os.Stat(checkPath); err != nil {
			return nil, fmt.Errorf("path and parent directory do not exist: %s", path)
		}
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(checkPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to get filesystem stats: %w", err)
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize) // #nosec G115 - filesystem stat conversion
	freeBytes := stat.Bavail * uint64(stat.Bsize)  // #nosec G115 - filesystem stat conversion
	usedBytes := totalBytes - freeBytes
	usedPercent := float64(usedBytes) / float64(totalBytes) * 100

	return &DiskUsage{
		TotalBytes:  totalBytes,
		FreeBytes:   freeBytes,
		UsedBytes:   usedBytes,
		UsedPercent: usedPercent,
	}, nil
}
