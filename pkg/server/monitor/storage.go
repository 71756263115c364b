package monitor

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SizeReporter is implemented by stores that know their own on-disk size
type SizeReporter interface {
	Size() (lsm, vlog int64)
}

// StorageMonitor reports how much disk the cache store uses, caching the
// result to avoid walking the data directory on every health check.
type StorageMonitor struct {
	dataDir       string
	reporter      SizeReporter
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a storage monitor for dataDir. reporter may be
// nil; an empty dataDir means the store is not on disk.
func NewStorageMonitor(dataDir string, reporter SizeReporter) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		reporter:      reporter,
		cacheDuration: 10 * time.Second,
	}
}

// StorageStatus is the storage section of the health check
type StorageStatus struct {
	DiskBytes int64  `json:"disk_bytes"`
	LSMBytes  int64  `json:"lsm_bytes,omitempty"`
	VlogBytes int64  `json:"vlog_bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GetUsage returns disk usage of the data directory in bytes (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.dataDir == "" {
		return 0, nil
	}
	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// Status returns current storage usage for health checks.
func (sm *StorageMonitor) Status() StorageStatus {
	var status StorageStatus
	usage, err := sm.GetUsage()
	if err != nil {
		status.Error = err.Error()
	}
	status.DiskBytes = usage
	if sm.reporter != nil {
		status.LSMBytes, status.VlogBytes = sm.reporter.Size()
	}
	return status
}

// calculateDirSize sums the disk usage of every file under path.
func calculateDirSize(path string) (int64, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}

	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += diskUsage(info)
		}
		return nil
	})
	return size, err
}
