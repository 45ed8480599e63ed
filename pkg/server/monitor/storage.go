package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// usageCacheTTL bounds how often the data directory is walked.
const usageCacheTTL = 10 * time.Second

// StorageMonitor reports data directory usage against a byte limit. It
// satisfies ingest.StorageChecker.
type StorageMonitor struct {
	dataDir  string
	maxBytes int64

	mu        sync.Mutex
	cached    int64
	lastCheck time.Time
	ttl       time.Duration
	now       func() time.Time
}

// NewStorageMonitor creates a monitor for dataDir with the given limit.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:  dataDir,
		maxBytes: maxBytes,
		ttl:      usageCacheTTL,
		now:      time.Now,
	}
}

// GetUsage returns bytes allocated under the data directory, cached for a
// short interval.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && sm.now().Sub(sm.lastCheck) < sm.ttl {
		return sm.cached, nil
	}

	usage, err := dirUsage(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cached = usage
	sm.lastCheck = sm.now()
	return usage, nil
}

// GetLimit returns the configured limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

func dirUsage(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// removed mid-walk by compaction
			return nil
		}
		total += diskUsage(path, info)
		return nil
	})
	return total, err
}
