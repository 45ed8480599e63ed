package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveErrors is how many failed runs in a row are tolerated
const maxConsecutiveErrors = 3

// BackfillMonitor tracks tier backfill health and failures.
type BackfillMonitor struct {
	mu                sync.RWMutex
	interval          time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	lastRebuilt       int
	lastSkipped       int
	now               func() time.Time
}

// NewBackfillMonitor creates a monitor. interval is the schedule of the
// periodic backfill; zero means backfill only runs on demand.
func NewBackfillMonitor(interval time.Duration) *BackfillMonitor {
	return &BackfillMonitor{interval: interval, now: time.Now}
}

// RecordSuccess records a finished run and how many sessions it rebuilt and skipped.
func (bm *BackfillMonitor) RecordSuccess(rebuilt, skipped int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	now := bm.now()
	bm.lastSuccess = now
	bm.lastAttempt = now
	bm.consecutiveErrors = 0
	bm.lastError = ""
	bm.lastRebuilt = rebuilt
	bm.lastSkipped = skipped
}

// RecordFailure records a failed run.
func (bm *BackfillMonitor) RecordFailure(err error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.lastAttempt = bm.now()
	bm.consecutiveErrors++
	if err != nil {
		bm.lastError = err.Error()
	}
}

// IsHealthy returns true if backfill is keeping tiers current.
// Unhealthy conditions:
//   - More than 3 consecutive failures
//   - Scheduled, attempted, and no success within three intervals
func (bm *BackfillMonitor) IsHealthy() bool {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.healthyLocked()
}

func (bm *BackfillMonitor) healthyLocked() bool {
	if bm.consecutiveErrors > maxConsecutiveErrors {
		return false
	}
	if bm.interval > 0 && !bm.lastAttempt.IsZero() && bm.now().Sub(bm.lastSuccess) > 3*bm.interval {
		return false
	}
	return true
}

// BackfillStatus is the backfill section of the health response.
type BackfillStatus struct {
	Healthy           bool   `json:"healthy"`
	Scheduled         bool   `json:"scheduled"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	SessionsRebuilt   int    `json:"sessions_rebuilt"`
	SessionsSkipped   int    `json:"sessions_skipped"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current backfill status for health checks.
func (bm *BackfillMonitor) Status() BackfillStatus {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	status := BackfillStatus{
		Healthy:         bm.healthyLocked(),
		Scheduled:       bm.interval > 0,
		SessionsRebuilt: bm.lastRebuilt,
		SessionsSkipped: bm.lastSkipped,
	}

	if !bm.lastSuccess.IsZero() {
		status.LastSuccess = bm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = bm.now().Sub(bm.lastSuccess).Round(time.Second).String()
	}
	if !bm.lastAttempt.IsZero() {
		status.LastAttempt = bm.lastAttempt.Format(time.RFC3339)
	}
	if bm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = bm.consecutiveErrors
		status.LastError = bm.lastError
	}
	return status
}
