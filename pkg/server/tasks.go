package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/server/monitor"
	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/storage/badger"
	"github.com/nicktill/rfiscope/pkg/tiering"
)

// ErrBackfillRunning is returned when a backfill is requested while one is in progress
var ErrBackfillRunning = errors.New("a backfill is already running")

// BackfillRunner serialises backfill runs and records them on the monitor.
type BackfillRunner struct {
	backfiller *tiering.Backfiller
	monitor    *monitor.BackfillMonitor
	mu         sync.Mutex
}

// NewBackfillRunner creates a runner
func NewBackfillRunner(backfiller *tiering.Backfiller, monitor *monitor.BackfillMonitor) *BackfillRunner {
	return &BackfillRunner{backfiller: backfiller, monitor: monitor}
}

// Run performs one backfill, failing with ErrBackfillRunning instead of waiting.
func (br *BackfillRunner) Run(ctx context.Context, opts tiering.Options) (*tiering.Result, error) {
	if !br.mu.TryLock() {
		return nil, ErrBackfillRunning
	}
	defer br.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, config.BackfillTimeout)
	defer cancel()

	result, err := br.backfiller.Run(ctx, opts)
	if err != nil {
		// a bad session list is the caller's mistake, not a backfill failure
		if !errors.Is(err, tiering.ErrUnknownSession) && !errors.Is(err, tiering.ErrDuplicateSession) {
			br.monitor.RecordFailure(err)
		}
		return nil, err
	}
	br.monitor.RecordSuccess(len(result.Scopes), result.Skipped)
	return result, nil
}

// RunBackfill rebuilds tiers of stale sessions periodically.
func RunBackfill(runner *BackfillRunner, interval time.Duration, workers int, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	if interval <= 0 {
		log.Println("Scheduled backfill disabled (set RFISCOPE_BACKFILL_INTERVAL to enable)")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	opts := tiering.Options{StaleOnly: true, Workers: workers}

	// Retry with exponential backoff: 30s, 60s, 120s
	runWithRetry := func(isInitial bool) {
		const maxRetries = 3
		baseDelay := 30 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1))
				log.Printf("Retrying backfill in %v (attempt %d/%d)...", delay, attempt+1, maxRetries+1)
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
			}

			start := time.Now()
			result, err := runner.Run(context.Background(), opts)
			switch {
			case err == nil:
				backfillRuns.WithLabelValues("ok").Inc()
				if isInitial {
					log.Printf("Initial backfill completed in %v (%d stale sessions)", time.Since(start).Round(time.Millisecond), len(result.Scopes))
				} else {
					log.Printf("Scheduled backfill completed in %v (%d rebuilt, %d current)", time.Since(start).Round(time.Millisecond), len(result.Scopes), result.Skipped)
				}
				return
			case errors.Is(err, ErrBackfillRunning):
				backfillRuns.WithLabelValues("skipped").Inc()
				log.Println("Skipping scheduled backfill, another run is in progress")
				return
			}

			backfillRuns.WithLabelValues("error").Inc()
			log.Printf("Backfill failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err)
			if status := runner.monitor.Status(); !status.Healthy {
				log.Printf("ALERT: Backfill has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
			}
		}

		log.Printf("Backfill failed after %d attempts, will retry on next schedule", maxRetries+1)
	}

	go func() {
		log.Println("Running initial stale-only backfill...")
		runWithRetry(true)
	}()

	for {
		select {
		case <-ticker.C:
			log.Println("Scheduled backfill started...")
			runWithRetry(false)
		case <-stop:
			log.Println("Stopping backfill scheduler")
			return
		}
	}
}

// RunBadgerGC runs BadgerDB value log garbage collection periodically.
// Tier rewrites and session deletes leave stale values behind in the value log.
func RunBadgerGC(store storage.Storage, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Rewrite a value log file when half of it is garbage
			if err := badgerStore.RunGC(0.5); err != nil {
				badgerGCRuns.WithLabelValues("false").Inc()
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				badgerGCRuns.WithLabelValues("true").Inc()
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
