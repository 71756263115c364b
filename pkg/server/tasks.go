package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/server/monitor"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage/badger"
)

// Sweeper removes expired cache entries
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// RunCacheSweep removes expired cache entries periodically.
func RunCacheSweep(sweeper Sweeper, mon *monitor.SweepMonitor, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.CacheSweepInterval)
	defer ticker.Stop()

	runWithRetry := func() {
		maxRetries := 3
		baseDelay := 10 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1)) // 10s, 20s, 40s
				log.Printf("Retrying cache sweep in %v (attempt %d/%d)...", delay, attempt+1, maxRetries+1)
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
			}

			start := time.Now()
			removed, err := sweeper.SweepExpired(context.Background())
			if err == nil {
				mon.RecordSuccess(removed)
				log.Printf("Cache sweep removed %d expired entries in %v", removed, time.Since(start).Round(time.Millisecond))
				return
			}

			mon.RecordFailure(err)
			log.Printf("Cache sweep failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err)

			if status := mon.Status(); status.ConsecutiveErrors > 3 {
				log.Printf("ALERT: Cache sweep has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
			}
		}

		log.Printf("Cache sweep failed after %d attempts, will retry on next schedule", maxRetries+1)
	}

	// Entries may have expired while the server was down
	runWithRetry()

	for {
		select {
		case <-ticker.C:
			runWithRetry()
		case <-stop:
			log.Println("Stopping cache sweep scheduler")
			return
		}
	}
}

// RunBadgerGC runs BadgerDB value-log garbage collection periodically.
// Deleted and overwritten cache entries stay in the value log until GC.
func RunBadgerGC(store storage.Store, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Store)
	if !ok {
		log.Println("Cache store is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Reclaim a file when half of it is garbage; one pass per tick
			if err := badgerStore.RunGC(0.5); err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
