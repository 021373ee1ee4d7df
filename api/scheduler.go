/*
scheduler.go - Automated expiration sweeper

PURPOSE:
  Periodically evaluates expiration policies and records point
  revocations for skills whose renewal window has lapsed.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweep itself is idempotent: derived state already treats events
    past the computed instant as expired, so the sweep only records
    the revocation for UI display
  - Skips revocations that have already been recorded
  - Never runs while maintenance mode is on

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewExpirationSweeper(sweep, settings)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - engine/expiration.go: Sweep implementation
  - handlers.go: ListExpirations endpoint
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pathway/skill-engine/engine"
)

// ExpirationSweeper drives the periodic expiration pass.
type ExpirationSweeper struct {
	Sweep         *engine.Sweep
	Settings      engine.Settings
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirationSweeper creates a new sweeper.
func NewExpirationSweeper(sweep *engine.Sweep, settings engine.Settings) *ExpirationSweeper {
	return &ExpirationSweeper{
		Sweep:         sweep,
		Settings:      settings,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (es *ExpirationSweeper) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Sweeper] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the sweeper.
func (es *ExpirationSweeper) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (es *ExpirationSweeper) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.sweepOnce()

	for {
		select {
		case <-es.ticker.C:
			es.sweepOnce()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpirationSweeper) sweepOnce() {
	if es.Settings.MaintenanceMode {
		log.Println("[Sweeper] Maintenance mode, skipping pass")
		return
	}

	ctx := context.Background()
	now := time.Now().UTC()

	records, err := es.Sweep.Evaluate(ctx, now)
	if err != nil {
		log.Printf("[Sweeper] Error evaluating expirations: %v", err)
		return
	}

	if len(records) > 0 {
		total := 0
		for _, rec := range records {
			total += rec.PointsRemoved.Int()
		}
		log.Printf("[Sweeper] Completed: %d revocations recorded, %d points expired", len(records), total)
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (es *ExpirationSweeper) RunNow() {
	es.sweepOnce()
}

// GetNextRunTime returns when the next scheduled pass will occur.
func (es *ExpirationSweeper) GetNextRunTime() time.Time {
	return time.Now().Add(es.CheckInterval)
}
