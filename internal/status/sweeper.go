package status

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often RunSweeper looks for expired statuses.
const DefaultSweepInterval = 5 * time.Second

// RunSweeper periodically expires timed statuses and hands the affected
// users to onExpired. It returns when ctx is cancelled.
func RunSweeper(ctx context.Context, store *Store, interval time.Duration, onExpired func(users []string)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[status] sweeper stopped")
			return
		case <-ticker.C:
			expired := store.ExpireDue()
			if len(expired) == 0 {
				continue
			}
			log.Printf("[status] sweeper: expired %d timed statuses", len(expired))
			if onExpired != nil {
				onExpired(expired)
			}
		}
	}
}
