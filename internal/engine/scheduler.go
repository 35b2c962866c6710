package engine

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartPruneScheduler runs KB maintenance on a cron schedule.
// The schedule is a standard 5-field cron expression (minute hour
// day-of-month month day-of-week). Examples: "0 3 * * *" (daily 3am),
// "0 3 * * 0" (Sundays 3am). An empty schedule disables maintenance.
func (e *Engine) StartPruneScheduler(schedule string, confidenceFloor float64, usageFloor, retentionDays int) {
	if schedule == "" {
		log.Println("Prune scheduler disabled (prune_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid prune_schedule '%s': %v, maintenance disabled", schedule, err)
		return
	}

	retention := time.Duration(retentionDays) * 24 * time.Hour
	log.Printf("Prune scheduled (cron: %s) floor=%.2f usage_floor=%d retention=%dd",
		schedule, confidenceFloor, usageFloor, retentionDays)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next prune at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			removed, pruneErr := e.Cleanup(context.Background(), confidenceFloor, usageFloor, retention)
			if pruneErr != nil {
				log.Printf("Prune error: %v", pruneErr)
				continue
			}
			log.Printf("Prune complete: removed=%d", removed)
		}
	}()
}
