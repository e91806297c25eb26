package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/edgard/inboxpilot/internal/config"
)

// newStoreMaintenanceTask fails abandoned follow-up claims, prunes old
// follow-ups and compacts the database.
func newStoreMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.JobMaintenance)
	staleAfter := deps.FollowUpStaleAfter
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	retention := deps.FollowUpRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting store maintenance")
		startTime := time.Now()

		now := deps.Now()
		res, err := deps.Store.RunMaintenance(ctx, now.Add(-staleAfter), now.Add(-retention))
		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "Store maintenance failed", "error", err, "duration", duration)
			return fmt.Errorf("store maintenance failed: %w", err)
		}

		if res.StaleFollowUps > 0 {
			log.WarnContext(ctx, "Failed follow-ups abandoned in processing", "count", res.StaleFollowUps)
		}
		log.InfoContext(ctx, "Store maintenance completed",
			"stale_followups", res.StaleFollowUps,
			"pruned_followups", res.PrunedFollowUps,
			"duration", duration)
		return nil
	}
}
