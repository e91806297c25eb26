package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/edgard/inboxpilot/internal/config"
)

// newFollowUpTask sends follow-ups whose due time has passed.
func newFollowUpTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.JobFollowUp)

	return func(ctx context.Context) error {
		startTime := time.Now()
		stats, err := deps.FollowUps.Run(ctx)
		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "Follow-up processing failed", "error", err, "duration", duration)
			return fmt.Errorf("follow-up processing failed: %w", err)
		}

		if stats.Processed > 0 {
			log.InfoContext(ctx, "Follow-up processing completed",
				"processed", stats.Processed,
				"sent", stats.Sent,
				"cancelled", stats.Cancelled,
				"failed", stats.Failed,
				"duration", duration)
		}
		return nil
	}
}
