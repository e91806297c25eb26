package tasks

import (
	"context"
	"fmt"

	"github.com/edgard/inboxpilot/internal/config"
)

func newDailyReportTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.JobDailyReport)

	return func(ctx context.Context) error {
		built, err := deps.Reports.RebuildPreviousDay(ctx)
		if err != nil {
			return fmt.Errorf("daily report rebuild failed after %d workspaces: %w", built, err)
		}
		log.DebugContext(ctx, "Daily report task finished", "workspaces", built)
		return nil
	}
}
