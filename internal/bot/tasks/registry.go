package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/inboxpilot/internal/config"
)

// ScheduledTaskFunc is the signature of a recurring job.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns the jobs keyed by their config name. Jobs whose
// dependency is missing are left out.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	taskMap := make(map[string]ScheduledTaskFunc)
	if deps.FollowUps != nil {
		taskMap[config.JobFollowUp] = newFollowUpTask(deps)
	}
	if deps.Buffer != nil {
		taskMap[config.JobBufferFlush] = newBufferFlushTask(deps)
	}
	if deps.Reports != nil {
		taskMap[config.JobDailyReport] = newDailyReportTask(deps)
	}
	if deps.Store != nil {
		taskMap[config.JobMaintenance] = newStoreMaintenanceTask(deps)
	}
	return taskMap
}
