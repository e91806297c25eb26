package tasks

import (
	"context"
	"fmt"

	"github.com/edgard/inboxpilot/internal/config"
)

// newBufferFlushTask runs one decision cycle per conversation whose burst has
// settled. Failed flushes are counted, never retried.
func newBufferFlushTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.JobBufferFlush)

	return func(ctx context.Context) error {
		stats := deps.Buffer.ProcessDue(ctx)
		if stats.Flushed == 0 && stats.Failed == 0 {
			return nil
		}
		log.DebugContext(ctx, "Buffer flushed", "flushed", stats.Flushed, "failed", stats.Failed)
		if stats.Failed > 0 {
			return fmt.Errorf("%d of %d buffer flushes failed", stats.Failed, stats.Flushed+stats.Failed)
		}
		return nil
	}
}
