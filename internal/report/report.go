// Package report rebuilds the daily dashboard aggregates.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgard/inboxpilot/internal/database"
)

// Builder recomputes daily reports from the message history.
type Builder struct {
	store database.Store
	now   func() time.Time
	log   *slog.Logger
}

func New(store database.Store, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{store: store, now: time.Now, log: log.With("component", "report")}
}

// SetClock replaces the time source.
func (b *Builder) SetClock(now func() time.Time) { b.now = now }

// PreviousDay returns the start (UTC midnight) of the day before now.
func PreviousDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// RebuildPreviousDay recomputes yesterday's report for every workspace. A
// failing workspace is logged and skipped; the returned error counts them.
func (b *Builder) RebuildPreviousDay(ctx context.Context) (int, error) {
	return b.Rebuild(ctx, PreviousDay(b.now()))
}

// Rebuild recomputes the report of the day starting at dayStart.
func (b *Builder) Rebuild(ctx context.Context, dayStart time.Time) (int, error) {
	ids, err := b.store.ListWorkspaceIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workspaces: %w", err)
	}

	built, failed := 0, 0
	for _, ws := range ids {
		if err := ctx.Err(); err != nil {
			return built, err
		}
		r, err := b.store.ComputeDailyReport(ctx, ws, dayStart)
		if err == nil {
			err = b.store.SaveDailyReport(ctx, r)
		}
		if err != nil {
			failed++
			b.log.ErrorContext(ctx, "Failed to rebuild daily report", "workspace_id", ws, "error", err)
			continue
		}
		built++
		b.log.DebugContext(ctx, "Daily report rebuilt",
			"workspace_id", ws, "day", r.Day, "inbound", r.Inbound, "replies", r.Replies, "escalations", r.Escalations)
	}

	if failed > 0 {
		return built, fmt.Errorf("daily report failed for %d of %d workspaces", failed, len(ids))
	}
	b.log.InfoContext(ctx, "Daily reports rebuilt", "day", dayStart.Format(time.DateOnly), "workspaces", built)
	return built, nil
}
