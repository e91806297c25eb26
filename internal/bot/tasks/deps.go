// Package tasks defines the recurring jobs run by the scheduler.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/inboxpilot/internal/buffer"
	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/followup"
)

// FollowUpRunner sends or cancels due follow-ups.
type FollowUpRunner interface {
	Run(ctx context.Context) (followup.Stats, error)
}

// BufferFlusher flushes conversations whose debounce window has closed.
type BufferFlusher interface {
	ProcessDue(ctx context.Context) buffer.Stats
}

// ReportBuilder rebuilds the previous day's dashboard aggregates.
type ReportBuilder interface {
	RebuildPreviousDay(ctx context.Context) (int, error)
}

// TaskDeps provides dependencies for scheduled tasks.
type TaskDeps struct {
	Logger    *slog.Logger
	Store     database.Store
	FollowUps FollowUpRunner
	Buffer    BufferFlusher
	Reports   ReportBuilder

	// FollowUpStaleAfter and FollowUpRetention drive store maintenance.
	FollowUpStaleAfter time.Duration
	FollowUpRetention  time.Duration
	Now                func() time.Time
}
