package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/inboxpilot/internal/bot"
	"github.com/edgard/inboxpilot/internal/buffer"
	"github.com/edgard/inboxpilot/internal/config"
	"github.com/edgard/inboxpilot/internal/database"
)

// Enqueuer accepts customer messages for debounced processing.
type Enqueuer interface {
	Add(conversationID, workspaceID string, item buffer.Item)
}

// EscalationResolver clears the human hold of a conversation.
type EscalationResolver interface {
	ResolveEscalation(ctx context.Context, conversationID string) (int, error)
}

// JobReporter exposes the scheduler state.
type JobReporter interface {
	Status() bot.SchedulerStatus
}

// HandlerDeps provides dependencies for Telegram handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Buffer   Enqueuer
	Resolver EscalationResolver
	Jobs     JobReporter
}
