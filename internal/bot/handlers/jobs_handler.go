package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewJobsHandler returns a handler for /jobs, which lists the scheduler state.
func NewJobsHandler(deps HandlerDeps) bot.HandlerFunc {
	return jobsHandler{deps}.Handle
}

type jobsHandler struct {
	deps HandlerDeps
}

func (h jobsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "jobs")
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: h.report()}); err != nil {
		log.ErrorContext(ctx, "Failed to send jobs report", "error", err, "chat_id", chatID)
	}
}

func (h jobsHandler) report() string {
	st := h.deps.Jobs.Status()
	var sb strings.Builder
	state := "stopped"
	if st.Running {
		state = "running"
	}
	fmt.Fprintf(&sb, "Scheduler %s\n", state)
	if len(st.Jobs) == 0 {
		sb.WriteString("No jobs registered.")
		return sb.String()
	}
	for _, j := range st.Jobs {
		fmt.Fprintf(&sb, "\n%s every %s", j.Name, j.Interval)
		if !j.Enabled {
			sb.WriteString(" (disabled)")
		}
		if j.Running {
			sb.WriteString(" [running]")
		}
		fmt.Fprintf(&sb, "\n  runs %d, failures %d", j.Runs, j.Failures)
		if j.LastRun != nil {
			fmt.Fprintf(&sb, ", last %s", j.LastRun.UTC().Format(time.RFC3339))
		}
		if j.LastError != "" {
			fmt.Fprintf(&sb, "\n  last error: %s", j.LastError)
		}
	}
	return sb.String()
}
