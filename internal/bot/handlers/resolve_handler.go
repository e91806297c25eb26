package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/inboxpilot/internal/database"
)

const resolveTimeout = 30 * time.Second

// NewResolveHandler returns a handler for /resolve <conversation-id>.
func NewResolveHandler(deps HandlerDeps) bot.HandlerFunc {
	return resolveHandler{deps}.Handle
}

type resolveHandler struct {
	deps HandlerDeps
}

func (h resolveHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "resolve")
	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Resolve handler called with nil Message or From", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	reply := h.reply(ctx, commandArgs(update.Message.Text))
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: reply}); err != nil {
		log.ErrorContext(ctx, "Failed to send resolve reply", "error", err, "chat_id", chatID)
	}
}

func (h resolveHandler) reply(ctx context.Context, args string) string {
	log := h.deps.Logger.With("handler", "resolve")
	id := strings.TrimSpace(args)
	if id == "" || strings.ContainsAny(id, " \t\n") {
		return h.deps.Config.Telegram.Messages.ResolveUsage
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	n, err := h.deps.Resolver.ResolveEscalation(timeoutCtx, id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return fmt.Sprintf("Conversation %s not found.", id)
	case err != nil:
		log.ErrorContext(ctx, "Failed to resolve escalation", "error", err, "conversation_id", id)
		return h.deps.Config.Telegram.Messages.GeneralError
	}
	log.InfoContext(ctx, "Escalation resolved from Telegram", "conversation_id", id, "resolved", n)
	return fmt.Sprintf("Conversation %s released to the assistant (%d escalation(s) resolved).", id, n)
}

// commandArgs returns what follows the command word.
func commandArgs(text string) string {
	_, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	return strings.TrimSpace(rest)
}
