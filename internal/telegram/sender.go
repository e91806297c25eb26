package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/inboxpilot/internal/bot/handlers"
	"github.com/edgard/inboxpilot/internal/database"
)

const sendMessageTimeout = 10 * time.Second

// client is the part of *bot.Bot the sender needs.
type client interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Sender delivers assistant messages to Telegram conversations. The
// participant id of a Telegram conversation is the private chat id.
type Sender struct {
	client client
	log    *slog.Logger
}

func NewSender(c client, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{client: c, log: log.With("component", "telegram_sender")}
}

// Send shows the typing indicator, then sends text.
func (s *Sender) Send(ctx context.Context, conv *database.Conversation, text string) error {
	if conv.Platform != handlers.Platform {
		return fmt.Errorf("conversation %s is on %q, not telegram", conv.ID, conv.Platform)
	}
	chatID, err := strconv.ParseInt(conv.ParticipantID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", conv.ParticipantID, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	if _, err := s.client.SendChatAction(sendCtx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping}); err != nil {
		s.log.DebugContext(ctx, "Typing action failed", "error", err, "chat_id", chatID)
	}
	sent, err := s.client.SendMessage(sendCtx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	s.log.DebugContext(ctx, "Message sent", "conversation_id", conv.ID, "chat_id", chatID, "message_id", sent.ID)
	return nil
}
