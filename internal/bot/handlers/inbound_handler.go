package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/inboxpilot/internal/buffer"
	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/text"
)

const (
	// Platform tags conversations that arrive through Telegram.
	Platform = "telegram"

	photoDownloadTimeout = 30 * time.Second
	dbSaveTimeout        = 5 * time.Second
	maxDownloadSize      = 10 * 1024 * 1024
)

// inbound is one customer message after it has been read off the update.
type inbound struct {
	ParticipantID string
	Name          string
	Text          string
	Attachments   []domain.Attachment
	SentAt        time.Time
}

// NewInboundHandler returns the default handler: every private, non-command
// message is a customer message for the configured workspace.
func NewInboundHandler(deps HandlerDeps) bot.HandlerFunc {
	return inboundHandler{deps}.Handle
}

type inboundHandler struct {
	deps HandlerDeps
}

func (h inboundHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "inbound")

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	if msg.Chat.Type != models.ChatTypePrivate {
		log.DebugContext(ctx, "Ignoring non-private chat", "chat_id", msg.Chat.ID, "chat_type", msg.Chat.Type)
		return
	}
	if strings.HasPrefix(msg.Text, "/") {
		log.DebugContext(ctx, "Ignoring unknown command", "chat_id", msg.Chat.ID)
		return
	}

	in := inbound{
		ParticipantID: strconv.FormatInt(msg.From.ID, 10),
		Name:          strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		Text:          msg.Text,
		SentAt:        time.Unix(int64(msg.Date), 0).UTC(),
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}

	if len(msg.Photo) > 0 {
		best := bestPhoto(msg.Photo)
		data, mimeType, err := downloadPhoto(ctx, b, best.FileID)
		if err != nil {
			log.WarnContext(ctx, "Photo download failed, continuing with text only", "error", err, "chat_id", msg.Chat.ID)
		} else {
			in.Attachments = append(in.Attachments, domain.Attachment{Type: domain.AttachmentImage, MIMEType: mimeType, Data: data})
		}
	}

	if err := h.ingest(ctx, in); err != nil {
		log.ErrorContext(ctx, "Failed to ingest customer message", "error", err, "chat_id", msg.Chat.ID)
	}
}

// ingest stores the customer message and queues it for the next decision
// cycle of its conversation.
func (h inboundHandler) ingest(ctx context.Context, in inbound) error {
	body := text.Sanitize(in.Text)
	if body == "" && len(in.Attachments) == 0 {
		return nil
	}
	ws := h.deps.Config.Telegram.WorkspaceID

	saveCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
	defer cancel()

	conv, err := h.deps.Store.GetOrCreateConversation(saveCtx, ws, Platform, in.ParticipantID, in.Name)
	if err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}

	stored := make(database.Attachments, len(in.Attachments))
	for i, a := range in.Attachments {
		a.Data = nil
		stored[i] = a
	}
	m := &database.Message{
		ConversationID: conv.ID,
		WorkspaceID:    ws,
		Role:           domain.RoleCustomer,
		Body:           body,
		Attachments:    stored,
		CreatedAt:      in.SentAt,
	}
	if err := h.deps.Store.AppendMessage(saveCtx, m); err != nil {
		return fmt.Errorf("failed to store customer message: %w", err)
	}

	h.deps.Buffer.Add(conv.ID, ws, buffer.Item{
		MessageID:   m.ID,
		Text:        body,
		Attachments: in.Attachments,
		ReceivedAt:  in.SentAt,
	})
	h.deps.Logger.DebugContext(ctx, "Customer message buffered",
		"conversation_id", conv.ID, "message_id", m.ID, "attachments", len(in.Attachments))
	return nil
}

func bestPhoto(sizes []models.PhotoSize) models.PhotoSize {
	var best models.PhotoSize
	for _, p := range sizes {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// downloadPhoto fetches a file by id and sniffs its MIME type.
func downloadPhoto(ctx context.Context, b *bot.Bot, fileID string) (data []byte, mimeType string, err error) {
	if fileID == "" {
		return nil, "", fmt.Errorf("empty fileID provided for photo download")
	}

	downloadCtx, cancel := context.WithTimeout(ctx, photoDownloadTimeout)
	defer cancel()

	fileObj, err := b.GetFile(downloadCtx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file info from Telegram: %w", err)
	}
	if fileObj.FilePath == "" {
		return nil, "", fmt.Errorf("empty file path returned from Telegram for file ID %s", fileID)
	}

	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, b.FileDownloadLink(fileObj), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status code %d downloading file %s", resp.StatusCode, fileID)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("received empty file data for %s", fileID)
	}
	return data, http.DetectContentType(data), nil
}
