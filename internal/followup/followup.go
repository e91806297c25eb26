// Package followup sends the reply-window nudges booked by the decision
// cycle.
package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/escalation"
	"github.com/edgard/inboxpilot/internal/metrics"
	"github.com/edgard/inboxpilot/internal/pipeline"
)

// Stats are the aggregate counters of one run.
type Stats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Cancellation reasons recorded in LastError.
const (
	ReasonNewerMessage = "customer wrote again"
	ReasonExpired      = "reply window closed"
	ReasonDisabled     = "follow-ups disabled"
	ReasonHeld         = "escalation hold in force"
	ReasonMissing      = "conversation not found"
)

// ConversationLocker serializes writes to one conversation with the decision
// cycle. *pipeline.Engine implements it.
type ConversationLocker interface {
	LockConversation(ctx context.Context, conversationID string) (func(), error)
}

// Processor claims due follow-ups and sends them.
type Processor struct {
	store     database.Store
	sender    pipeline.Sender
	locker    ConversationLocker
	batchSize int
	now       func() time.Time
	log       *slog.Logger
}

func New(store database.Store, sender pipeline.Sender, batchSize int, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Processor{
		store:     store,
		sender:    sender,
		batchSize: batchSize,
		now:       time.Now,
		log:       log.With("component", "followup"),
	}
}

// SetClock replaces the time source.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// SetLocker makes each follow-up hold its conversation's lock from the cancel
// checks through the stored message.
func (p *Processor) SetLocker(l ConversationLocker) { p.locker = l }

// Run processes one batch of due follow-ups. Per-item failures are counted,
// not returned; only listing the batch can fail.
func (p *Processor) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	now := p.now()

	due, err := p.store.DueFollowUps(ctx, now, p.batchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list due follow-ups: %w", err)
	}

	for _, f := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		claimed, err := p.store.ClaimFollowUp(ctx, f.ID, now)
		if err != nil {
			p.log.ErrorContext(ctx, "Failed to claim follow-up", "followup_id", f.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		stats.Processed++

		status, detail := p.process(ctx, f, now)
		switch status {
		case database.FollowUpSent:
			stats.Sent++
		case database.FollowUpCancelled:
			stats.Cancelled++
		default:
			stats.Failed++
		}
		metrics.FollowUps.WithLabelValues(string(status)).Inc()

		if err := p.store.FinishFollowUp(ctx, f.ID, status, detail, p.now()); err != nil {
			p.log.ErrorContext(ctx, "Failed to record follow-up outcome", "followup_id", f.ID, "status", status, "error", err)
		}
	}

	if stats.Processed > 0 {
		p.log.InfoContext(ctx, "Follow-ups processed",
			"processed", stats.Processed, "sent", stats.Sent, "failed", stats.Failed, "cancelled", stats.Cancelled)
	}
	return stats, nil
}

func (p *Processor) process(ctx context.Context, f database.FollowUp, now time.Time) (database.FollowUpStatus, string) {
	log := p.log.With("followup_id", f.ID, "conversation_id", f.ConversationID)

	if p.locker != nil {
		unlock, err := p.locker.LockConversation(ctx, f.ConversationID)
		if err != nil {
			log.WarnContext(ctx, "Failed to lock conversation", "error", err)
			return database.FollowUpFailed, err.Error()
		}
		defer unlock()
	}

	conv, err := p.store.GetConversation(ctx, f.ConversationID)
	if errors.Is(err, database.ErrNotFound) {
		return database.FollowUpCancelled, ReasonMissing
	}
	if err != nil {
		log.ErrorContext(ctx, "Failed to load conversation", "error", err)
		return database.FollowUpFailed, err.Error()
	}
	settings, err := p.store.GetSettings(ctx, conv.WorkspaceID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load settings", "error", err)
		return database.FollowUpFailed, err.Error()
	}

	if reason := cancelReason(f, conv, settings, now); reason != "" {
		log.DebugContext(ctx, "Follow-up cancelled", "reason", reason)
		return database.FollowUpCancelled, reason
	}

	body := strings.TrimSpace(settings.FollowUpMessage)
	if body == "" {
		body = database.DefaultFollowUpMessage
	}
	if p.sender != nil {
		if err := p.sender.Send(ctx, conv, body); err != nil {
			log.ErrorContext(ctx, "Failed to send follow-up", "error", err)
			return database.FollowUpFailed, err.Error()
		}
	}
	if err := p.store.AppendMessage(ctx, &database.Message{
		ConversationID:   conv.ID,
		WorkspaceID:      conv.WorkspaceID,
		Role:             domain.RoleAssistant,
		Body:             body,
		AutomationSource: domain.SourceFollowUp,
		CreatedAt:        now,
	}); err != nil {
		// The nudge went out; only the history entry is missing.
		log.ErrorContext(ctx, "Failed to store follow-up message", "error", err)
	}
	return database.FollowUpSent, ""
}

// cancelReason returns why a due follow-up must not be sent, or "".
func cancelReason(f database.FollowUp, conv *database.Conversation, s *database.WorkspaceSettings, now time.Time) string {
	switch {
	case conv.LastCustomerMessageAt.Valid && conv.LastCustomerMessageAt.Time.After(f.AnchorAt):
		return ReasonNewerMessage
	case !now.Before(f.DeadlineAt):
		return ReasonExpired
	case !s.FollowUpEnabled:
		return ReasonDisabled
	}
	var since *time.Time
	if conv.EscalatedAt.Valid {
		since = &conv.EscalatedAt.Time
	}
	if escalation.Evaluate(since, s.HumanHoldMinutes, s.HoldBehavior, now).Silent {
		return ReasonHeld
	}
	return ""
}
