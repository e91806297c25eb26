package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/inboxpilot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// MessageAnnotation is the classification written back onto customer messages
// once their decision cycle has classified them.
type MessageAnnotation struct {
	Language    string
	Translation string
	CategoryID  string
}

// Store defines the persistence operations used by the engine, the scheduler
// jobs and the ops surface. Methods accept context.Context for cancellation
// and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetOrCreateConversation returns the conversation for the participant,
	// creating it on first contact.
	GetOrCreateConversation(ctx context.Context, workspaceID, platform, participantID, participantName string) (*Conversation, error)
	// GetConversation returns ErrNotFound when id is unknown.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// SetConversationHold sets the human hold timestamp, or clears it when at is nil.
	SetConversationHold(ctx context.Context, conversationID string, at *time.Time) error
	// ListWorkspaceIDs returns every workspace that has settings or conversations.
	ListWorkspaceIDs(ctx context.Context) ([]string, error)

	// AppendMessage inserts m, fills its ID and bumps the conversation timestamps.
	AppendMessage(ctx context.Context, m *Message) error
	// AnnotateMessages records the classification on the given messages and
	// increments the category count once per updated message.
	AnnotateMessages(ctx context.Context, ids []int64, a MessageAnnotation) error
	// RecentMessages returns the last limit messages in chronological order.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// EnsureCategories returns the workspace categories, seeding the system set
	// when the workspace has none yet.
	EnsureCategories(ctx context.Context, workspaceID string) ([]MessageCategory, error)
	// UpsertCategory inserts or updates a category by (workspace, name).
	UpsertCategory(ctx context.Context, c *MessageCategory) error

	// GetCategoryKnowledge returns ErrNotFound when the category has no guidance.
	GetCategoryKnowledge(ctx context.Context, workspaceID, categoryID string) (*CategoryKnowledge, error)
	UpsertCategoryKnowledge(ctx context.Context, k *CategoryKnowledge) error
	ListKnowledgeEntries(ctx context.Context, workspaceID string) ([]KnowledgeEntry, error)
	AddKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error

	// GetSettings returns the workspace settings, creating defaults on first read.
	GetSettings(ctx context.Context, workspaceID string) (*WorkspaceSettings, error)
	SaveSettings(ctx context.Context, s *WorkspaceSettings) error

	CreateEscalation(ctx context.Context, e *Escalation) error
	// ResolveEscalations marks open escalations resolved and clears the hold.
	// It returns the number of escalations resolved.
	ResolveEscalations(ctx context.Context, conversationID string, at time.Time) (int, error)

	// GetGoalProgress returns ErrNotFound when no goal was ever tracked.
	GetGoalProgress(ctx context.Context, conversationID string) (*GoalProgress, error)
	SaveGoalProgress(ctx context.Context, g *GoalProgress) error

	// ScheduleFollowUp cancels pending follow-ups of the conversation and inserts f.
	ScheduleFollowUp(ctx context.Context, f *FollowUp) error
	// DueFollowUps returns pending follow-ups with due_at <= now, oldest first.
	DueFollowUps(ctx context.Context, now time.Time, limit int) ([]FollowUp, error)
	// ClaimFollowUp moves a follow-up from pending to processing. It reports
	// false when another worker already claimed it.
	ClaimFollowUp(ctx context.Context, id string, now time.Time) (bool, error)
	// FinishFollowUp records the final status of a claimed follow-up.
	FinishFollowUp(ctx context.Context, id string, status FollowUpStatus, lastErr string, now time.Time) error
	// RunMaintenance fails follow-ups stuck in processing since before
	// staleBefore, deletes finished follow-ups last touched before pruneBefore
	// and compacts the database.
	RunMaintenance(ctx context.Context, staleBefore, pruneBefore time.Time) (MaintenanceResult, error)

	// ComputeDailyReport aggregates the day starting at dayStart (UTC).
	ComputeDailyReport(ctx context.Context, workspaceID string, dayStart time.Time) (*DailyReport, error)
	SaveDailyReport(ctx context.Context, r *DailyReport) error
	GetDailyReport(ctx context.Context, workspaceID, day string) (*DailyReport, error)
}

// dbTime normalizes timestamps so text comparisons in SQLite stay ordered.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// sqlxStore implements Store using sqlx over SQLite.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a Store backed by db.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}
}

// inTx runs fn inside a transaction, rolling back unless fn succeeds and the
// commit goes through.
func (s *sqlxStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "op", op, "error", err)
		return fmt.Errorf("failed to begin transaction for %s: %w", op, err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "op", op, "error", rollbackErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "op", op, "error", err)
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}
	tx = nil
	return nil
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetOrCreateConversation(ctx context.Context, workspaceID, platform, participantID, participantName string) (*Conversation, error) {
	if workspaceID == "" || platform == "" || participantID == "" {
		return nil, fmt.Errorf("workspace, platform and participant are required")
	}

	var conv Conversation
	err := s.inTx(ctx, "get_or_create_conversation", func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &conv, `
			SELECT * FROM conversations
			WHERE workspace_id = ? AND platform = ? AND participant_id = ?;`,
			workspaceID, platform, participantID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up conversation: %w", err)
		}

		now := dbTime(s.now())
		conv = Conversation{
			ID:              uuid.NewString(),
			WorkspaceID:     workspaceID,
			ParticipantID:   participantID,
			ParticipantName: participantName,
			Platform:        platform,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO conversations (id, workspace_id, participant_id, participant_name, platform, created_at, updated_at)
			VALUES (:id, :workspace_id, :participant_id, :participant_name, :platform, :created_at, :updated_at);`, &conv)
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		s.logger.InfoContext(ctx, "Conversation created",
			"conversation_id", conv.ID, "workspace_id", workspaceID, "platform", platform)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *sqlxStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *sqlxStore) SetConversationHold(ctx context.Context, conversationID string, at *time.Time) error {
	var hold sql.NullTime
	if at != nil {
		hold = sql.NullTime{Time: dbTime(*at), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET escalated_at = ?, updated_at = ? WHERE id = ?;`,
		hold, dbTime(s.now()), conversationID)
	if err != nil {
		return fmt.Errorf("failed to update hold for conversation %s: %w", conversationID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT workspace_id FROM workspace_settings
		UNION
		SELECT workspace_id FROM conversations
		ORDER BY 1;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return ids, nil
}

func (s *sqlxStore) AppendMessage(ctx context.Context, m *Message) error {
	if m == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if m.ConversationID == "" || m.WorkspaceID == "" {
		return fmt.Errorf("message must reference a conversation and workspace")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.CreatedAt = dbTime(m.CreatedAt)

	return s.inTx(ctx, "append_message", func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO messages (conversation_id, workspace_id, role, body, attachments, language, translation,
				category_id, tags, escalated, escalation_reason, automation_source, seen_at, created_at)
			VALUES (:conversation_id, :workspace_id, :role, :body, :attachments, :language, :translation,
				:category_id, :tags, :escalated, :escalation_reason, :automation_source, :seen_at, :created_at);`, m)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error saving message", "conversation_id", m.ConversationID, "error", err)
			return fmt.Errorf("failed to save message for conversation %s: %w", m.ConversationID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
		m.ID = id

		query := `UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?;`
		args := []any{m.CreatedAt, m.CreatedAt, m.ConversationID}
		if m.Role == domain.RoleCustomer {
			query = `UPDATE conversations SET last_message_at = ?, last_customer_message_at = ?, updated_at = ? WHERE id = ?;`
			args = []any{m.CreatedAt, m.CreatedAt, m.CreatedAt, m.ConversationID}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to touch conversation %s: %w", m.ConversationID, err)
		}
		return nil
	})
}

func (s *sqlxStore) AnnotateMessages(ctx context.Context, ids []int64, a MessageAnnotation) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, "annotate_messages", func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`
			UPDATE messages SET language = ?, translation = ?, category_id = ?
			WHERE id IN (?) AND role = ?;`,
			a.Language, a.Translation, a.CategoryID, ids, domain.RoleCustomer)
		if err != nil {
			return fmt.Errorf("failed to build annotate query: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return fmt.Errorf("failed to annotate messages: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 || a.CategoryID == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE message_categories SET message_count = message_count + ?, updated_at = ? WHERE id = ?;`,
			n, dbTime(s.now()), a.CategoryID); err != nil {
			return fmt.Errorf("failed to increment category %s: %w", a.CategoryID, err)
		}
		return nil
	})
}

func (s *sqlxStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	} else if limit > 100 {
		limit = 100
	}

	var messages []Message
	err := s.db.SelectContext(ctx, &messages, `
		SELECT * FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC;`, conversationID, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context done while fetching messages", "conversation_id", conversationID, "error", err)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages for conversation %s: %w", conversationID, err)
	}
	return messages, nil
}

func (s *sqlxStore) EnsureCategories(ctx context.Context, workspaceID string) ([]MessageCategory, error) {
	var cats []MessageCategory
	err := s.inTx(ctx, "ensure_categories", func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &cats,
			`SELECT * FROM message_categories WHERE workspace_id = ? ORDER BY is_system DESC, name;`, workspaceID); err != nil {
			return fmt.Errorf("failed to list categories: %w", err)
		}
		if len(cats) > 0 {
			return nil
		}

		now := dbTime(s.now())
		cats = SystemCategories(workspaceID)
		for i := range cats {
			cats[i].ID = uuid.NewString()
			cats[i].CreatedAt = now
			cats[i].UpdatedAt = now
			if _, err := tx.NamedExecContext(ctx, `
				INSERT OR IGNORE INTO message_categories (id, workspace_id, name, description, ai_policy, escalation_note,
					examples, message_count, is_system, created_at, updated_at)
				VALUES (:id, :workspace_id, :name, :description, :ai_policy, :escalation_note,
					:examples, :message_count, :is_system, :created_at, :updated_at);`, &cats[i]); err != nil {
				return fmt.Errorf("failed to seed category %q: %w", cats[i].Name, err)
			}
		}
		s.logger.InfoContext(ctx, "Seeded system categories", "workspace_id", workspaceID, "count", len(cats))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cats, nil
}

func (s *sqlxStore) UpsertCategory(ctx context.Context, c *MessageCategory) error {
	if c == nil || c.WorkspaceID == "" || c.Name == "" {
		return fmt.Errorf("category needs a workspace and a name")
	}
	if !c.AIPolicy.Valid() {
		c.AIPolicy = domain.PolicyFullAuto
	}
	now := dbTime(s.now())
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	return s.inTx(ctx, "upsert_category", func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO message_categories (id, workspace_id, name, description, ai_policy, escalation_note,
				examples, message_count, is_system, created_at, updated_at)
			VALUES (:id, :workspace_id, :name, :description, :ai_policy, :escalation_note,
				:examples, :message_count, :is_system, :created_at, :updated_at)
			ON CONFLICT (workspace_id, name) DO UPDATE SET
				description = excluded.description,
				ai_policy = excluded.ai_policy,
				escalation_note = excluded.escalation_note,
				examples = excluded.examples,
				updated_at = excluded.updated_at;`, c); err != nil {
			return fmt.Errorf("failed to upsert category %q: %w", c.Name, err)
		}
		// Existing rows keep their id.
		return tx.GetContext(ctx, &c.ID,
			`SELECT id FROM message_categories WHERE workspace_id = ? AND name = ?;`, c.WorkspaceID, c.Name)
	})
}

func (s *sqlxStore) GetCategoryKnowledge(ctx context.Context, workspaceID, categoryID string) (*CategoryKnowledge, error) {
	var k CategoryKnowledge
	err := s.db.GetContext(ctx, &k,
		`SELECT * FROM category_knowledge WHERE workspace_id = ? AND category_id = ?;`, workspaceID, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category knowledge: %w", err)
	}
	return &k, nil
}

func (s *sqlxStore) UpsertCategoryKnowledge(ctx context.Context, k *CategoryKnowledge) error {
	k.UpdatedAt = dbTime(s.now())
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO category_knowledge (workspace_id, category_id, guidance, updated_at)
		VALUES (:workspace_id, :category_id, :guidance, :updated_at)
		ON CONFLICT (workspace_id, category_id) DO UPDATE SET
			guidance = excluded.guidance, updated_at = excluded.updated_at;`, k)
	if err != nil {
		return fmt.Errorf("failed to save category knowledge: %w", err)
	}
	return nil
}

func (s *sqlxStore) ListKnowledgeEntries(ctx context.Context, workspaceID string) ([]KnowledgeEntry, error) {
	var entries []KnowledgeEntry
	if err := s.db.SelectContext(ctx, &entries,
		`SELECT * FROM knowledge_entries WHERE workspace_id = ? ORDER BY created_at, id;`, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to list knowledge entries: %w", err)
	}
	return entries, nil
}

func (s *sqlxStore) AddKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.CreatedAt = dbTime(e.CreatedAt)
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO knowledge_entries (id, workspace_id, title, body, created_at)
		VALUES (:id, :workspace_id, :title, :body, :created_at);`, e); err != nil {
		return fmt.Errorf("failed to add knowledge entry: %w", err)
	}
	return nil
}

const upsertSettingsQuery = `
	INSERT INTO workspace_settings (workspace_id, default_language, reply_language, allow_hashtags, allow_emojis,
		max_reply_sentences, decision_mode, business_policy, escalation_guidelines, escalation_examples,
		hold_behavior, human_hold_minutes, primary_goal, secondary_goal, goals, followup_enabled, followup_message,
		model_override, temperature, reasoning_budget, created_at, updated_at)
	VALUES (:workspace_id, :default_language, :reply_language, :allow_hashtags, :allow_emojis,
		:max_reply_sentences, :decision_mode, :business_policy, :escalation_guidelines, :escalation_examples,
		:hold_behavior, :human_hold_minutes, :primary_goal, :secondary_goal, :goals, :followup_enabled, :followup_message,
		:model_override, :temperature, :reasoning_budget, :created_at, :updated_at)
	ON CONFLICT (workspace_id) DO UPDATE SET
		default_language = excluded.default_language,
		reply_language = excluded.reply_language,
		allow_hashtags = excluded.allow_hashtags,
		allow_emojis = excluded.allow_emojis,
		max_reply_sentences = excluded.max_reply_sentences,
		decision_mode = excluded.decision_mode,
		business_policy = excluded.business_policy,
		escalation_guidelines = excluded.escalation_guidelines,
		escalation_examples = excluded.escalation_examples,
		hold_behavior = excluded.hold_behavior,
		human_hold_minutes = excluded.human_hold_minutes,
		primary_goal = excluded.primary_goal,
		secondary_goal = excluded.secondary_goal,
		goals = excluded.goals,
		followup_enabled = excluded.followup_enabled,
		followup_message = excluded.followup_message,
		model_override = excluded.model_override,
		temperature = excluded.temperature,
		reasoning_budget = excluded.reasoning_budget,
		updated_at = excluded.updated_at;`

func (s *sqlxStore) GetSettings(ctx context.Context, workspaceID string) (*WorkspaceSettings, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	var settings WorkspaceSettings
	err := s.inTx(ctx, "get_settings", func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &settings, `SELECT * FROM workspace_settings WHERE workspace_id = ?;`, workspaceID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get settings for %s: %w", workspaceID, err)
		}
		settings = *DefaultSettings(workspaceID, dbTime(s.now()))
		if _, err := tx.NamedExecContext(ctx, upsertSettingsQuery, &settings); err != nil {
			return fmt.Errorf("failed to create default settings for %s: %w", workspaceID, err)
		}
		s.logger.InfoContext(ctx, "Created default workspace settings", "workspace_id", workspaceID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *sqlxStore) SaveSettings(ctx context.Context, settings *WorkspaceSettings) error {
	now := dbTime(s.now())
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now
	if _, err := s.db.NamedExecContext(ctx, upsertSettingsQuery, settings); err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", settings.WorkspaceID, err)
	}
	return nil
}

func (s *sqlxStore) CreateEscalation(ctx context.Context, e *Escalation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.CreatedAt = dbTime(e.CreatedAt)
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO escalations (id, conversation_id, workspace_id, topic, reason, created_at, resolved_at)
		VALUES (:id, :conversation_id, :workspace_id, :topic, :reason, :created_at, :resolved_at);`, e); err != nil {
		return fmt.Errorf("failed to create escalation for conversation %s: %w", e.ConversationID, err)
	}
	return nil
}

func (s *sqlxStore) ResolveEscalations(ctx context.Context, conversationID string, at time.Time) (int, error) {
	var resolved int64
	err := s.inTx(ctx, "resolve_escalations", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE conversations SET escalated_at = NULL, updated_at = ? WHERE id = ?;`,
			dbTime(at), conversationID)
		if err != nil {
			return fmt.Errorf("failed to clear hold: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE escalations SET resolved_at = ? WHERE conversation_id = ? AND resolved_at IS NULL;`,
			dbTime(at), conversationID)
		if err != nil {
			return fmt.Errorf("failed to resolve escalations: %w", err)
		}
		resolved, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(resolved), nil
}

func (s *sqlxStore) GetGoalProgress(ctx context.Context, conversationID string) (*GoalProgress, error) {
	var g GoalProgress
	err := s.db.GetContext(ctx, &g, `SELECT * FROM goal_progress WHERE conversation_id = ?;`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal progress: %w", err)
	}
	return &g, nil
}

func (s *sqlxStore) SaveGoalProgress(ctx context.Context, g *GoalProgress) error {
	g.UpdatedAt = dbTime(s.now())
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO goal_progress (conversation_id, goal, status, collected, summary, next_step, updated_at)
		VALUES (:conversation_id, :goal, :status, :collected, :summary, :next_step, :updated_at)
		ON CONFLICT (conversation_id) DO UPDATE SET
			goal = excluded.goal,
			status = excluded.status,
			collected = excluded.collected,
			summary = excluded.summary,
			next_step = excluded.next_step,
			updated_at = excluded.updated_at;`, g); err != nil {
		return fmt.Errorf("failed to save goal progress for %s: %w", g.ConversationID, err)
	}
	return nil
}

func (s *sqlxStore) ScheduleFollowUp(ctx context.Context, f *FollowUp) error {
	now := dbTime(s.now())
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Status = FollowUpPending
	f.AnchorAt = dbTime(f.AnchorAt)
	f.DueAt = dbTime(f.DueAt)
	f.DeadlineAt = dbTime(f.DeadlineAt)
	f.CreatedAt = now
	f.UpdatedAt = now

	return s.inTx(ctx, "schedule_followup", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE follow_ups SET status = ?, updated_at = ? WHERE conversation_id = ? AND status = ?;`,
			FollowUpCancelled, now, f.ConversationID, FollowUpPending); err != nil {
			return fmt.Errorf("failed to cancel superseded follow-ups: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO follow_ups (id, conversation_id, workspace_id, anchor_at, due_at, deadline_at, status,
				attempts, last_error, sent_at, created_at, updated_at)
			VALUES (:id, :conversation_id, :workspace_id, :anchor_at, :due_at, :deadline_at, :status,
				:attempts, :last_error, :sent_at, :created_at, :updated_at);`, f); err != nil {
			return fmt.Errorf("failed to schedule follow-up for %s: %w", f.ConversationID, err)
		}
		return nil
	})
}

func (s *sqlxStore) DueFollowUps(ctx context.Context, now time.Time, limit int) ([]FollowUp, error) {
	if limit <= 0 {
		limit = 50
	}
	var due []FollowUp
	if err := s.db.SelectContext(ctx, &due, `
		SELECT * FROM follow_ups WHERE status = ? AND due_at <= ?
		ORDER BY due_at, id LIMIT ?;`, FollowUpPending, dbTime(now), limit); err != nil {
		return nil, fmt.Errorf("failed to list due follow-ups: %w", err)
	}
	return due, nil
}

func (s *sqlxStore) ClaimFollowUp(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?;`, FollowUpProcessing, dbTime(now), id, FollowUpPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim follow-up %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *sqlxStore) FinishFollowUp(ctx context.Context, id string, status FollowUpStatus, lastErr string, now time.Time) error {
	var sentAt sql.NullTime
	if status == FollowUpSent {
		sentAt = sql.NullTime{Time: dbTime(now), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET status = ?, last_error = ?, sent_at = ?, updated_at = ?
		WHERE id = ? AND status = ?;`, status, lastErr, sentAt, dbTime(now), id, FollowUpProcessing)
	if err != nil {
		return fmt.Errorf("failed to finish follow-up %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RunMaintenance commits the follow-up cleanup first; VACUUM cannot run
// inside a transaction.
func (s *sqlxStore) RunMaintenance(ctx context.Context, staleBefore, pruneBefore time.Time) (MaintenanceResult, error) {
	var res MaintenanceResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	now := dbTime(s.now())

	err := s.inTx(ctx, "maintenance", func(tx *sqlx.Tx) error {
		r, err := tx.ExecContext(ctx, `
			UPDATE follow_ups SET status = ?, last_error = ?, updated_at = ?
			WHERE status = ? AND updated_at < ?;`,
			FollowUpFailed, AbandonedFollowUp, now, FollowUpProcessing, dbTime(staleBefore))
		if err != nil {
			return fmt.Errorf("failed to expire stale follow-ups: %w", err)
		}
		if res.StaleFollowUps, err = r.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count stale follow-ups: %w", err)
		}

		r, err = tx.ExecContext(ctx, `
			DELETE FROM follow_ups WHERE status IN (?, ?, ?) AND updated_at < ?;`,
			FollowUpSent, FollowUpFailed, FollowUpCancelled, dbTime(pruneBefore))
		if err != nil {
			return fmt.Errorf("failed to prune follow-ups: %w", err)
		}
		if res.PrunedFollowUps, err = r.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count pruned follow-ups: %w", err)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	s.logger.DebugContext(ctx, "Running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return res, fmt.Errorf("failed to vacuum database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "PRAGMA optimize failed", "error", err)
	}
	return res, nil
}

func (s *sqlxStore) ComputeDailyReport(ctx context.Context, workspaceID string, dayStart time.Time) (*DailyReport, error) {
	from := dbTime(dayStart)
	to := from.Add(24 * time.Hour)
	report := &DailyReport{
		WorkspaceID: workspaceID,
		Day:         from.Format(time.DateOnly),
		Categories:  CountMap{},
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&report.Inbound, `SELECT COUNT(*) FROM messages WHERE workspace_id = ? AND role = 'customer' AND created_at >= ? AND created_at < ?;`},
		{&report.Replies, `SELECT COUNT(*) FROM messages WHERE workspace_id = ? AND role = 'assistant' AND created_at >= ? AND created_at < ?;`},
		{&report.Escalations, `SELECT COUNT(*) FROM escalations WHERE workspace_id = ? AND created_at >= ? AND created_at < ?;`},
		{&report.FollowUpsSent, `SELECT COUNT(*) FROM follow_ups WHERE workspace_id = ? AND status = 'sent' AND sent_at >= ? AND sent_at < ?;`},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dst, c.query, workspaceID, from, to); err != nil {
			return nil, fmt.Errorf("failed to aggregate daily report for %s: %w", workspaceID, err)
		}
	}

	var rows []struct {
		Name  string `db:"name"`
		Count int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT c.name AS name, COUNT(*) AS count
		FROM messages m JOIN message_categories c ON c.id = m.category_id
		WHERE m.workspace_id = ? AND m.role = 'customer' AND m.created_at >= ? AND m.created_at < ?
		GROUP BY c.name;`, workspaceID, from, to); err != nil {
		return nil, fmt.Errorf("failed to aggregate categories for %s: %w", workspaceID, err)
	}
	for _, r := range rows {
		report.Categories[r.Name] = r.Count
	}
	return report, nil
}

func (s *sqlxStore) SaveDailyReport(ctx context.Context, r *DailyReport) error {
	r.UpdatedAt = dbTime(s.now())
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO daily_reports (workspace_id, day, inbound, replies, escalations, followups_sent, categories, updated_at)
		VALUES (:workspace_id, :day, :inbound, :replies, :escalations, :followups_sent, :categories, :updated_at)
		ON CONFLICT (workspace_id, day) DO UPDATE SET
			inbound = excluded.inbound,
			replies = excluded.replies,
			escalations = excluded.escalations,
			followups_sent = excluded.followups_sent,
			categories = excluded.categories,
			updated_at = excluded.updated_at;`, r); err != nil {
		return fmt.Errorf("failed to save daily report %s/%s: %w", r.WorkspaceID, r.Day, err)
	}
	return nil
}

func (s *sqlxStore) GetDailyReport(ctx context.Context, workspaceID, day string) (*DailyReport, error) {
	var r DailyReport
	err := s.db.GetContext(ctx, &r, `SELECT * FROM daily_reports WHERE workspace_id = ? AND day = ?;`, workspaceID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily report: %w", err)
	}
	return &r, nil
}
