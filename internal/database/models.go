package database

import (
	"database/sql"
	"time"

	"github.com/edgard/inboxpilot/internal/domain"
)

// Conversation is a customer thread within a workspace. It is created on the
// first inbound message and never deleted.
type Conversation struct {
	ID                    string       `db:"id"`
	WorkspaceID           string       `db:"workspace_id"`
	ParticipantID         string       `db:"participant_id"`
	ParticipantName       string       `db:"participant_name"`
	Platform              string       `db:"platform"`
	LastMessageAt         sql.NullTime `db:"last_message_at"`
	LastCustomerMessageAt sql.NullTime `db:"last_customer_message_at"`
	EscalatedAt           sql.NullTime `db:"escalated_at"` // set while a human hold is in force
	CreatedAt             time.Time    `db:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at"`
}

// Message is one event in a conversation. Messages are ordered by ID.
type Message struct {
	ID               int64                   `db:"id"`
	ConversationID   string                  `db:"conversation_id"`
	WorkspaceID      string                  `db:"workspace_id"`
	Role             domain.Role             `db:"role"`
	Body             string                  `db:"body"`
	Attachments      Attachments             `db:"attachments"`
	Language         string                  `db:"language"`
	Translation      string                  `db:"translation"`
	CategoryID       string                  `db:"category_id"`
	Tags             StringList              `db:"tags"`
	Escalated        bool                    `db:"escalated"`
	EscalationReason string                  `db:"escalation_reason"`
	AutomationSource domain.AutomationSource `db:"automation_source"`
	SeenAt           sql.NullTime            `db:"seen_at"`
	CreatedAt        time.Time               `db:"created_at"`
}

// MessageCategory is a workspace-scoped classification bucket.
type MessageCategory struct {
	ID             string                `db:"id"`
	WorkspaceID    string                `db:"workspace_id"`
	Name           string                `db:"name"`
	Description    string                `db:"description"`
	AIPolicy       domain.CategoryPolicy `db:"ai_policy"`
	EscalationNote string                `db:"escalation_note"`
	Examples       StringList            `db:"examples"`
	MessageCount   int                   `db:"message_count"`
	IsSystem       bool                  `db:"is_system"`
	CreatedAt      time.Time             `db:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at"`
}

// CategoryKnowledge is the free-text guidance for one category.
type CategoryKnowledge struct {
	WorkspaceID string    `db:"workspace_id"`
	CategoryID  string    `db:"category_id"`
	Guidance    string    `db:"guidance"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// KnowledgeEntry is a general knowledge article for a workspace.
type KnowledgeEntry struct {
	ID          string    `db:"id"`
	WorkspaceID string    `db:"workspace_id"`
	Title       string    `db:"title"`
	Body        string    `db:"body"`
	CreatedAt   time.Time `db:"created_at"`
}

// WorkspaceSettings is the single policy record of a workspace.
type WorkspaceSettings struct {
	WorkspaceID          string              `db:"workspace_id"          yaml:"workspace_id"`
	DefaultLanguage      string              `db:"default_language"      yaml:"default_language"`
	ReplyLanguage        string              `db:"reply_language"        yaml:"reply_language"`
	AllowHashtags        bool                `db:"allow_hashtags"        yaml:"allow_hashtags"`
	AllowEmojis          bool                `db:"allow_emojis"          yaml:"allow_emojis"`
	MaxReplySentences    int                 `db:"max_reply_sentences"   yaml:"max_reply_sentences"`
	DecisionMode         domain.DecisionMode `db:"decision_mode"         yaml:"decision_mode"`
	BusinessPolicy       string              `db:"business_policy"       yaml:"business_policy"`
	EscalationGuidelines string              `db:"escalation_guidelines" yaml:"escalation_guidelines"`
	EscalationExamples   StringList          `db:"escalation_examples"   yaml:"escalation_examples"`
	HoldBehavior         domain.HoldBehavior `db:"hold_behavior"         yaml:"hold_behavior"`
	HumanHoldMinutes     int                 `db:"human_hold_minutes"    yaml:"human_hold_minutes"`
	PrimaryGoal          domain.Intent       `db:"primary_goal"          yaml:"primary_goal"`
	SecondaryGoal        domain.Intent       `db:"secondary_goal"        yaml:"secondary_goal"`
	Goals                GoalConfigs         `db:"goals"                 yaml:"goals"`
	FollowUpEnabled      bool                `db:"followup_enabled"      yaml:"followup_enabled"`
	FollowUpMessage      string              `db:"followup_message"      yaml:"followup_message"`
	ModelOverride        string              `db:"model_override"        yaml:"model_override,omitempty"`
	Temperature          sql.NullFloat64     `db:"temperature"           yaml:"-"`
	ReasoningBudget      sql.NullInt64       `db:"reasoning_budget"      yaml:"-"`
	CreatedAt            time.Time           `db:"created_at"            yaml:"-"`
	UpdatedAt            time.Time           `db:"updated_at"            yaml:"-"`
}

// Escalation is a human alert raised for a conversation.
type Escalation struct {
	ID             string       `db:"id"`
	ConversationID string       `db:"conversation_id"`
	WorkspaceID    string       `db:"workspace_id"`
	Topic          string       `db:"topic"`
	Reason         string       `db:"reason"`
	CreatedAt      time.Time    `db:"created_at"`
	ResolvedAt     sql.NullTime `db:"resolved_at"`
}

// GoalProgress is the persisted goal tracker state of a conversation.
type GoalProgress struct {
	ConversationID string        `db:"conversation_id"`
	Goal           domain.Intent `db:"goal"`
	Status         string        `db:"status"`
	Collected      FieldMap      `db:"collected"`
	Summary        string        `db:"summary"`
	NextStep       string        `db:"next_step"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// FollowUpStatus is the lifecycle state of a follow-up nudge.
type FollowUpStatus string

const (
	FollowUpPending    FollowUpStatus = "pending"
	FollowUpProcessing FollowUpStatus = "processing"
	FollowUpSent       FollowUpStatus = "sent"
	FollowUpFailed     FollowUpStatus = "failed"
	FollowUpCancelled  FollowUpStatus = "cancelled"
)

// FollowUp is a nudge scheduled ahead of a channel reply-window deadline.
// AnchorAt is the customer message time the deadline was computed from.
type FollowUp struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	WorkspaceID    string         `db:"workspace_id"`
	AnchorAt       time.Time      `db:"anchor_at"`
	DueAt          time.Time      `db:"due_at"`
	DeadlineAt     time.Time      `db:"deadline_at"`
	Status         FollowUpStatus `db:"status"`
	Attempts       int            `db:"attempts"`
	LastError      string         `db:"last_error"`
	SentAt         sql.NullTime   `db:"sent_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// AbandonedFollowUp is the last_error of follow-ups failed by maintenance
// after being left in processing.
const AbandonedFollowUp = "abandoned in processing"

// MaintenanceResult counts the rows touched by one maintenance run.
type MaintenanceResult struct {
	StaleFollowUps  int64 `json:"stale_followups"`
	PrunedFollowUps int64 `json:"pruned_followups"`
}

// DailyReport aggregates one workspace day for the dashboard.
type DailyReport struct {
	WorkspaceID   string    `db:"workspace_id"`
	Day           string    `db:"day"` // YYYY-MM-DD, UTC
	Inbound       int       `db:"inbound"`
	Replies       int       `db:"replies"`
	Escalations   int       `db:"escalations"`
	FollowUpsSent int       `db:"followups_sent"`
	Categories    CountMap  `db:"categories"`
	UpdatedAt     time.Time `db:"updated_at"`
}
