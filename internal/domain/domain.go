// Package domain holds the value types and enumerations shared by the
// decision engine, the scheduler jobs and the persistence layer.
package domain

import "strings"

// FallbackReply is sent whenever the assistant cannot produce a safe answer.
const FallbackReply = "Thanks for reaching out! A teammate will follow up shortly."

// Role identifies who authored a message.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleBusinessUser Role = "business_user"
	RoleAssistant    Role = "assistant"
)

// CategoryPolicy controls how autonomously the assistant may answer a category.
type CategoryPolicy string

const (
	PolicyFullAuto   CategoryPolicy = "full_auto"
	PolicyAssistOnly CategoryPolicy = "assist_only"
	PolicyEscalate   CategoryPolicy = "escalate"
)

// Valid reports whether p is one of the known policies.
func (p CategoryPolicy) Valid() bool {
	switch p {
	case PolicyFullAuto, PolicyAssistOnly, PolicyEscalate:
		return true
	}
	return false
}

// DecisionMode is the workspace-wide conservatism dial. It can tighten a
// category policy but never loosen it.
type DecisionMode string

const (
	ModeFullAuto DecisionMode = "full_auto"
	ModeAssist   DecisionMode = "assist"
	ModeInfoOnly DecisionMode = "info_only"
)

// Valid reports whether m is one of the known modes.
func (m DecisionMode) Valid() bool {
	switch m {
	case ModeFullAuto, ModeAssist, ModeInfoOnly:
		return true
	}
	return false
}

// HoldBehavior decides whether the assistant keeps answering while a
// conversation is held for a human.
type HoldBehavior string

const (
	HoldAISilent  HoldBehavior = "ai_silent"
	HoldAIAllowed HoldBehavior = "ai_allowed"
)

// Intent is a goal-oriented label detected from customer text. Workspace
// goals are expressed with the same labels.
type Intent string

const (
	IntentBookAppointment Intent = "book_appointment"
	IntentStartOrder      Intent = "start_order"
	IntentHandleSupport   Intent = "handle_support"
	IntentCaptureLead     Intent = "capture_lead"
	IntentDriveToChannel  Intent = "drive_to_channel"
	IntentNone            Intent = "none"
)

// Intents lists every label the detector may return, "none" last.
var Intents = []Intent{
	IntentBookAppointment,
	IntentStartOrder,
	IntentHandleSupport,
	IntentCaptureLead,
	IntentDriveToChannel,
	IntentNone,
}

// ParseIntent maps free text onto the closed intent set, returning
// IntentNone for anything unknown.
func ParseIntent(s string) Intent {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	for _, in := range Intents {
		if string(in) == s {
			return in
		}
	}
	return IntentNone
}

// AutomationSource tags assistant messages with the path that produced them.
type AutomationSource string

const (
	SourceLive     AutomationSource = "live"
	SourceSandbox  AutomationSource = "sandbox"
	SourceFollowUp AutomationSource = "followup"
)

// AttachmentType classifies media carried by a message.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is a media item on a message. Data is only populated for the
// cycle that received the media and is never persisted.
type Attachment struct {
	Type          AttachmentType `json:"type"`
	URL           string         `json:"url,omitempty"`
	MIMEType      string         `json:"mime_type,omitempty"`
	Transcription string         `json:"transcription,omitempty"`
	Data          []byte         `json:"-"`
}

// Visual reports whether the attachment can be shown to a vision model.
func (a Attachment) Visual() bool {
	return (a.Type == AttachmentImage || a.Type == AttachmentVideo) && (len(a.Data) > 0 || a.URL != "")
}

// Decision is the structured outcome of reply generation.
type Decision struct {
	ReplyText        string            `json:"replyText"        yaml:"reply_text"`
	ShouldEscalate   bool              `json:"shouldEscalate"   yaml:"should_escalate"`
	EscalationReason string            `json:"escalationReason" yaml:"escalation_reason,omitempty"`
	Tags             []string          `json:"tags"             yaml:"tags,omitempty"`
	CollectedFields  map[string]string `json:"-"                yaml:"collected_fields,omitempty"`
}

// GoalField is one piece of data a goal may collect.
type GoalField struct {
	Key     string `json:"key"     yaml:"key"`
	Label   string `json:"label"   yaml:"label"`
	Collect bool   `json:"collect" yaml:"collect"`
}

// GoalConfig lists the fields configured for one goal.
type GoalConfig struct {
	Fields []GoalField `json:"fields" yaml:"fields"`
}

// Required returns the fields that must be present for completion.
func (g GoalConfig) Required() []GoalField {
	var out []GoalField
	for _, f := range g.Fields {
		if f.Collect {
			out = append(out, f)
		}
	}
	return out
}

// GoalConfigs maps each goal to its field configuration.
type GoalConfigs map[Intent]GoalConfig

// DefaultGoalConfigs returns the goal fields a new workspace starts with.
func DefaultGoalConfigs() GoalConfigs {
	return GoalConfigs{
		IntentCaptureLead: {Fields: []GoalField{
			{Key: "name", Label: "full name", Collect: true},
			{Key: "phone", Label: "phone number", Collect: true},
			{Key: "email", Label: "email address", Collect: false},
		}},
		IntentBookAppointment: {Fields: []GoalField{
			{Key: "service", Label: "service", Collect: false},
			{Key: "date", Label: "preferred date", Collect: true},
			{Key: "time", Label: "preferred time", Collect: true},
			{Key: "name", Label: "name for the booking", Collect: true},
		}},
		IntentStartOrder: {Fields: []GoalField{
			{Key: "product", Label: "product", Collect: true},
			{Key: "quantity", Label: "quantity", Collect: true},
			{Key: "address", Label: "delivery address", Collect: true},
		}},
		IntentHandleSupport: {Fields: []GoalField{
			{Key: "issue", Label: "issue description", Collect: true},
			{Key: "order_number", Label: "order number", Collect: false},
		}},
		IntentDriveToChannel: {Fields: []GoalField{
			{Key: "contact_handle", Label: "contact handle", Collect: true},
		}},
	}
}

// Slug lowercases s and joins its alphanumeric runs with dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127
		if isAlnum {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
