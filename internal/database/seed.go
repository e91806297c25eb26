package database

import (
	"time"

	"github.com/edgard/inboxpilot/internal/domain"
)

// CatchAllCategory is the general-purpose category every workspace has. The
// classifier coerces unknown model output onto it.
const CatchAllCategory = "General"

// DefaultFollowUpMessage is the nudge sent when a workspace enables follow-ups
// without writing its own text.
const DefaultFollowUpMessage = "Hi! Just checking in. Is there anything else we can help you with?"

// SystemCategories returns the seed categories created for a workspace that
// has none. IDs and timestamps are left for the store to fill.
func SystemCategories(workspaceID string) []MessageCategory {
	cats := []MessageCategory{
		{
			Name:        CatchAllCategory,
			Description: "Messages that do not fit any other category, including greetings and small talk.",
			AIPolicy:    domain.PolicyFullAuto,
			Examples:    StringList{"Hi there", "Thanks!", "Are you open?"},
		},
		{
			Name:        "Pricing",
			Description: "Questions about prices, quotes, discounts, fees or payment options.",
			AIPolicy:    domain.PolicyAssistOnly,
			Examples:    StringList{"How much is it?", "Do you have any discounts?", "What does delivery cost?"},
		},
		{
			Name:        "Booking",
			Description: "Requests to book, reschedule or cancel an appointment or reservation.",
			AIPolicy:    domain.PolicyFullAuto,
			Examples:    StringList{"Can I book for Friday?", "I need to move my appointment", "Any slots tomorrow?"},
		},
		{
			Name:        "Orders",
			Description: "Placing a new order or asking about an existing order and its delivery.",
			AIPolicy:    domain.PolicyFullAuto,
			Examples:    StringList{"I want to order two boxes", "Where is my order?", "Can you deliver today?"},
		},
		{
			Name:        "Product Info",
			Description: "Questions about products, services, availability, features or opening hours.",
			AIPolicy:    domain.PolicyFullAuto,
			Examples:    StringList{"Do you have it in blue?", "What sizes are there?", "When do you open?"},
		},
		{
			Name:        "Support",
			Description: "Problems with a product or service the customer already has.",
			AIPolicy:    domain.PolicyFullAuto,
			Examples:    StringList{"It stopped working", "I can't log in", "The item arrived damaged"},
		},
		{
			Name:           "Complaint",
			Description:    "Expressions of dissatisfaction, angry feedback or threats to leave a bad review.",
			AIPolicy:       domain.PolicyEscalate,
			EscalationNote: "Customer complaint needs a personal response",
			Examples:       StringList{"This is unacceptable", "Worst service ever", "I'm going to leave a review"},
		},
		{
			Name:           "Refund",
			Description:    "Requests for refunds, returns, chargebacks or cancellations of paid orders.",
			AIPolicy:       domain.PolicyEscalate,
			EscalationNote: "Refund requests are handled by a teammate",
			Examples:       StringList{"I want my money back", "How do I return this?", "Cancel my order and refund me"},
		},
	}
	for i := range cats {
		cats[i].WorkspaceID = workspaceID
		cats[i].IsSystem = true
	}
	return cats
}

// DefaultSettings returns the settings record created lazily on first read.
func DefaultSettings(workspaceID string, now time.Time) *WorkspaceSettings {
	return &WorkspaceSettings{
		WorkspaceID:        workspaceID,
		DefaultLanguage:    "en",
		MaxReplySentences:  3,
		DecisionMode:       domain.ModeAssist,
		EscalationExamples: StringList{},
		HoldBehavior:       domain.HoldAISilent,
		HumanHoldMinutes:   60,
		PrimaryGoal:        domain.IntentCaptureLead,
		SecondaryGoal:      domain.IntentNone,
		Goals:              GoalConfigs(domain.DefaultGoalConfigs()),
		FollowUpMessage:    DefaultFollowUpMessage,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
