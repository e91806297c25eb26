// Package escalation decides whether a conversation is under a human hold
// and whether the assistant may still answer while it is.
package escalation

import (
	"time"

	"github.com/edgard/inboxpilot/internal/domain"
)

const (
	DefaultHoldMinutes = 60
	MinHoldMinutes     = 5
	MaxHoldMinutes     = 720
)

// HoldDuration clamps the configured minutes into [MinHoldMinutes,
// MaxHoldMinutes]; zero or negative selects DefaultHoldMinutes.
func HoldDuration(minutes int) time.Duration {
	switch {
	case minutes <= 0:
		minutes = DefaultHoldMinutes
	case minutes < MinHoldMinutes:
		minutes = MinHoldMinutes
	case minutes > MaxHoldMinutes:
		minutes = MaxHoldMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Hold is the escalation state of a conversation at a point in time.
type Hold struct {
	Held   bool
	Silent bool // the assistant must not answer
	Since  time.Time
	Until  time.Time
}

// Evaluate returns the hold in force at now for a conversation escalated at
// escalatedAt (nil when never escalated or already resolved).
func Evaluate(escalatedAt *time.Time, holdMinutes int, behavior domain.HoldBehavior, now time.Time) Hold {
	if escalatedAt == nil || escalatedAt.IsZero() {
		return Hold{}
	}
	until := escalatedAt.Add(HoldDuration(holdMinutes))
	if !now.Before(until) {
		return Hold{}
	}
	return Hold{
		Held:   true,
		Silent: behavior != domain.HoldAIAllowed,
		Since:  *escalatedAt,
		Until:  until,
	}
}
