package intent

import (
	"strings"

	"github.com/edgard/inboxpilot/internal/domain"
)

type keywordRule struct {
	intent  domain.Intent
	phrases []string
}

// Evaluated top to bottom; the first rule with a matching phrase wins.
var keywordRules = []keywordRule{
	{domain.IntentHandleSupport, []string{
		"not working", "doesn't work", "does not work", "stopped working", "broken", "damaged",
		"problem", "issue", "error", "help me", "can't log", "cannot log", "complaint", "refund", "return it",
	}},
	{domain.IntentBookAppointment, []string{
		"book", "booking", "appointment", "schedule", "reschedule", "reserve", "reservation",
		"available slot", "any slots", "availability", "tomorrow at", "agendar", "cita",
	}},
	{domain.IntentStartOrder, []string{
		"order", "buy", "purchase", "add to cart", "i'll take", "i will take", "checkout", "deliver",
		"comprar", "pedido",
	}},
	{domain.IntentCaptureLead, []string{
		"call me", "contact me", "my number", "my phone", "my email", "reach me", "get back to me",
		"interested", "quote", "price list", "more info",
	}},
	{domain.IntentDriveToChannel, []string{
		"whatsapp", "telegram", "instagram", "website", "email you", "phone number", "call you",
		"dm", "direct message", "link",
	}},
}

// FallbackIntent matches curated phrases in priority order. It is pure and
// returns IntentNone when nothing matches.
func FallbackIntent(text string) domain.Intent {
	words := " " + strings.Join(strings.Fields(strings.ToLower(text)), " ") + " "
	if strings.TrimSpace(words) == "" {
		return domain.IntentNone
	}
	for _, rule := range keywordRules {
		for _, p := range rule.phrases {
			if containsPhrase(words, p) {
				return rule.intent
			}
		}
	}
	return domain.IntentNone
}

// containsPhrase matches p at word boundaries in padded, space-normalized text.
func containsPhrase(padded, p string) bool {
	idx := strings.Index(padded, p)
	for idx >= 0 {
		before := padded[idx-1]
		end := idx + len(p)
		if !isWordByte(before) && (end >= len(padded) || !isWordByte(padded[end])) {
			return true
		}
		next := strings.Index(padded[idx+1:], p)
		if next < 0 {
			return false
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '\'' || b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b >= 0x80
}
