// Package policy post-processes generated decisions so they comply with the
// category policy, the workspace decision mode and its tone settings.
package policy

import (
	"regexp"
	"strings"

	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/text"
)

const (
	MaxTags       = 10
	EscalationTag = "escalation"

	DefaultRepetitionThreshold = 0.7
	DefaultRepetitionWords     = 8

	// HumanAck is appended to escalated replies that do not mention a person.
	HumanAck = "A teammate will follow up shortly."

	reviewReason   = "Workspace prefers human review"
	categoryReason = "Category requires a human"
)

// Input is everything enforcement depends on besides the raw decision.
type Input struct {
	CategoryName        string
	CategoryPolicy      domain.CategoryPolicy
	EscalationNote      string
	Mode                domain.DecisionMode
	AllowHashtags       bool
	AllowEmojis         bool
	MaxSentences        int
	PreviousAssistant   string
	RepetitionThreshold float64
	RepetitionWords     int
}

// Enforce applies, in order: category escalation, conservative-mode
// escalation, tag normalization, tone cleanup and the empty-text safeguard.
// It is pure.
func Enforce(raw domain.Decision, in Input) domain.Decision {
	d := raw
	d.Tags = append([]string(nil), raw.Tags...)

	switch {
	case in.CategoryPolicy == domain.PolicyEscalate:
		d.ShouldEscalate = true
		if strings.TrimSpace(d.EscalationReason) == "" {
			d.EscalationReason = in.EscalationNote
		}
		if strings.TrimSpace(d.EscalationReason) == "" {
			d.EscalationReason = categoryReason
		}
	case in.CategoryPolicy == domain.PolicyAssistOnly && in.Mode == domain.ModeInfoOnly:
		d.ShouldEscalate = true
		if strings.TrimSpace(d.EscalationReason) == "" {
			d.EscalationReason = reviewReason
		}
	}

	d.Tags = NormalizeTags(d.Tags, in.CategoryName, d.ShouldEscalate)

	d.ReplyText = Clean(d.ReplyText, Tone{
		AllowHashtags: in.AllowHashtags,
		AllowEmojis:   in.AllowEmojis,
		MaxSentences:  in.MaxSentences,
		Previous:      in.PreviousAssistant,
		Threshold:     in.RepetitionThreshold,
		Words:         in.RepetitionWords,
	})

	// Cleanup may drop sentences, so the acknowledgment is checked afterwards.
	if d.ShouldEscalate {
		d.ReplyText = EnsureHumanAck(d.ReplyText, in.MaxSentences)
	}
	if strings.TrimSpace(d.ReplyText) == "" {
		d.ReplyText = domain.FallbackReply
	}
	return d
}

// NormalizeTags slugs and dedupes tags, puts the category tag first and the
// escalation tag second when escalating, and caps the set at MaxTags.
func NormalizeTags(tags []string, category string, escalate bool) []string {
	out := make([]string, 0, len(tags)+2)
	seen := make(map[string]bool)
	add := func(tag string) {
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}

	add(domain.Slug(category))
	if escalate {
		add(EscalationTag)
	} else {
		seen[EscalationTag] = true
	}
	for _, t := range tags {
		add(domain.Slug(strings.TrimPrefix(strings.TrimSpace(t), "#")))
	}
	if len(out) > MaxTags {
		out = out[:MaxTags]
	}
	return out
}

var humanRegex = regexp.MustCompile(`(?i)\b(teammates?|team members?|our team|humans?|colleagues?|staff|person|representatives?|agents?|managers?|someone (?:will|from))\b`)

// MentionsHuman reports whether s tells the customer a person is involved.
func MentionsHuman(s string) bool {
	return humanRegex.MatchString(s)
}

// EnsureHumanAck makes s state that a human will follow up, replacing the
// last sentence when s is already at maxSentences. It is idempotent.
func EnsureHumanAck(s string, maxSentences int) string {
	if MentionsHuman(s) {
		return s
	}
	sentences := text.Sentences(s)
	if maxSentences > 0 && len(sentences) >= maxSentences {
		sentences = sentences[:maxSentences-1]
	}
	sentences = append(sentences, HumanAck)
	return strings.Join(sentences, " ")
}
