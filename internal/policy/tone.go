package policy

import (
	"strings"

	"github.com/edgard/inboxpilot/internal/text"
)

// Tone holds the workspace tone switches and the anti-repetition inputs.
type Tone struct {
	AllowHashtags bool
	AllowEmojis   bool
	MaxSentences  int
	Previous      string  // previous assistant message, may be empty
	Threshold     float64 // opening overlap that counts as repetition
	Words         int     // opening window in words
}

// Clean strips disallowed hashtags and emoji, drops a first sentence that
// repeats the previous assistant opening, and truncates to MaxSentences.
// Without Previous it is idempotent.
func Clean(s string, t Tone) string {
	s = text.NormalizeSpace(s)
	if !t.AllowHashtags {
		s = text.StripHashtags(s)
	}
	if !t.AllowEmojis {
		s = text.StripEmoji(s)
	}

	sentences := text.Sentences(s)
	sentences = dropRepeatedOpening(sentences, t)
	if t.MaxSentences > 0 && len(sentences) > t.MaxSentences {
		sentences = sentences[:t.MaxSentences]
	}
	return strings.Join(sentences, " ")
}

// dropRepeatedOpening removes the first sentence when its opening overlaps the
// previous assistant message's opening by at least the threshold. Only that
// one sentence is dropped, and never the only one.
func dropRepeatedOpening(sentences []string, t Tone) []string {
	if len(sentences) < 2 || strings.TrimSpace(t.Previous) == "" {
		return sentences
	}
	threshold := t.Threshold
	if threshold <= 0 {
		threshold = DefaultRepetitionThreshold
	}
	words := t.Words
	if words <= 0 {
		words = DefaultRepetitionWords
	}
	if text.OpeningOverlap(sentences[0], t.Previous, words) >= threshold {
		return sentences[1:]
	}
	return sentences
}
