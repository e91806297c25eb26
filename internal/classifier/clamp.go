package classifier

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	ShortTextRunes     = 20
	ShortTextCap       = 0.45
	ThinDescriptionLen = 30
	ThinDescriptionCap = 0.6
)

// ClampInput is the evidence a clamp rule may inspect.
type ClampInput struct {
	Text        string
	Description string
}

// ClampRule maps a confidence to a confidence that is never higher than the
// evidence supports.
type ClampRule func(confidence float64, in ClampInput) float64

// DefaultRules returns the rules applied to every classification, in order.
func DefaultRules() []ClampRule {
	return []ClampRule{UnitInterval, CapShortText, CapThinDescription}
}

// Apply folds rules over confidence in order.
func Apply(confidence float64, in ClampInput, rules ...ClampRule) float64 {
	for _, rule := range rules {
		confidence = rule(confidence, in)
	}
	return confidence
}

// UnitInterval clamps into [0,1]; NaN becomes 0.
func UnitInterval(confidence float64, _ ClampInput) float64 {
	if math.IsNaN(confidence) {
		return 0
	}
	return math.Max(0, math.Min(1, confidence))
}

// CapShortText caps confidence for messages under ShortTextRunes characters.
func CapShortText(confidence float64, in ClampInput) float64 {
	if utf8.RuneCountInString(strings.TrimSpace(in.Text)) < ShortTextRunes {
		return math.Min(confidence, ShortTextCap)
	}
	return confidence
}

// CapThinDescription caps confidence when the matched category is barely described.
func CapThinDescription(confidence float64, in ClampInput) float64 {
	if utf8.RuneCountInString(strings.TrimSpace(in.Description)) < ThinDescriptionLen {
		return math.Min(confidence, ThinDescriptionCap)
	}
	return confidence
}
