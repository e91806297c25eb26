package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"zero width and bom", "\uFEFFhel\u200Blo", "hel lo"},
		{"crlf and blank runs", "a\r\n\r\n\r\n\r\nb", "a\n\nb"},
		{"control chars", "a\x07b", "a b"},
		{"only spaces", " \t \n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestStripHashtagsAndEmoji(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Great deal today!", StripHashtags("Great deal #sale today! #promo"))
	assert.Equal(t, "Order #12 is here", StripHashtags("Order #12 is here"), "numbers are not tags")
	assert.Equal(t, "Sale", StripHashtags("Sale #a#b#c"))
	assert.Equal(t, "Deals today.", StripHashtags("Deals (#sale) today."))
	assert.Equal(t, "It&#39;s here", StripHashtags("It&#39;s here"))
	assert.Equal(t, "Welcome back!", StripEmoji("Welcome back! 🎉👋"))
	assert.Equal(t, "Hi there", StripEmoji("Hi 👨‍👩‍👧 there"))
	assert.Equal(t, "No emoji here.", StripEmoji("No emoji here."))
}

func TestSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"It costs 4.50 today. Thanks", []string{"It costs 4.50 today.", "Thanks"}},
		{"Really?! Yes.", []string{"Really?!", "Yes."}},
		{`He said "hi." Then left.`, []string{`He said "hi."`, "Then left."}},
		{"no punctuation at all", []string{"no punctuation at all"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sentences(tt.in), tt.in)
	}
}

func TestOpeningOverlap(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, OpeningOverlap("Thanks for reaching out!", "Thanks for reaching out! We open at 9.", 8), 1e-9)
	assert.InDelta(t, 0.0, OpeningOverlap("", "anything", 8), 1e-9)
	assert.InDelta(t, 0.5, OpeningOverlap("happy to help today", "Happy to see you", 8), 1e-9)
	assert.Equal(t, []string{"hi", "there"}, FirstWords("Hi, there!", 8))
}

func TestTokens(t *testing.T) {
	t.Parallel()

	assert.Zero(t, CountTokens(""))
	assert.Positive(t, CountTokens("hello world"))

	items := []string{strings.Repeat("word ", 10), strings.Repeat("word ", 10), strings.Repeat("word ", 10)}
	n := FitBudget(items, CountTokens(items[0])*2+10, 5)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, FitBudget(items, 1, 0))
}
