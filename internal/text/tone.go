package text

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	hashtagRegex  = regexp.MustCompile(`(^|[^\p{L}\p{N}_&])#[\p{N}_]*\p{L}[\p{L}\p{N}_]*`)
	emptyBrackets = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
	emojiRegex    = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{1F1E6}-\x{1F1FF}\x{2600}-\x{27BF}\x{2300}-\x{23FF}\x{2B00}-\x{2BFF}\x{E0020}-\x{E007F}\x{FE00}-\x{FE0F}\x{200D}\x{20E3}]`)
)

// StripHashtags removes #tag tokens, including chained ones like "#a#b" and
// tags glued to punctuation. Brackets left empty are removed with them.
// A tag needs a letter, so "#12" stays; entities such as "&#39;" are not tags.
func StripHashtags(s string) string {
	for {
		next := hashtagRegex.ReplaceAllString(s, "$1")
		if next == s {
			break
		}
		s = next
	}
	return NormalizeSpace(emptyBrackets.ReplaceAllString(s, ""))
}

// StripEmoji removes pictographic code points, modifiers and joiners.
func StripEmoji(s string) string {
	return NormalizeSpace(emojiRegex.ReplaceAllString(s, ""))
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’':
		return true
	}
	return false
}

// Sentences splits s on terminal punctuation followed by whitespace or the end
// of the text. Punctuation stays with its sentence; empty pieces are dropped.
func Sentences(s string) []string {
	runes := []rune(NormalizeSpace(s))
	var (
		out   []string
		start int
	)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminal(runes[j]) || isCloser(runes[j])) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		if piece := strings.TrimSpace(string(runes[start:j])); piece != "" {
			out = append(out, piece)
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		if piece := strings.TrimSpace(string(runes[start:])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// FirstWords returns up to n lowercased words of s with surrounding
// punctuation removed.
func FirstWords(s string, n int) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		w := strings.ToLower(strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))
		if w == "" {
			continue
		}
		out = append(out, w)
		if len(out) == n {
			break
		}
	}
	return out
}

// OpeningOverlap is the share of the first n words of a that also occur among
// the first n words of b. It is 0 when a has no words.
func OpeningOverlap(a, b string, n int) float64 {
	wa := FirstWords(a, n)
	if len(wa) == 0 {
		return 0
	}
	seen := make(map[string]int)
	for _, w := range FirstWords(b, n) {
		seen[w]++
	}
	matches := 0
	for _, w := range wa {
		if seen[w] > 0 {
			seen[w]--
			matches++
		}
	}
	return float64(matches) / float64(len(wa))
}
