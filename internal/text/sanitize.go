// Package text holds the string handling shared by the inbound handler, the
// knowledge resolver and the policy enforcer.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	controlCharsRegex     = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	multipleNewlinesRegex = regexp.MustCompile(`\n{3,}`)

	unicodeReplacer = strings.NewReplacer(
		"\u2060", "", "\uFEFF", "",
		"\u00AD", "", "\u200E", "", "\u200F", "",
		"\u202A", "", "\u202B", "", "\u202C", "", "\u202D", "", "\u202E", "",
		"\u200B", " ", "\u200C", " ",
		"\u2028", "\n", "\u2029", "\n\n",
		"\u205F", " ", "\u2009", " ", "\u200A", " ",
		"\u202F", " ", "\u00A0", " ",
	)
)

// NormalizeSpace collapses runs of whitespace into one space and trims the ends.
func NormalizeSpace(line string) string {
	var b strings.Builder
	space := false
	for _, r := range line {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteRune(' ')
				space = true
			}
			continue
		}
		b.WriteRune(r)
		space = false
	}
	return strings.TrimSpace(b.String())
}

// Sanitize cleans customer text before it is stored: invisible and control
// characters go, line endings and whitespace are normalized, and runs of
// blank lines collapse to one. The result may be empty.
func Sanitize(input string) string {
	if input == "" {
		return ""
	}

	s := strings.ReplaceAll(input, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = unicodeReplacer.Replace(s)
	s = controlCharsRegex.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = NormalizeSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = multipleNewlinesRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Preview shortens s to at most n runes for logs.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
