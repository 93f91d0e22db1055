package summary

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ent0n29/echoverse/internal/provider"
)

const (
	DefaultMaxWords = 8
	DefaultMaxChars = 80
)

var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'`', '`'},
	{'“', '”'},
	{'‘', '’'},
	{'«', '»'},
	{'「', '」'},
}

// Normalizer bounds raw model output to a single short line.
type Normalizer struct {
	MaxWords int
	MaxChars int
}

func (n Normalizer) limits() (int, int) {
	words, chars := n.MaxWords, n.MaxChars
	if words <= 0 {
		words = DefaultMaxWords
	}
	if chars <= 0 {
		chars = DefaultMaxChars
	}
	return words, chars
}

// Normalize returns the usable phrase in raw, or false when nothing usable is left.
func (n Normalizer) Normalize(raw string) (string, bool) {
	maxWords, maxChars := n.limits()

	text := strings.TrimSpace(raw)
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(provider.StripControl(text))
	text = unwrapQuotes(text)

	words := strings.Fields(text)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	for len(words) > 1 && utf8.RuneCountInString(strings.Join(words, " ")) > maxChars {
		words = words[:len(words)-1]
	}
	text = strings.Join(words, " ")
	if utf8.RuneCountInString(text) > maxChars {
		return "", false
	}
	text = strings.TrimRight(text, ",;:-–— ")
	if !hasLetterOrDigit(text) {
		return "", false
	}
	return text, true
}

func unwrapQuotes(s string) string {
	for {
		runes := []rune(s)
		if len(runes) < 2 {
			return s
		}
		first, last := runes[0], runes[len(runes)-1]
		unwrapped := false
		for _, pair := range quotePairs {
			if first == pair[0] && last == pair[1] {
				s = strings.TrimSpace(string(runes[1 : len(runes)-1]))
				unwrapped = true
				break
			}
		}
		if !unwrapped {
			return s
		}
	}
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
