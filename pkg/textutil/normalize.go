package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// leetFold maps common leetspeak substitutions back to letters.
var leetFold = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'8': 'b',
	'@': 'a',
	'$': 's',
	'!': 'i',
	'+': 't',
}

// NormalizeToken lowercases a token, strips diacritics and folds leetspeak
// substitutions so that disguised words match an exact blocklist.
func NormalizeToken(token string) string {
	lower := strings.ToLower(token)

	stripped, _, err := transform.String(diacriticStripper, lower)
	if err != nil {
		stripped = lower
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if folded, ok := leetFold[r]; ok {
			b.WriteRune(folded)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokenize splits content on whitespace and punctuation boundaries.
func Tokenize(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '@' && r != '$' && r != '!' && r != '+')
	})
}

// LongestRun returns the length of the longest run of one repeated rune.
func LongestRun(s string) int {
	longest := 0
	current := 0
	var last rune = -1

	for _, r := range s {
		if r == last {
			current++
		} else {
			current = 1
			last = r
		}
		if current > longest {
			longest = current
		}
	}
	return longest
}

// LongestClassRun returns the length of the longest run of consecutive runes
// for which class returns true.
func LongestClassRun(s string, class func(rune) bool) int {
	longest := 0
	current := 0

	for _, r := range s {
		if class(r) {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 0
		}
	}
	return longest
}
