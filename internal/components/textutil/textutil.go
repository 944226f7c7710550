package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize lowercases s and removes all whitespace, so phrases still match
// when markup breaks them over several lines.
func Normalize(s string) string {
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, "")
}

// ContainsAny reports whether the normalized text contains any of the
// normalized phrases, empty phrases never match.
func ContainsAny(text string, phrases []string) bool {
	text = Normalize(text)
	for _, p := range phrases {
		p = Normalize(p)
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
