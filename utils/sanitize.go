package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

const maxSanitizePasses = 3

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// SanitizeText strips every tag and script body from free text and trims it.
// Entity-encoded markup is decoded and sanitized again until the text is stable.
// Text that is still changing after the last pass loses its angle brackets.
func SanitizeText(s string) string {
	out := s
	stable := false
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(strictPolicy.Sanitize(out))
		if next == out {
			stable = true
			break
		}
		out = next
	}
	if !stable {
		out = angleBrackets.Replace(html.UnescapeString(strictPolicy.Sanitize(out)))
	}
	return strings.TrimSpace(out)
}

// SanitizeTextPtr applies SanitizeText to an optional value
func SanitizeTextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := SanitizeText(*s)
	return &v
}
