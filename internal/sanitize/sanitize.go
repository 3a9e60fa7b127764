// Package sanitize cleans user-provided text before it is stored or
// rendered. Uses bluemonday to strip HTML (script tags, event handlers,
// javascript: URLs) from fields that should only ever contain plain text,
// such as display names.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLen caps display names after cleaning. Matches the column
// width in the users table.
const maxDisplayNameLen = 100

// strict is the singleton bluemonday policy that allows no HTML at all.
// Initialized once via sync.Once for thread-safe lazy initialization.
var (
	strict     *bluemonday.Policy
	strictOnce sync.Once
)

func strictPolicy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strict = bluemonday.StrictPolicy()
	})
	return strict
}

// DisplayName cleans a user-chosen display name: all HTML is stripped,
// entities produced by the stripper are decoded back to text, control
// characters are removed, and the result is whitespace-trimmed and
// length-capped. Safe to echo into any HTML context without escaping
// surprises.
func DisplayName(input string) string {
	cleaned := html.UnescapeString(strictPolicy().Sanitize(input))

	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)

	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > maxDisplayNameLen {
		cleaned = cleaned[:maxDisplayNameLen]
	}
	return cleaned
}

// PlainText strips all HTML from free-form text fields (like order notes)
// without the display-name length cap.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strictPolicy().Sanitize(input)))
}
