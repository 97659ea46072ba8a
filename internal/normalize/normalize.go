// Package normalize provides canonicalization for user-entered names.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// TagName cleans up a raw tag name for display: trims whitespace and
// collapses internal runs of spaces. The result keeps the user's casing.
// Returns "" when nothing remains, which callers treat as invalid input.
func TagName(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// FoldTagName returns the case-insensitive identity of a tag name.
// Two names with the same fold are the same tag. Unicode case folding
// handles more than ASCII lowercasing ("Straße" matches "STRASSE").
func FoldTagName(name string) string {
	return foldCaser.String(norm.NFC.String(TagName(name)))
}
