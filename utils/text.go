package utils

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var tagRegexp = regexp.MustCompile(`<[^<]+?>`)

// StripTags removes HTML tags with a simple pattern pass and collapses the
// remaining whitespace. Entities are left as-is.
func StripTags(s string) string {
	return NormaliseText(tagRegexp.ReplaceAllString(s, ""))
}

// NormaliseText strips leading/trailing whitespace and collapses internal whitespace.
func NormaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

// SortKey returns the NFC form of s so visually identical names compare
// equal by codepoint regardless of how the source composed accents.
func SortKey(s string) string {
	return norm.NFC.String(s)
}
