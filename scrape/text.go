package scrape

import (
	"strings"
	"unicode"
)

// Digits keeps only the ASCII digits of s: "HK$1,250萬" becomes "1250".
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripSpace removes every white space character from s.
func StripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// SquashSpace trims s and collapses inner runs of white space to a single
// space.
func SquashSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ReverseDate reverses the parts of a slash separated date, turning
// dd/mm/yyyy into yyyy/mm/dd so that rows sort by date as text.
func ReverseDate(s string) string {
	if s == "" {
		return ""
	}
	parts := strings.Split(s, "/")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}
