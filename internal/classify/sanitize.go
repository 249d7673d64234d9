package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const illegalChars = `<>:"/\|?*`

// Sanitize makes a path component safe on common filesystems: illegal and
// control characters become "_", text is NFC-normalised, whitespace runs
// collapse to one space, and surrounding whitespace and trailing dots are
// trimmed.
func Sanitize(s string) string {
	s = norm.NFC.String(s)

	mapped := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(illegalChars, r):
			return '_'
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, s)

	mapped = strings.Join(strings.Fields(mapped), " ")

	for {
		trimmed := strings.TrimRight(strings.TrimSpace(mapped), ".")
		if trimmed == mapped {
			break
		}
		mapped = trimmed
	}
	return mapped
}
