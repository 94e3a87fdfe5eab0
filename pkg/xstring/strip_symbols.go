package xstring

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// StripSymbols removes pictographic symbols (music notes, emoji) and
// collapses the whitespace. Letters, digits, punctuation and math signs
// are kept.
func StripSymbols(s string) string {
	composed := norm.NFC.String(s)
	var b strings.Builder
	for _, r := range composed {
		if unicode.Is(unicode.So, r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Trim(strings.Join(strings.Fields(b.String()), " "), " ,")
}
