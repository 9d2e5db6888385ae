package labeler

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText prepares a headline for scoring: NFKC folding, control
// characters removed and every whitespace run collapsed to one space.
func NormalizeText(text string) string {
	folded := norm.NFKC.String(text)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) || r == '\ufeff' {
			return -1
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(cleaned), " ")
}
