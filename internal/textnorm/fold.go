// Package textnorm folds human-entered labels (status names, column headers)
// so that "Concluído", "concluido" and " CONCLUIDO " compare equal.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses inner whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Equal reports whether a and b fold to the same text.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// In reports whether s folds to any of the candidates. Candidates are
// expected to be folded already.
func In(s string, folded ...string) bool {
	f := Fold(s)
	for _, c := range folded {
		if f == c {
			return true
		}
	}
	return false
}
