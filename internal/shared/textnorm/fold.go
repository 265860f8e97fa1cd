// Package textnorm folds Spanish text for keyword matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips combining marks, so "Cómo va" and
// "como va" compare equal. ñ folds to n.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// ContainsAny reports the first of phrases found in the folded text.
// phrases must already be folded.
func ContainsAny(text string, phrases []string) (string, bool) {
	folded := Fold(text)
	for _, p := range phrases {
		if strings.Contains(folded, p) {
			return p, true
		}
	}
	return "", false
}
