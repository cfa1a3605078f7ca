package voting

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxDescriptionLength is the longest proposal description accepted, in runes.
const MaxDescriptionLength = 500

// NormalizeDescription returns the NFC form of a proposal description with
// control characters dropped and whitespace collapsed.
func NormalizeDescription(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidDescription)
	}

	t := transform.Chain(
		runes.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return ' '
			}
			return r
		}),
		runes.Remove(runes.In(unicode.Cc)),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDescription, err)
	}
	out = strings.Join(strings.Fields(out), " ")

	switch n := utf8.RuneCountInString(out); {
	case n == 0:
		return "", fmt.Errorf("%w: description is required", ErrInvalidDescription)
	case n > MaxDescriptionLength:
		return "", fmt.Errorf("%w: %d characters, at most %d allowed", ErrInvalidDescription, n, MaxDescriptionLength)
	}
	return out, nil
}

// DescriptionKey folds a description for duplicate detection
// (lowercase, no diacritics), e.g. "Nový  Park" -> "novy park".
func DescriptionKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, _ := transform.String(t, s)
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}
