// Package textnorm canonicalizes Arabic text so that orthographic variants
// of the same word compare equal. Matching keyword terms against
// announcement text goes through Normalize on both sides.
package textnorm

import (
	"strings"
	"unicode"
)

// Normalize returns the canonical form of s. It lowercases Latin letters,
// strips Arabic diacritics (tashkeel), folds letter-shape variants to one
// canonical base letter, collapses whitespace runs to a single space and
// trims. The function is pure and idempotent: Normalize(Normalize(s)) ==
// Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true // treat leading whitespace as already collapsed
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		case isTashkeel(r):
			continue
		}

		b.WriteRune(foldRune(unicode.ToLower(r)))
		lastSpace = false
	}

	return strings.TrimRight(b.String(), " ")
}

// isTashkeel reports whether r is an Arabic diacritical mark (U+064B–U+065F).
func isTashkeel(r rune) bool {
	return r >= 0x064B && r <= 0x065F
}

func foldRune(r rune) rune {
	switch r {
	// Alef variants: madda, hamza above, hamza below, wasla.
	case 'آ', 'أ', 'إ', 'ٱ':
		return 'ا'
	// Alef maksura folds into ya.
	case 'ى':
		return 'ي'
	// Hamza carriers fold into the bare hamza.
	case 'ؤ', 'ئ':
		return 'ء'
	// Teh marbuta folds into heh; the two are used interchangeably in
	// announcement text (شركة vs شركه).
	case 'ة':
		return 'ه'
	}
	return r
}
