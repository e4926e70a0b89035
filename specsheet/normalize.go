package specsheet

import (
	"strings"
	"unicode"
)

// SpecSuffix is appended to a normalised identifier to form a cache file name.
const SpecSuffix = "_spec.pdf"

// NormalizeID lower-cases id, turns every space into an underscore and drops
// every other character that is not a letter or a digit.
//
//	"Q.PEAK DUO ML-G10+" -> "qpeak_duo_mlg10"
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// CompactID lower-cases id and removes everything but letters and digits.
func CompactID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// SpecFileName returns the cache file name for id, or "" when id normalises
// to nothing.
func SpecFileName(id string) string {
	n := NormalizeID(id)
	if n == "" {
		return ""
	}
	return n + SpecSuffix
}

// nameWords returns the lower-cased words of a part name longer than two
// characters, with surrounding punctuation trimmed.
func nameWords(name string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(name)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len([]rune(w)) > 2 {
			words = append(words, w)
		}
	}
	return words
}
