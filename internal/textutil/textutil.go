// Package textutil holds the text normalization shared by extraction,
// access control and the funnel.
package textutil

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	spaceRe = regexp.MustCompile(`\s+`)
	tokenRe = regexp.MustCompile(`[a-z0-9\x{4e00}-\x{9fff}]+`)
)

// NormalizeSpace collapses whitespace runs into one space and trims.
func NormalizeSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Fold maps s to a comparison form: NFKC, full-width folded to half-width,
// lowercased, whitespace collapsed.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	return NormalizeSpace(strings.ToLower(s))
}

// Tokens splits folded text into latin-digit words and CJK runs.
func Tokens(s string) []string {
	return tokenRe.FindAllString(Fold(s), -1)
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]struct{} {
	toks := Tokens(s)
	out := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		out[t] = struct{}{}
	}
	return out
}

// Clip returns at most n runes of s.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// RuneLen is utf8.RuneCountInString.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// ContainsAny reports whether the folded text contains any of terms.
// Terms are folded the same way.
func ContainsAny(folded string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(folded, Fold(t)) {
			return true
		}
	}
	return false
}

// IsUnknownAuthor reports whether a display name carries no identity.
func IsUnknownAuthor(name string) bool {
	switch Fold(name) {
	case "", "unknown", "匿名", "none", "null":
		return true
	}
	return false
}
