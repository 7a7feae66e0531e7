package geocode

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// abbreviations expands the street-address shorthand most common in the
// source records. Patterns match whole words on the already-lowercased text.
var abbreviations = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\bst\b`), "street"},
	{regexp.MustCompile(`\brd\b`), "road"},
	{regexp.MustCompile(`\bave\b`), "avenue"},
	{regexp.MustCompile(`\bdr\b`), "drive"},
	{regexp.MustCompile(`\bpl\b`), "place"},
	{regexp.MustCompile(`\bapt\b`), "apartment"},
	{regexp.MustCompile(`\bunit\b`), "unit"},
}

var (
	punctuationRe = regexp.MustCompile(`[,.#]`)
	multiSpaceRe  = regexp.MustCompile(`\s+`)
)

// Normalize standardizes a raw address for consistent cache matching:
// lowercase, punctuation collapsed to spaces, abbreviations expanded,
// whitespace collapsed. Pure and total; empty input normalizes to "".
func Normalize(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return ""
	}

	normalized = punctuationRe.ReplaceAllString(normalized, " ")

	for _, abbr := range abbreviations {
		normalized = abbr.pattern.ReplaceAllString(normalized, abbr.replacement)
	}

	normalized = multiSpaceRe.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// keyLength is the number of hex characters kept from the SHA-256 digest.
const keyLength = 16

// KeyFor returns the cache key for a raw address: a truncated SHA-256 hex
// digest of the normalized form. Two raw strings that normalize identically
// always share a key. Returns "" when the address normalizes to nothing.
func KeyFor(raw string) string {
	normalized := Normalize(raw)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:keyLength]
}
