package resolve

import (
	"regexp"
	"strings"
)

var (
	// Longer alternatives first: leftmost-first matching would otherwise
	// let Mr match the prefix of Mrs and leave "s." behind.
	titleRe  = regexp.MustCompile(`(?i)\b(Dr\.?|Director|Prof\.?|Mrs\.?|Ms\.?|Mr\.?)\s*`)
	parensRe = regexp.MustCompile(`\([^)]*\)`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// NormalizeName strips honorifics and titles, parenthesized qualifiers,
// quotes, and surplus whitespace, then lowercases. Two names that normalize
// to the same string are treated as the same entity without consulting the
// arbiter.
func NormalizeName(name string) string {
	n := titleRe.ReplaceAllString(name, "")
	n = parensRe.ReplaceAllString(n, "")
	n = spaceRe.ReplaceAllString(strings.TrimSpace(n), " ")
	n = strings.ReplaceAll(n, "'", "")
	n = strings.ReplaceAll(n, `"`, "")
	return strings.ToLower(n)
}
