// Package security cleans free-form operator input before it is stored.
// The engine accepts only two kinds of free text — block reasons and
// revocation reasons — both written by admins and both rendered later in
// admin tooling, so the scrubbing is aimed at control characters and
// markup/injection fragments pasted in from elsewhere.
package security

import (
	"regexp"
	"strings"
	"unicode"
)

// suspiciousFragments match markup and query fragments that have no
// business inside a human-written reason. Matching is deliberately loose:
// a false positive costs a few stripped words, a false negative stores an
// attack string verbatim.
var suspiciousFragments = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)</?(script|iframe|embed|object)[^>]*>`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)on(click|load|error|mouseover)\s*=`),
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)(insert\s+into|delete\s+from|drop\s+table)`),
	regexp.MustCompile(`(?i)update\s+\S+\s+set`),
	regexp.MustCompile(`(?i)exec(ute)?\s*\(`),
}

// SanitizeString trims the input and drops control characters, keeping
// newlines and tabs.
func SanitizeString(s string) string {
	return strings.TrimSpace(stripControl(s))
}

// NormalizeWhitespace collapses every whitespace run into a single space.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateString cuts a string to at most maxLength bytes. A non-positive
// maxLength yields the empty string.
func TruncateString(s string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength]
}

// ContainsSuspiciousContent reports whether the input still carries a
// fragment the scrubber would remove.
func ContainsSuspiciousContent(s string) bool {
	for _, pattern := range suspiciousFragments {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// SanitizeInput is the pipeline applied to reason fields before storage:
// control characters out, suspicious fragments scrubbed, whitespace
// normalized, length capped. Removing one fragment can splice the
// surrounding text into another, so scrubbing repeats until the detector
// comes back clean.
func SanitizeInput(s string, maxLength int) string {
	s = SanitizeString(s)
	for ContainsSuspiciousContent(s) {
		for _, pattern := range suspiciousFragments {
			s = pattern.ReplaceAllString(s, "")
		}
	}
	s = NormalizeWhitespace(s)
	return TruncateString(s, maxLength)
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
