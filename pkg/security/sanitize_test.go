package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "chargeback ring", SanitizeString("  chargeback ring  "))
	assert.Equal(t, "line1\nline2", SanitizeString("line1\nline2"))
	assert.Equal(t, "tabbed\treason", SanitizeString("tabbed\treason"))
	assert.Equal(t, "nulls removed", SanitizeString("nulls\x00 removed\x07"))
	assert.Equal(t, "hello 世界", SanitizeString("hello 世界"))
	assert.Equal(t, "", SanitizeString("\x00\x1b\x07"))
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeWhitespace("a   b\t\tc"))
	assert.Equal(t, "one line", NormalizeWhitespace("one\n\nline"))
	assert.Equal(t, "", NormalizeWhitespace("   "))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
	assert.Equal(t, "abcdef", TruncateString("abcdef", 10))
	assert.Equal(t, "", TruncateString("abcdef", 0))
	assert.Equal(t, "", TruncateString("abcdef", -1))
}

func TestContainsSuspiciousContent(t *testing.T) {
	suspicious := []string{
		"<script>alert(1)</script>",
		"<IFRAME src=x>",
		"javascript:void(0)",
		"onerror=steal()",
		"1 UNION SELECT password",
		"drop table trial_tokens",
		"update users set email",
		"exec(payload)",
	}
	for _, s := range suspicious {
		assert.True(t, ContainsSuspiciousContent(s), "expected suspicious: %q", s)
	}

	clean := []string{
		"confirmed chargeback ring, see ticket 4821",
		"device shared across 6 accounts",
		"executive decision",
		"",
	}
	for _, s := range clean {
		assert.False(t, ContainsSuspiciousContent(s), "expected clean: %q", s)
	}
}

func TestSanitizeInput_PlainReasonUntouched(t *testing.T) {
	got := SanitizeInput("confirmed chargeback ring, see ticket 4821", 500)
	assert.Equal(t, "confirmed chargeback ring, see ticket 4821", got)
}

func TestSanitizeInput_ScrubsMarkup(t *testing.T) {
	got := SanitizeInput("fraud <script>alert(1)</script> confirmed", 500)
	assert.Equal(t, "fraud confirmed", got)
	assert.False(t, ContainsSuspiciousContent(got))
}

func TestSanitizeInput_ScrubsSplicedFragments(t *testing.T) {
	// Removing the inner block splices the surrounding text into a new tag;
	// the scrub loop must run again rather than store it.
	got := SanitizeInput("<scr<script>x</script>ipt>alert(1)</script>", 500)
	assert.False(t, ContainsSuspiciousContent(got))
}

func TestSanitizeInput_NormalizesAndTruncates(t *testing.T) {
	got := SanitizeInput("  too   many\n\nspaces  ", 500)
	assert.Equal(t, "too many spaces", got)

	long := strings.Repeat("x", 600)
	assert.Len(t, SanitizeInput(long, 500), 500)
}

func TestSanitizeInput_ControlOnlyInputBecomesEmpty(t *testing.T) {
	assert.Equal(t, "", SanitizeInput("  \x00  ", 500))
}
