package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restoreassist/trial-engine/internal/fraud"
	"github.com/restoreassist/trial-engine/internal/trial"
)

// AssertGranted asserts that an activation produced a usable token.
func AssertGranted(t *testing.T, result *trial.ActivationResult) {
	t.Helper()
	require.NotNil(t, result)
	assert.True(t, result.Success, "activation should be granted")
	require.NotNil(t, result.TokenID, "granted activation must carry a token id")
	assert.Greater(t, result.ReportsRemaining, 0)
	require.NotNil(t, result.ExpiresAt)
	assert.True(t, result.ExpiresAt.After(time.Now()), "granted token must not be born expired")
	assert.Empty(t, result.DenialReason)
}

// AssertDenied asserts a denial that raised the given flag. A denial is a
// decision, not an error: the result itself is well-formed.
func AssertDenied(t *testing.T, result *trial.ActivationResult, flagType fraud.FlagType) {
	t.Helper()
	require.NotNil(t, result)
	assert.False(t, result.Success, "activation should be denied")
	assert.Nil(t, result.TokenID, "denied activation must not carry a token")
	assert.NotEmpty(t, result.DenialReason)
	AssertFlagRaised(t, result.FraudFlags, flagType)
}

// AssertFlagRaised asserts that a flag of the given type is present.
func AssertFlagRaised(t *testing.T, flags []fraud.FraudFlag, flagType fraud.FlagType) {
	t.Helper()
	for _, flag := range flags {
		if flag.FlagType == flagType {
			assert.Greater(t, flag.Weight, 0, "raised flag must carry its policy weight")
			assert.NotEmpty(t, flag.Detail, "raised flag must explain itself")
			return
		}
	}
	t.Errorf("expected flag %q, got %v", flagType, flags)
}

// AssertTokenActive asserts that a token is live right now.
func AssertTokenActive(t *testing.T, token *trial.FreeTrialToken) {
	t.Helper()
	require.NotNil(t, token)
	assert.Equal(t, trial.StatusActive, token.Status)
	assert.True(t, token.Active(time.Now().UTC()))
}

// AssertValidJWT asserts that a string is a valid JWT token format
func AssertValidJWT(t *testing.T, token string) {
	assert.NotEmpty(t, token)
	// JWT tokens should have 3 parts separated by dots
	assert.Contains(t, token, ".")
}
