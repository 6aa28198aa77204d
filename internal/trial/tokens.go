package trial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/restoreassist/trial-engine/internal/fraud"
)

// errDeviceLimitReached signals that the grant increment came back above
// the per-device cap: a concurrent activation for the same fingerprint won
// the race, and this one must back out without a token.
var errDeviceLimitReached = errors.New("device trial limit reached")

// TokenManager owns the token state machine: (none) -> active ->
// {expired, revoked}, with no way out of a terminal state.
type TokenManager struct {
	store    TokenStore
	registry DeviceRegistry
	policy   fraud.Policy
}

// NewTokenManager creates a token lifecycle manager.
func NewTokenManager(store TokenStore, registry DeviceRegistry, policy fraud.Policy) *TokenManager {
	return &TokenManager{store: store, registry: registry, policy: policy}
}

// Create issues a new active token and records the grant on the device.
// The registry increment is the concurrency gate for the one-trial-per-
// device policy: concurrent activations on one fingerprint receive distinct
// counts from the atomic increment, and any caller whose count lands above
// the cap backs out here with errDeviceLimitReached. A count that
// over-counts by the backed-out attempt errs in the safe direction.
func (tm *TokenManager) Create(ctx context.Context, userID uuid.UUID, fingerprintHash string) (*FreeTrialToken, error) {
	newCount, err := tm.registry.RecordGrant(ctx, fingerprintHash)
	if err != nil {
		return nil, fmt.Errorf("failed to record device grant: %w", err)
	}
	if newCount > tm.policy.MaxTrialsPerDevice {
		return nil, errDeviceLimitReached
	}

	return tm.mint(ctx, userID)
}

// CreateUnchecked issues a token without touching the device registry.
// Only the reduced no-database pipeline uses this path.
func (tm *TokenManager) CreateUnchecked(ctx context.Context, userID uuid.UUID) (*FreeTrialToken, error) {
	return tm.mint(ctx, userID)
}

func (tm *TokenManager) mint(ctx context.Context, userID uuid.UUID) (*FreeTrialToken, error) {
	now := time.Now().UTC()
	token := &FreeTrialToken{
		ID:               uuid.New(),
		UserID:           userID,
		Status:           StatusActive,
		ReportsRemaining: tm.policy.TrialQuota,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(tm.policy.TrialWindow),
	}
	if err := tm.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to create trial token: %w", err)
	}
	return token, nil
}

// ActiveForUser returns the user's live token, or nil when there is none.
// A token found active past its window or with an exhausted quota should
// already be expired; it is settled here and reported absent.
func (tm *TokenManager) ActiveForUser(ctx context.Context, userID uuid.UUID) (*FreeTrialToken, error) {
	token, err := tm.store.ActiveTokenForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active token: %w", err)
	}
	if token == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	if !token.Active(now) {
		if _, err := tm.store.ExpireToken(ctx, token.ID, now); err != nil {
			return nil, fmt.Errorf("failed to expire stale token: %w", err)
		}
		return nil, nil
	}
	return token, nil
}

// Get returns the token with the given id regardless of state, or nil.
func (tm *TokenManager) Get(ctx context.Context, tokenID uuid.UUID) (*FreeTrialToken, error) {
	return tm.store.GetToken(ctx, tokenID)
}

// Consume burns one report generation against the token. False means the
// token is missing, terminal, exhausted, or past its window; the store
// settles any overdue expiry in the same call.
func (tm *TokenManager) Consume(ctx context.Context, tokenID uuid.UUID, reportID string) (bool, error) {
	return tm.store.ConsumeToken(ctx, tokenID, reportID, time.Now().UTC())
}

// Revoke kills a token after a post-hoc fraud finding. Idempotent: a token
// already settled in a terminal state reports true; only a missing token
// reports false.
func (tm *TokenManager) Revoke(ctx context.Context, tokenID uuid.UUID, reason string) (bool, error) {
	return tm.store.RevokeToken(ctx, tokenID, reason, time.Now().UTC())
}
