package payments

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/restoreassist/trial-engine/pkg/logger"
	"github.com/restoreassist/trial-engine/pkg/resilience"
)

// Verifier answers card-fingerprint questions for the fraud detector. It is
// a side signal: every lookup runs through a circuit breaker and callers
// treat any error, including an open breaker, as "signal unavailable".
type Verifier struct {
	repo    RepositoryInterface
	stripe  StripeClientInterface
	breaker *resilience.CircuitBreaker
}

// NewVerifier creates a card verifier. A nil Stripe client disables remote
// fingerprint resolution; only locally verified cards are consulted then.
func NewVerifier(repo RepositoryInterface, stripeClient StripeClientInterface) *Verifier {
	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "payments-verifier",
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}, resilience.GracefulDegradation("payments-verifier"))

	return &Verifier{
		repo:    repo,
		stripe:  stripeClient,
		breaker: breaker,
	}
}

// CardFingerprintForUser returns the fingerprint of the user's verified
// card. Local verifications win; when none exist and Stripe is configured,
// the customer's default card is resolved remotely and persisted for future
// lookups. An empty fingerprint means the user carries no card signal.
func (v *Verifier) CardFingerprintForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	result, err := v.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		fingerprint, err := v.resolveFingerprint(ctx, userID)
		if err != nil {
			return nil, err
		}
		return fingerprint, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// CountDistinctUsersForCardFingerprint counts users sharing the fingerprint.
func (v *Verifier) CountDistinctUsersForCardFingerprint(ctx context.Context, cardFingerprint string) (int, error) {
	result, err := v.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		count, err := v.repo.CountDistinctUsersForCardFingerprint(ctx, cardFingerprint)
		if err != nil {
			return nil, err
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (v *Verifier) resolveFingerprint(ctx context.Context, userID uuid.UUID) (string, error) {
	fingerprint, err := v.repo.LatestFingerprintForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if fingerprint != "" {
		return fingerprint, nil
	}

	if v.stripe == nil {
		return "", nil
	}

	customerID, err := v.repo.StripeCustomerForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", nil
	}

	card, err := v.stripe.DefaultCardForCustomer(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve card for customer %s: %w", customerID, err)
	}
	if card == nil || card.Fingerprint == "" {
		return "", nil
	}

	verification := &CardVerification{
		ID:              uuid.New(),
		UserID:          userID,
		CardFingerprint: card.Fingerprint,
		VerifiedAt:      time.Now(),
	}
	if card.Brand != "" {
		verification.CardBrand = &card.Brand
	}
	if card.Last4 != "" {
		verification.CardLast4 = &card.Last4
	}

	// The fingerprint is already in hand; caching it locally is best effort.
	if err := v.repo.RecordVerification(ctx, verification); err != nil {
		logger.WithContext(ctx).Warn("failed to persist card verification",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	return card.Fingerprint, nil
}
