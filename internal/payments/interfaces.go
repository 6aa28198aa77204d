package payments

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryInterface defines the interface for card verification storage
type RepositoryInterface interface {
	LatestFingerprintForUser(ctx context.Context, userID uuid.UUID) (string, error)
	CountDistinctUsersForCardFingerprint(ctx context.Context, cardFingerprint string) (int, error)
	StripeCustomerForUser(ctx context.Context, userID uuid.UUID) (string, error)
	RecordVerification(ctx context.Context, verification *CardVerification) error
}

// StripeClientInterface is the Stripe surface the verifier depends on
type StripeClientInterface interface {
	DefaultCardForCustomer(ctx context.Context, customerID string) (*CardDetails, error)
}
