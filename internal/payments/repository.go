package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed card verification store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new card verification repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LatestFingerprintForUser returns the fingerprint of the user's most
// recently verified card, or "" when the user has no verified card.
func (r *Repository) LatestFingerprintForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	query := `
		SELECT card_fingerprint
		FROM card_verifications
		WHERE user_id = $1
		ORDER BY verified_at DESC
		LIMIT 1
	`

	var fingerprint string
	err := r.db.QueryRow(ctx, query, userID).Scan(&fingerprint)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up card verification for user %s: %w", userID, err)
	}
	return fingerprint, nil
}

// CountDistinctUsersForCardFingerprint counts how many distinct users have
// verified a card with the given fingerprint.
func (r *Repository) CountDistinctUsersForCardFingerprint(ctx context.Context, cardFingerprint string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT user_id)
		FROM card_verifications
		WHERE card_fingerprint = $1
	`

	var count int
	if err := r.db.QueryRow(ctx, query, cardFingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count card reuse: %w", err)
	}
	return count, nil
}

// StripeCustomerForUser resolves the user's Stripe customer id from the
// platform user record, or "" when the user has none.
func (r *Repository) StripeCustomerForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	query := `
		SELECT stripe_customer_id
		FROM users
		WHERE id = $1
	`

	var customerID *string
	err := r.db.QueryRow(ctx, query, userID).Scan(&customerID)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up stripe customer for user %s: %w", userID, err)
	}
	if customerID == nil {
		return "", nil
	}
	return *customerID, nil
}

// RecordVerification stores a card verification. Re-verifying the same card
// for the same user refreshes the verified-at time instead of duplicating.
func (r *Repository) RecordVerification(ctx context.Context, verification *CardVerification) error {
	query := `
		INSERT INTO card_verifications (
			id, user_id, card_fingerprint, card_brand, card_last4,
			verified_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, card_fingerprint) DO UPDATE
		SET verified_at = EXCLUDED.verified_at,
		    card_brand = COALESCE(EXCLUDED.card_brand, card_verifications.card_brand),
		    card_last4 = COALESCE(EXCLUDED.card_last4, card_verifications.card_last4)
	`

	_, err := r.db.Exec(ctx, query,
		verification.ID, verification.UserID, verification.CardFingerprint,
		verification.CardBrand, verification.CardLast4, verification.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record card verification: %w", err)
	}
	return nil
}
