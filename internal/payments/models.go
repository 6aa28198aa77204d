package payments

import (
	"time"

	"github.com/google/uuid"
)

// CardVerification records one card fingerprint observed for a user. Rows
// accumulate; the newest verification is the user's current card and the
// fingerprint column is what the card-reuse signal counts across users.
type CardVerification struct {
	ID              uuid.UUID `json:"id" db:"id"`
	UserID          uuid.UUID `json:"user_id" db:"user_id"`
	CardFingerprint string    `json:"card_fingerprint" db:"card_fingerprint"`
	CardBrand       *string   `json:"card_brand,omitempty" db:"card_brand"`
	CardLast4       *string   `json:"card_last4,omitempty" db:"card_last4"`
	VerifiedAt      time.Time `json:"verified_at" db:"verified_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// CardDetails is the slice of a Stripe payment method the verifier keeps:
// the fingerprint that identifies the physical card across customers, plus
// display fields for audit.
type CardDetails struct {
	Fingerprint string
	Brand       string
	Last4       string
}
