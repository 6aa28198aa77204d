// Package users resolves user accounts from the platform's user store. The
// engine only reads identity fields; account management lives elsewhere.
package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is the slice of a platform account the engine needs: identity for
// gating, email for the disposable-domain signal, and the Stripe customer
// for card-fingerprint resolution.
type User struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Email            string    `json:"email" db:"email"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Directory looks up users in the shared platform database. It deliberately
// uses database/sql rather than the engine's pgx pool: the user store is an
// external collaborator and may live on a different connection string.
type Directory struct {
	db *sql.DB
}

// NewDirectory creates a user directory backed by the given database handle.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// FindByID returns the user with the given id, or nil when no such user
// exists. Lookup failures are returned as errors: the caller gates grants on
// this answer and must fail closed when it cannot be obtained.
func (d *Directory) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, stripe_customer_id, created_at
		FROM users
		WHERE id = $1`

	var user User
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.StripeCustomerID,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", id, err)
	}

	return &user, nil
}
