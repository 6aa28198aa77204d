package helpers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/restoreassist/trial-engine/internal/devices"
	"github.com/restoreassist/trial-engine/internal/trial"
	"github.com/restoreassist/trial-engine/internal/users"
)

// RandomFingerprint returns a fingerprint hash in the shape client
// fingerprinting code produces: 64 lowercase hex characters.
func RandomFingerprint() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// RandomEmail returns a unique address on a non-disposable domain.
func RandomEmail() string {
	return fmt.Sprintf("user-%s@example.com", uuid.NewString()[:8])
}

// CreateTestUser creates a user with the given email. An empty email gets a
// unique generated one.
func CreateTestUser(email string) *users.User {
	if email == "" {
		email = RandomEmail()
	}
	return &users.User{
		ID:        uuid.New(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
}

// HashTestPassword returns a bcrypt hash for seeding users rows. MinCost
// keeps suites fast; the engine never verifies passwords, the column only
// has to be present for inserts.
func HashTestPassword(password string) string {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(hash)
}

// SeedUser inserts a user row. The engine only ever reads identity fields;
// the password hash satisfies the schema owned by the auth service.
func SeedUser(t *testing.T, pool *pgxpool.Pool, user *users.User) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO users (id, email, password_hash, stripe_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		user.ID, user.Email, HashTestPassword("password123"), user.StripeCustomerID, user.CreatedAt)
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", user.ID, err)
	}
}

// SeedCardVerification records a verified card fingerprint for a user, as the
// payments adapter would after a Stripe resolution.
func SeedCardVerification(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID, cardFingerprint string) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO card_verifications (id, user_id, card_fingerprint, verified_at, created_at)
		VALUES ($1, $2, $3, NOW(), NOW())`,
		uuid.New(), userID, cardFingerprint)
	if err != nil {
		t.Fatalf("failed to seed card verification for user %s: %v", userID, err)
	}
}

// CreateTestDevice creates an unblocked device record with no grants.
func CreateTestDevice(fingerprintHash string) *devices.DeviceFingerprint {
	now := time.Now().UTC()
	return &devices.DeviceFingerprint{
		FingerprintHash: fingerprintHash,
		TrialCount:      0,
		IsBlocked:       false,
		LastSeenAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CreateBlockedDevice creates a device record blocked for the given reason.
func CreateBlockedDevice(fingerprintHash, reason string) *devices.DeviceFingerprint {
	now := time.Now().UTC()
	device := CreateTestDevice(fingerprintHash)
	device.IsBlocked = true
	device.BlockedReason = &reason
	device.BlockedAt = &now
	return device
}

// CreateTestToken creates an active token with the default quota and window.
func CreateTestToken(userID uuid.UUID) *trial.FreeTrialToken {
	now := time.Now().UTC()
	return &trial.FreeTrialToken{
		ID:               uuid.New(),
		UserID:           userID,
		Status:           trial.StatusActive,
		ReportsRemaining: 3,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(7 * 24 * time.Hour),
	}
}

// CreateExpiredToken creates a token whose window closed an hour ago.
func CreateExpiredToken(userID uuid.UUID) *trial.FreeTrialToken {
	token := CreateTestToken(userID)
	token.Status = trial.StatusExpired
	token.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	return token
}

// CreateActivationRequest builds an activation request from a routable
// address with a fresh fingerprint.
func CreateActivationRequest(userID uuid.UUID) *trial.ActivateTrialRequest {
	return &trial.ActivateTrialRequest{
		UserID:          userID,
		FingerprintHash: RandomFingerprint(),
		DeviceData:      map[string]interface{}{"platform": "MacIntel", "screen": "2560x1440"},
		IPAddress:       "203.0.113.10",
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
	}
}
