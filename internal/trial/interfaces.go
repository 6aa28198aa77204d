package trial

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/restoreassist/trial-engine/internal/devices"
	"github.com/restoreassist/trial-engine/internal/fraud"
	"github.com/restoreassist/trial-engine/internal/users"
)

// Consumer-side contracts for everything the activation pipeline talks to.
// Each is satisfied by the real implementation and mocked in tests.

// TokenStore persists trial tokens, usage records and the activation audit
// log. Repository implements it on Postgres, MemoryStore in RAM.
type TokenStore interface {
	// CreateToken inserts the token and supersedes any previously active
	// token for the same user in the same unit of work.
	CreateToken(ctx context.Context, token *FreeTrialToken) error
	GetToken(ctx context.Context, tokenID uuid.UUID) (*FreeTrialToken, error)
	ActiveTokenForUser(ctx context.Context, userID uuid.UUID) (*FreeTrialToken, error)
	// ConsumeToken decrements the quota, appends the usage record, and
	// expires the token on the exhausting call, all in one unit of work.
	// Returns false without mutation for missing, terminal, exhausted or
	// out-of-window tokens.
	ConsumeToken(ctx context.Context, tokenID uuid.UUID, reportID string, now time.Time) (bool, error)
	// ExpireToken moves an active token to expired. Returns false when the
	// token is missing or already terminal.
	ExpireToken(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error)
	// RevokeToken moves an active token to revoked. Terminal tokens are
	// left untouched and report true; only a missing token reports false.
	RevokeToken(ctx context.Context, tokenID uuid.UUID, reason string, now time.Time) (bool, error)
	ListUsage(ctx context.Context, tokenID uuid.UUID, limit, offset int) ([]*TrialUsageRecord, int64, error)
	InsertActivation(ctx context.Context, activation *TrialActivation) error
	CountGrantsFromIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

// DeviceRegistry is the slice of the fingerprint registry the pipeline
// uses. Satisfied by devices.Service.
type DeviceRegistry interface {
	Lookup(ctx context.Context, fingerprintHash string) (*devices.DeviceFingerprint, error)
	RecordSighting(ctx context.Context, fingerprintHash string, deviceData map[string]interface{}, seenAt time.Time) error
	RecordGrant(ctx context.Context, fingerprintHash string) (int, error)
}

// UserDirectory resolves users; a nil user with nil error means absent.
// Satisfied by users.Directory.
type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// FlagEvaluator runs the fraud signal evaluators in their fixed order.
// Satisfied by fraud.Detector.
type FlagEvaluator interface {
	Evaluate(ctx context.Context, ev *fraud.Evidence) []fraud.FraudFlag
}

// DecisionScorer turns a flag set into a decision. Satisfied by
// fraud.Scorer.
type DecisionScorer interface {
	Score(flags []fraud.FraudFlag) fraud.Outcome
}
