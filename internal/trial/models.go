package trial

import (
	"time"

	"github.com/google/uuid"

	"github.com/restoreassist/trial-engine/internal/fraud"
)

// ========================================
// ENUMS
// ========================================

// TokenStatus is the lifecycle state of a trial token. Tokens move
// active -> expired or active -> revoked and never leave a terminal state.
type TokenStatus string

const (
	StatusActive  TokenStatus = "active"
	StatusExpired TokenStatus = "expired"
	StatusRevoked TokenStatus = "revoked"
)

// StoreMode identifies which persistence backend the engine was started
// with. Memory mode runs the reduced pipeline and keeps nothing across
// restarts; it must be impossible to confuse the two in logs or metrics.
type StoreMode string

const (
	StoreModePostgres StoreMode = "postgres"
	StoreModeMemory   StoreMode = "memory"
)

// ========================================
// DOMAIN MODELS
// ========================================

// FreeTrialToken is a time- and usage-bounded credential granting a fixed
// number of report generations. At most one token per user is active.
type FreeTrialToken struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	UserID           uuid.UUID   `json:"user_id" db:"user_id"`
	Status           TokenStatus `json:"status" db:"status"`
	ReportsRemaining int         `json:"reports_remaining" db:"reports_remaining"`
	RevokedReason    *string     `json:"revoked_reason,omitempty" db:"revoked_reason"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
	ExpiresAt        time.Time   `json:"expires_at" db:"expires_at"`
}

// Active reports whether the token can still be consumed at the given time.
func (t *FreeTrialToken) Active(now time.Time) bool {
	return t.Status == StatusActive && t.ReportsRemaining > 0 && now.Before(t.ExpiresAt)
}

// TrialUsageRecord is one consumed report, appended on every successful
// consume. The engine writes these for audit and never reads them back
// outside the admin listing.
type TrialUsageRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TokenID   uuid.UUID `json:"token_id" db:"token_id"`
	ReportID  string    `json:"report_id" db:"report_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TrialActivation is the audit row written for every orchestrated decision,
// granted or denied. Granted rows inside the rolling window also feed the
// IP rate-limit signal.
type TrialActivation struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	UserID          uuid.UUID         `json:"user_id" db:"user_id"`
	FingerprintHash string            `json:"fingerprint_hash" db:"fingerprint_hash"`
	IPAddress       string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent       string            `json:"user_agent,omitempty" db:"user_agent"`
	Granted         bool              `json:"granted" db:"granted"`
	DenialReason    string            `json:"denial_reason,omitempty" db:"denial_reason"`
	FraudScore      int               `json:"fraud_score" db:"fraud_score"`
	FraudFlags      []fraud.FraudFlag `json:"fraud_flags,omitempty" db:"fraud_flags"`
	StoreMode       StoreMode         `json:"store_mode" db:"store_mode"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// ========================================
// REQUEST / RESPONSE MODELS
// ========================================

// ActivateTrialRequest is the immutable activation input. The fingerprint
// hash and device data arrive verbatim from the client fingerprinting code
// and are never recomputed or inspected here.
type ActivateTrialRequest struct {
	UserID          uuid.UUID              `json:"user_id" binding:"required"`
	FingerprintHash string                 `json:"fingerprint_hash" binding:"required" validate:"fingerprint"`
	DeviceData      map[string]interface{} `json:"device_data,omitempty"`
	IPAddress       string                 `json:"ip_address,omitempty" validate:"omitempty,max=45"`
	UserAgent       string                 `json:"user_agent,omitempty" validate:"omitempty,max=512"`
}

// ActivationResult is the single decision object an activation returns.
// Flags are surfaced even on success so sub-threshold signals stay
// auditable.
type ActivationResult struct {
	Success          bool              `json:"success"`
	TokenID          *uuid.UUID        `json:"token_id,omitempty"`
	ReportsRemaining int               `json:"reports_remaining,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	DenialReason     string            `json:"denial_reason,omitempty"`
	FraudFlags       []fraud.FraudFlag `json:"fraud_flags,omitempty"`
	FraudScore       int               `json:"fraud_score"`
}

// ConsumeReportRequest asks to burn one report generation against a token.
type ConsumeReportRequest struct {
	TokenID  uuid.UUID `json:"token_id" binding:"required"`
	ReportID string    `json:"report_id" binding:"required" validate:"max=128"`
}

// ConsumeReportResponse reports whether the consumption happened. False is
// a settled no-op (missing or terminal token), not an error.
type ConsumeReportResponse struct {
	Consumed bool `json:"consumed"`
}

// RevokeTrialRequest is the admin request to kill a token after a post-hoc
// fraud finding.
type RevokeTrialRequest struct {
	TokenID uuid.UUID `json:"token_id" binding:"required"`
	Reason  string    `json:"reason" binding:"required,max=500"`
}

// RevokeTrialResponse confirms the token is revoked.
type RevokeTrialResponse struct {
	TokenID uuid.UUID `json:"token_id"`
	Revoked bool      `json:"revoked"`
}

// TrialStatusResponse is the public view of a user's active token.
type TrialStatusResponse struct {
	TokenID          uuid.UUID   `json:"token_id"`
	Status           TokenStatus `json:"status"`
	ReportsRemaining int         `json:"reports_remaining"`
	ExpiresAt        time.Time   `json:"expires_at"`
	CreatedAt        time.Time   `json:"created_at"`
}
