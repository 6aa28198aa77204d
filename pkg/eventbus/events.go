package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects emitted by the trial engine.
const (
	SubjectTrialActivated = "trials.activated"
	SubjectTrialDenied    = "trials.denied"
	SubjectTrialRevoked   = "trials.revoked"
	SubjectDeviceBlocked  = "devices.blocked"
)

// Publisher is the send-side capability services depend on. *Bus implements
// it; Noop stands in when NATS is disabled.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, interface{}) error { return nil }

// TrialActivatedData is the payload for trials.activated.
type TrialActivatedData struct {
	UserID           uuid.UUID `json:"user_id"`
	TokenID          uuid.UUID `json:"token_id"`
	FingerprintHash  string    `json:"fingerprint_hash"`
	ReportsRemaining int       `json:"reports_remaining"`
	ExpiresAt        time.Time `json:"expires_at"`
	FraudScore       int       `json:"fraud_score"`
	FlagTypes        []string  `json:"flag_types,omitempty"`
	StoreMode        string    `json:"store_mode"`
}

// TrialDeniedData is the payload for trials.denied.
type TrialDeniedData struct {
	UserID          uuid.UUID `json:"user_id"`
	FingerprintHash string    `json:"fingerprint_hash"`
	DenialReason    string    `json:"denial_reason"`
	FraudScore      int       `json:"fraud_score"`
	FlagTypes       []string  `json:"flag_types"`
	StoreMode       string    `json:"store_mode"`
}

// TrialRevokedData is the payload for trials.revoked.
type TrialRevokedData struct {
	TokenID uuid.UUID `json:"token_id"`
	Reason  string    `json:"reason"`
}

// DeviceBlockedData is the payload for devices.blocked.
type DeviceBlockedData struct {
	FingerprintHash string `json:"fingerprint_hash"`
	Reason          string `json:"reason"`
}
