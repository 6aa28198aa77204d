package devices

import (
	"time"
)

// DeviceFingerprint tracks one browsing device across trial attempts. The
// record is keyed by the caller-supplied fingerprint hash, created on first
// sighting, and never deleted: trial history stays available for scoring
// long after a trial ends.
type DeviceFingerprint struct {
	FingerprintHash string                 `json:"fingerprint_hash" db:"fingerprint_hash"`
	TrialCount      int                    `json:"trial_count" db:"trial_count"`
	IsBlocked       bool                   `json:"is_blocked" db:"is_blocked"`
	BlockedReason   *string                `json:"blocked_reason,omitempty" db:"blocked_reason"`
	BlockedAt       *time.Time             `json:"blocked_at,omitempty" db:"blocked_at"`
	DeviceData      map[string]interface{} `json:"device_data,omitempty" db:"device_data"`
	LastSeenAt      time.Time              `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" db:"updated_at"`
}

// ========================================
// REQUEST/RESPONSE TYPES
// ========================================

// BlockDeviceRequest blocks a fingerprint from ever receiving a grant again.
type BlockDeviceRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// BlockDeviceResponse confirms an administrative block.
type BlockDeviceResponse struct {
	FingerprintHash string `json:"fingerprint_hash"`
	Blocked         bool   `json:"blocked"`
}
