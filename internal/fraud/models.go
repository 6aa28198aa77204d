package fraud

import (
	"time"

	"github.com/google/uuid"
)

// FlagType identifies the signal that raised a flag
type FlagType string

const (
	FlagDeviceBlocked       FlagType = "device_blocked"
	FlagDeviceTrialLimit    FlagType = "device_trial_limit_exceeded"
	FlagRapidReRegistration FlagType = "rapid_re_registration"
	FlagDisposableEmail     FlagType = "disposable_email"
	FlagIPRateLimitExceeded FlagType = "ip_rate_limit_exceeded"
	FlagCardReuse           FlagType = "card_reuse"
	FlagVPNProxyDetected    FlagType = "vpn_proxy_detected"
)

// Severity classifies how strongly a flag argues for denial
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Decision is the scorer's verdict for one activation attempt
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// FraudFlag is one piece of evidence raised by an evaluator. Flags are
// created once and never mutated; a request may raise zero to many.
type FraudFlag struct {
	FlagType FlagType `json:"flag_type" db:"flag_type"`
	Severity Severity `json:"severity" db:"severity"`
	Weight   int      `json:"weight" db:"weight"`
	Detail   string   `json:"detail" db:"detail"`
}

// Outcome is the scorer result: total points, verdict, and the denial
// reason when the verdict is deny.
type Outcome struct {
	TotalScore int      `json:"total_score"`
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason,omitempty"`
}

// Denied reports whether the outcome is a denial.
func (o Outcome) Denied() bool {
	return o.Decision == DecisionDeny
}

// DeviceEvidence is the registry state of the requesting fingerprint as it
// stood before this attempt's sighting was recorded. A nil DeviceEvidence
// on Evidence means the fingerprint has never been seen.
type DeviceEvidence struct {
	FingerprintHash string
	TrialCount      int
	IsBlocked       bool
	BlockedReason   string
	LastSeenAt      time.Time
}

// Evidence is everything the evaluators may consult for one activation
// attempt. The orchestrator assembles it after the gating lookups succeed.
type Evidence struct {
	UserID    uuid.UUID
	Email     string
	IPAddress string
	Device    *DeviceEvidence
	Now       time.Time
}
