package fraud

import (
	"time"

	"github.com/restoreassist/trial-engine/pkg/config"
)

// Policy carries every tunable parameter of the trial-abuse policy. It is
// built once at startup and injected; evaluators and the scorer never read
// the environment themselves, which keeps boundary values testable.
type Policy struct {
	// Scoring
	DenialThreshold int
	Weights         map[Severity]int

	// Device signals
	MaxTrialsPerDevice   int
	ReRegistrationWindow time.Duration

	// Network signals
	IPWindow       time.Duration
	MaxTrialsPerIP int

	// Payment signals
	MaxCardReuse int

	// Token issuance
	TrialQuota  int
	TrialWindow time.Duration
}

// DefaultPolicy returns the shipped policy values. Critical weight is set
// above the denial threshold so a critical flag denies on its own without
// a separate hard-block code path.
func DefaultPolicy() Policy {
	return Policy{
		DenialThreshold: 70,
		Weights: map[Severity]int{
			SeverityLow:      10,
			SeverityMedium:   25,
			SeverityHigh:     40,
			SeverityCritical: 100,
		},
		MaxTrialsPerDevice:   1,
		ReRegistrationWindow: time.Hour,
		IPWindow:             24 * time.Hour,
		MaxTrialsPerIP:       3,
		MaxCardReuse:         3,
		TrialQuota:           3,
		TrialWindow:          7 * 24 * time.Hour,
	}
}

// PolicyFromConfig builds the runtime policy from environment configuration,
// falling back to defaults for any value left at or below zero.
func PolicyFromConfig(fc config.FraudConfig, tc config.TrialConfig) Policy {
	p := DefaultPolicy()

	if fc.DenialThreshold > 0 {
		p.DenialThreshold = fc.DenialThreshold
	}
	if fc.CriticalWeight > 0 {
		p.Weights[SeverityCritical] = fc.CriticalWeight
	}
	if fc.HighWeight > 0 {
		p.Weights[SeverityHigh] = fc.HighWeight
	}
	if fc.MediumWeight > 0 {
		p.Weights[SeverityMedium] = fc.MediumWeight
	}
	if fc.MaxTrialsPerDevice > 0 {
		p.MaxTrialsPerDevice = fc.MaxTrialsPerDevice
	}
	if fc.ReRegistrationWindowMinutes > 0 {
		p.ReRegistrationWindow = fc.ReRegistrationWindow()
	}
	if fc.IPWindowHours > 0 {
		p.IPWindow = fc.IPWindow()
	}
	if fc.MaxTrialsPerIP > 0 {
		p.MaxTrialsPerIP = fc.MaxTrialsPerIP
	}
	if fc.MaxCardReuse > 0 {
		p.MaxCardReuse = fc.MaxCardReuse
	}
	if tc.ReportQuota > 0 {
		p.TrialQuota = tc.ReportQuota
	}
	if tc.TokenValidityDays > 0 {
		p.TrialWindow = tc.TokenValidity()
	}

	return p
}

// WeightFor returns the configured weight for a severity class.
func (p Policy) WeightFor(severity Severity) int {
	return p.Weights[severity]
}
