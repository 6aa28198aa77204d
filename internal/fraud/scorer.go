package fraud

// Scorer turns a flag set into an allow/deny verdict. It is total and
// side-effect-free: the same flags always produce the same outcome, and
// the score is a plain sum so flag order never matters.
type Scorer struct {
	policy Policy
}

// NewScorer creates a scorer bound to a policy.
func NewScorer(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Score sums flag weights against the denial threshold. Critical flags
// carry a weight at or above the threshold, so they deny on their own
// through the same comparison as everything else. The denial reason names
// the first critical flag when one is present, otherwise it reports the
// aggregate score.
func (s *Scorer) Score(flags []FraudFlag) Outcome {
	total := 0
	var critical *FraudFlag
	for i := range flags {
		total += flags[i].Weight
		if critical == nil && flags[i].Severity == SeverityCritical {
			critical = &flags[i]
		}
	}

	if total < s.policy.DenialThreshold {
		return Outcome{TotalScore: total, Decision: DecisionAllow}
	}

	return Outcome{
		TotalScore: total,
		Decision:   DecisionDeny,
		Reason:     denialReason(critical),
	}
}

func denialReason(critical *FraudFlag) string {
	if critical == nil {
		return "Fraud score too high"
	}
	switch critical.FlagType {
	case FlagDeviceBlocked:
		return "Fraud detected: device blocked"
	case FlagDeviceTrialLimit:
		return "Fraud detected: device trial limit reached"
	default:
		return "Fraud score too high"
	}
}
