package fraud

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/restoreassist/trial-engine/pkg/logger"
)

// GrantCounter counts prior granted activations from an IP address inside
// a rolling window. Implemented by the trial activation repository.
type GrantCounter interface {
	CountGrantsFromIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

// PaymentVerifier resolves card fingerprints for the card-reuse signal.
// Implemented by the payments service.
type PaymentVerifier interface {
	CardFingerprintForUser(ctx context.Context, userID uuid.UUID) (string, error)
	CountDistinctUsersForCardFingerprint(ctx context.Context, cardFingerprint string) (int, error)
}

// Known disposable email providers. Matching is by exact domain first, then
// by substring so subdomain variants (mail.tempmail.io etc.) are caught.
var disposableDomains = map[string]struct{}{
	"tempmail.com":      {},
	"throwaway.email":   {},
	"guerrillamail.com": {},
	"10minutemail.com":  {},
	"mailinator.com":    {},
	"yopmail.com":       {},
	"trashmail.com":     {},
	"getnada.com":       {},
	"sharklasers.com":   {},
	"dispostable.com":   {},
	"maildrop.cc":       {},
	"temp-mail.org":     {},
	"fakeinbox.com":     {},
}

var disposablePatterns = []string{"tempmail", "throwaway", "guerrillamail", "10minutemail", "mailinator"}

// Detector runs the seven trial-abuse signals against one activation
// attempt. Checks run in a fixed order so the raised flag list is
// deterministic. Side-signal lookups (IP counts, card fingerprints) fail
// open: an unavailable collaborator yields no flag, never an error.
type Detector struct {
	policy   Policy
	counter  GrantCounter
	verifier PaymentVerifier
}

// NewDetector creates a detector. counter and verifier back the IP-rate and
// card-reuse signals and must be non-nil.
func NewDetector(policy Policy, counter GrantCounter, verifier PaymentVerifier) *Detector {
	return &Detector{
		policy:   policy,
		counter:  counter,
		verifier: verifier,
	}
}

// Evaluate runs every check and collects raised flags in evaluation order.
func (d *Detector) Evaluate(ctx context.Context, ev *Evidence) []FraudFlag {
	checks := []func(context.Context, *Evidence) *FraudFlag{
		d.checkDeviceBlocked,
		d.checkDeviceTrialLimit,
		d.checkRapidReRegistration,
		d.checkDisposableEmail,
		d.checkIPRateLimit,
		d.checkCardReuse,
		d.checkVPNProxy,
	}

	flags := make([]FraudFlag, 0, len(checks))
	for _, check := range checks {
		if flag := check(ctx, ev); flag != nil {
			flags = append(flags, *flag)
		}
	}
	return flags
}

func (d *Detector) newFlag(flagType FlagType, severity Severity, detail string) *FraudFlag {
	return &FraudFlag{
		FlagType: flagType,
		Severity: severity,
		Weight:   d.policy.WeightFor(severity),
		Detail:   detail,
	}
}

func (d *Detector) checkDeviceBlocked(_ context.Context, ev *Evidence) *FraudFlag {
	if ev.Device == nil || !ev.Device.IsBlocked {
		return nil
	}
	detail := "device is blocked"
	if ev.Device.BlockedReason != "" {
		detail = fmt.Sprintf("device is blocked: %s", ev.Device.BlockedReason)
	}
	return d.newFlag(FlagDeviceBlocked, SeverityCritical, detail)
}

func (d *Detector) checkDeviceTrialLimit(_ context.Context, ev *Evidence) *FraudFlag {
	if ev.Device == nil || ev.Device.TrialCount < d.policy.MaxTrialsPerDevice {
		return nil
	}
	return d.newFlag(FlagDeviceTrialLimit, SeverityCritical,
		fmt.Sprintf("device already granted %d of %d allowed trials", ev.Device.TrialCount, d.policy.MaxTrialsPerDevice))
}

func (d *Detector) checkRapidReRegistration(_ context.Context, ev *Evidence) *FraudFlag {
	if ev.Device == nil || ev.Device.LastSeenAt.IsZero() {
		return nil
	}
	elapsed := ev.Now.Sub(ev.Device.LastSeenAt)
	if elapsed > d.policy.ReRegistrationWindow {
		return nil
	}
	return d.newFlag(FlagRapidReRegistration, SeverityMedium,
		fmt.Sprintf("device seen %s ago, within the %s re-registration window", elapsed.Round(time.Second), d.policy.ReRegistrationWindow))
}

func (d *Detector) checkDisposableEmail(_ context.Context, ev *Evidence) *FraudFlag {
	domain := emailDomain(ev.Email)
	if domain == "" {
		return nil
	}
	if _, known := disposableDomains[domain]; known {
		return d.newFlag(FlagDisposableEmail, SeverityHigh,
			fmt.Sprintf("email domain %s is a disposable provider", domain))
	}
	for _, pattern := range disposablePatterns {
		if strings.Contains(domain, pattern) {
			return d.newFlag(FlagDisposableEmail, SeverityHigh,
				fmt.Sprintf("email domain %s matches disposable provider pattern %q", domain, pattern))
		}
	}
	return nil
}

func (d *Detector) checkIPRateLimit(ctx context.Context, ev *Evidence) *FraudFlag {
	if ev.IPAddress == "" {
		return nil
	}
	since := ev.Now.Add(-d.policy.IPWindow)
	count, err := d.counter.CountGrantsFromIP(ctx, ev.IPAddress, since)
	if err != nil {
		logger.WithContext(ctx).Warn("ip grant count unavailable, skipping signal",
			zap.String("ip_address", ev.IPAddress),
			zap.Error(err))
		return nil
	}
	if count < d.policy.MaxTrialsPerIP {
		return nil
	}
	return d.newFlag(FlagIPRateLimitExceeded, SeverityHigh,
		fmt.Sprintf("%d trials granted from this IP in the last %s", count, d.policy.IPWindow))
}

func (d *Detector) checkCardReuse(ctx context.Context, ev *Evidence) *FraudFlag {
	fingerprint, err := d.verifier.CardFingerprintForUser(ctx, ev.UserID)
	if err != nil {
		logger.WithContext(ctx).Warn("card fingerprint lookup unavailable, skipping signal",
			zap.String("user_id", ev.UserID.String()),
			zap.Error(err))
		return nil
	}
	if fingerprint == "" {
		return nil
	}
	users, err := d.verifier.CountDistinctUsersForCardFingerprint(ctx, fingerprint)
	if err != nil {
		logger.WithContext(ctx).Warn("card reuse count unavailable, skipping signal",
			zap.String("user_id", ev.UserID.String()),
			zap.Error(err))
		return nil
	}
	if users < d.policy.MaxCardReuse {
		return nil
	}
	return d.newFlag(FlagCardReuse, SeverityHigh,
		fmt.Sprintf("card fingerprint shared by %d accounts", users))
}

// checkVPNProxy flags requests from non-routable address ranges. This is a
// heuristic only: no geolocation or provider lookup is attempted.
func (d *Detector) checkVPNProxy(_ context.Context, ev *Evidence) *FraudFlag {
	if ev.IPAddress == "" {
		return nil
	}
	ip := net.ParseIP(ev.IPAddress)
	if ip == nil {
		return nil
	}
	if !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsLinkLocalMulticast() && !ip.IsUnspecified() {
		return nil
	}
	return d.newFlag(FlagVPNProxyDetected, SeverityMedium,
		fmt.Sprintf("request originated from non-routable address %s", ev.IPAddress))
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
