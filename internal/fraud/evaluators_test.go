package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================
// MOCK COLLABORATORS
// ============================================

type MockGrantCounter struct {
	mock.Mock
}

func (m *MockGrantCounter) CountGrantsFromIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	args := m.Called(ctx, ipAddress, since)
	return args.Int(0), args.Error(1)
}

type MockPaymentVerifier struct {
	mock.Mock
}

func (m *MockPaymentVerifier) CardFingerprintForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentVerifier) CountDistinctUsersForCardFingerprint(ctx context.Context, cardFingerprint string) (int, error) {
	args := m.Called(ctx, cardFingerprint)
	return args.Int(0), args.Error(1)
}

// ============================================
// TEST HELPERS
// ============================================

func quietVerifier() *MockPaymentVerifier {
	verifier := new(MockPaymentVerifier)
	verifier.On("CardFingerprintForUser", mock.Anything, mock.Anything).Return("", nil).Maybe()
	return verifier
}

func quietCounter() *MockGrantCounter {
	counter := new(MockGrantCounter)
	counter.On("CountGrantsFromIP", mock.Anything, mock.Anything, mock.Anything).Return(0, nil).Maybe()
	return counter
}

func cleanEvidence() *Evidence {
	return &Evidence{
		UserID: uuid.New(),
		Email:  "owner@restorationfirm.com",
		Now:    time.Now(),
	}
}

// ============================================
// DEVICE SIGNAL TESTS
// ============================================

func TestDetector_DeviceBlocked(t *testing.T) {
	d := NewDetector(testPolicy(), quietCounter(), quietVerifier())

	t.Run("unseen device raises nothing", func(t *testing.T) {
		assert.Nil(t, d.checkDeviceBlocked(context.Background(), cleanEvidence()))
	})

	t.Run("unblocked device raises nothing", func(t *testing.T) {
		ev := cleanEvidence()
		ev.Device = &DeviceEvidence{TrialCount: 0, IsBlocked: false}
		assert.Nil(t, d.checkDeviceBlocked(context.Background(), ev))
	})

	t.Run("blocked device raises critical flag", func(t *testing.T) {
		ev := cleanEvidence()
		ev.Device = &DeviceEvidence{IsBlocked: true, BlockedReason: "chargeback fraud"}

		flag := d.checkDeviceBlocked(context.Background(), ev)
		require.NotNil(t, flag)
		assert.Equal(t, FlagDeviceBlocked, flag.FlagType)
		assert.Equal(t, SeverityCritical, flag.Severity)
		assert.Equal(t, 100, flag.Weight)
		assert.Contains(t, flag.Detail, "chargeback fraud")
	})
}

func TestDetector_DeviceTrialLimit(t *testing.T) {
	d := NewDetector(testPolicy(), quietCounter(), quietVerifier())

	t.Run("fresh device below limit", func(t *testing.T) {
		ev := cleanEvidence()
		ev.Device = &DeviceEvidence{TrialCount: 0}
		assert.Nil(t, d.checkDeviceTrialLimit(context.Background(), ev))
	})

	t.Run("device at limit raises critical flag", func(t *testing.T) {
		ev := cleanEvidence()
		ev.Device = &DeviceEvidence{TrialCount: 1}

		flag := d.checkDeviceTrialLimit(context.Background(), ev)
		require.NotNil(t, flag)
		assert.Equal(t, FlagDeviceTrialLimit, flag.FlagType)
		assert.Equal(t, SeverityCritical, flag.Severity)
	})

	t.Run("raised limit tolerates one prior grant", func(t *testing.T) {
		p := testPolicy()
		p.MaxTrialsPerDevice = 2
		relaxed := NewDetector(p, quietCounter(), quietVerifier())

		ev := cleanEvidence()
		ev.Device = &DeviceEvidence{TrialCount: 1}
		assert.Nil(t, relaxed.checkDeviceTrialLimit(context.Background(), ev))

		ev.Device.TrialCount = 2
		assert.NotNil(t, relaxed.checkDeviceTrialLimit(context.Background(), ev))
	})
}

func TestDetector_RapidReRegistration(t *testing.T) {
	d := NewDetector(testPolicy(), quietCounter(), quietVerifier())

	t.Run("unseen device raises nothing", func(t *testing.T) {
		assert.Nil(t, d.checkRapidReRegistration(context.Background(), cleanEvidence()))
	})

	t.Run("sighting inside the window raises medium flag", func(t *testing.T) {
		ev := cleanEvidence()
		ev.Device = &DeviceEvidence{LastSeenAt: ev.Now.Add(-30 * time.Minute)}

		flag := d.checkRapidReRegistration(context.Background(), ev)
		require.NotNil(t, flag)
		assert.Equal(t, FlagRapidReRegistration, flag.FlagType)
		assert.Equal(t, SeverityMedium, flag.Severity)
		assert.Equal(t, 25, flag.Weight)
	})

	t.Run("sighting outside the window raises nothing", func(t *testing.T) {
		ev := cleanEvidence()
		ev.Device = &DeviceEvidence{LastSeenAt: ev.Now.Add(-2 * time.Hour)}
		assert.Nil(t, d.checkRapidReRegistration(context.Background(), ev))
	})

	t.Run("zero last-seen raises nothing", func(t *testing.T) {
		ev := cleanEvidence()
		ev.Device = &DeviceEvidence{}
		assert.Nil(t, d.checkRapidReRegistration(context.Background(), ev))
	})
}

// ============================================
// EMAIL SIGNAL TESTS
// ============================================

func TestDetector_DisposableEmail(t *testing.T) {
	d := NewDetector(testPolicy(), quietCounter(), quietVerifier())

	tests := []struct {
		name    string
		email   string
		flagged bool
	}{
		{"regular provider", "owner@restorationfirm.com", false},
		{"gmail", "someone@gmail.com", false},
		{"known disposable domain", "fraudster@mailinator.com", true},
		{"known disposable domain uppercase", "fraudster@MAILINATOR.COM", true},
		{"disposable subdomain", "x@mail.tempmail.io", true},
		{"guerrilla mail", "x@guerrillamail.com", true},
		{"ten minute mail", "x@10minutemail.com", true},
		{"missing at sign", "not-an-email", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := cleanEvidence()
			ev.Email = tt.email

			flag := d.checkDisposableEmail(context.Background(), ev)
			if !tt.flagged {
				assert.Nil(t, flag)
				return
			}
			require.NotNil(t, flag)
			assert.Equal(t, FlagDisposableEmail, flag.FlagType)
			assert.Equal(t, SeverityHigh, flag.Severity)
			assert.Equal(t, 40, flag.Weight)
		})
	}
}

// ============================================
// NETWORK SIGNAL TESTS
// ============================================

func TestDetector_IPRateLimit(t *testing.T) {
	t.Run("missing ip skips the lookup", func(t *testing.T) {
		counter := new(MockGrantCounter)
		d := NewDetector(testPolicy(), counter, quietVerifier())

		assert.Nil(t, d.checkIPRateLimit(context.Background(), cleanEvidence()))
		counter.AssertNotCalled(t, "CountGrantsFromIP")
	})

	t.Run("count below limit raises nothing", func(t *testing.T) {
		counter := new(MockGrantCounter)
		counter.On("CountGrantsFromIP", mock.Anything, "203.0.113.7", mock.Anything).Return(2, nil)
		d := NewDetector(testPolicy(), counter, quietVerifier())

		ev := cleanEvidence()
		ev.IPAddress = "203.0.113.7"
		assert.Nil(t, d.checkIPRateLimit(context.Background(), ev))
		counter.AssertExpectations(t)
	})

	t.Run("count at limit raises high flag", func(t *testing.T) {
		counter := new(MockGrantCounter)
		counter.On("CountGrantsFromIP", mock.Anything, "203.0.113.7", mock.Anything).Return(3, nil)
		d := NewDetector(testPolicy(), counter, quietVerifier())

		ev := cleanEvidence()
		ev.IPAddress = "203.0.113.7"

		flag := d.checkIPRateLimit(context.Background(), ev)
		require.NotNil(t, flag)
		assert.Equal(t, FlagIPRateLimitExceeded, flag.FlagType)
		assert.Equal(t, SeverityHigh, flag.Severity)
	})

	t.Run("lookup failure fails open", func(t *testing.T) {
		counter := new(MockGrantCounter)
		counter.On("CountGrantsFromIP", mock.Anything, mock.Anything, mock.Anything).
			Return(0, errors.New("connection refused"))
		d := NewDetector(testPolicy(), counter, quietVerifier())

		ev := cleanEvidence()
		ev.IPAddress = "203.0.113.7"
		assert.Nil(t, d.checkIPRateLimit(context.Background(), ev))
	})

	t.Run("window lower bound is policy driven", func(t *testing.T) {
		now := time.Now()
		counter := new(MockGrantCounter)
		counter.On("CountGrantsFromIP", mock.Anything, "203.0.113.7", mock.MatchedBy(func(since time.Time) bool {
			return since.Equal(now.Add(-24 * time.Hour))
		})).Return(0, nil)
		d := NewDetector(testPolicy(), counter, quietVerifier())

		ev := cleanEvidence()
		ev.IPAddress = "203.0.113.7"
		ev.Now = now

		d.checkIPRateLimit(context.Background(), ev)
		counter.AssertExpectations(t)
	})
}

func TestDetector_VPNProxy(t *testing.T) {
	d := NewDetector(testPolicy(), quietCounter(), quietVerifier())

	tests := []struct {
		name    string
		ip      string
		flagged bool
	}{
		{"public ipv4", "8.8.8.8", false},
		{"documentation range", "203.0.113.7", false},
		{"rfc1918 class a", "10.0.0.5", true},
		{"rfc1918 class c", "192.168.1.10", true},
		{"loopback", "127.0.0.1", true},
		{"link local", "169.254.10.20", true},
		{"unspecified", "0.0.0.0", true},
		{"ipv6 loopback", "::1", true},
		{"ipv6 ula", "fd00::1", true},
		{"public ipv6", "2001:4860:4860::8888", false},
		{"unparseable", "not-an-ip", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := cleanEvidence()
			ev.IPAddress = tt.ip

			flag := d.checkVPNProxy(context.Background(), ev)
			if !tt.flagged {
				assert.Nil(t, flag)
				return
			}
			require.NotNil(t, flag)
			assert.Equal(t, FlagVPNProxyDetected, flag.FlagType)
			assert.Equal(t, SeverityMedium, flag.Severity)
		})
	}
}

// ============================================
// PAYMENT SIGNAL TESTS
// ============================================

func TestDetector_CardReuse(t *testing.T) {
	userID := uuid.New()

	t.Run("no verified card raises nothing", func(t *testing.T) {
		verifier := new(MockPaymentVerifier)
		verifier.On("CardFingerprintForUser", mock.Anything, userID).Return("", nil)
		d := NewDetector(testPolicy(), quietCounter(), verifier)

		ev := cleanEvidence()
		ev.UserID = userID
		assert.Nil(t, d.checkCardReuse(context.Background(), ev))
		verifier.AssertNotCalled(t, "CountDistinctUsersForCardFingerprint")
	})

	t.Run("reuse below limit raises nothing", func(t *testing.T) {
		verifier := new(MockPaymentVerifier)
		verifier.On("CardFingerprintForUser", mock.Anything, userID).Return("fp_abc", nil)
		verifier.On("CountDistinctUsersForCardFingerprint", mock.Anything, "fp_abc").Return(2, nil)
		d := NewDetector(testPolicy(), quietCounter(), verifier)

		ev := cleanEvidence()
		ev.UserID = userID
		assert.Nil(t, d.checkCardReuse(context.Background(), ev))
	})

	t.Run("reuse at limit raises high flag", func(t *testing.T) {
		verifier := new(MockPaymentVerifier)
		verifier.On("CardFingerprintForUser", mock.Anything, userID).Return("fp_abc", nil)
		verifier.On("CountDistinctUsersForCardFingerprint", mock.Anything, "fp_abc").Return(3, nil)
		d := NewDetector(testPolicy(), quietCounter(), verifier)

		ev := cleanEvidence()
		ev.UserID = userID

		flag := d.checkCardReuse(context.Background(), ev)
		require.NotNil(t, flag)
		assert.Equal(t, FlagCardReuse, flag.FlagType)
		assert.Equal(t, SeverityHigh, flag.Severity)
		assert.Contains(t, flag.Detail, "3 accounts")
	})

	t.Run("fingerprint lookup failure fails open", func(t *testing.T) {
		verifier := new(MockPaymentVerifier)
		verifier.On("CardFingerprintForUser", mock.Anything, userID).
			Return("", errors.New("stripe unreachable"))
		d := NewDetector(testPolicy(), quietCounter(), verifier)

		ev := cleanEvidence()
		ev.UserID = userID
		assert.Nil(t, d.checkCardReuse(context.Background(), ev))
	})

	t.Run("reuse count failure fails open", func(t *testing.T) {
		verifier := new(MockPaymentVerifier)
		verifier.On("CardFingerprintForUser", mock.Anything, userID).Return("fp_abc", nil)
		verifier.On("CountDistinctUsersForCardFingerprint", mock.Anything, "fp_abc").
			Return(0, errors.New("query timeout"))
		d := NewDetector(testPolicy(), quietCounter(), verifier)

		ev := cleanEvidence()
		ev.UserID = userID
		assert.Nil(t, d.checkCardReuse(context.Background(), ev))
	})
}

// ============================================
// PIPELINE TESTS
// ============================================

func TestDetector_Evaluate_CleanRequest(t *testing.T) {
	d := NewDetector(testPolicy(), quietCounter(), quietVerifier())

	flags := d.Evaluate(context.Background(), cleanEvidence())

	assert.Empty(t, flags)
}

func TestDetector_Evaluate_FlagsFollowEvaluationOrder(t *testing.T) {
	d := NewDetector(testPolicy(), quietCounter(), quietVerifier())

	ev := cleanEvidence()
	ev.Email = "x@mailinator.com"
	ev.IPAddress = "192.168.0.9"
	ev.Device = &DeviceEvidence{
		TrialCount:    1,
		IsBlocked:     true,
		BlockedReason: "abuse",
		LastSeenAt:    ev.Now.Add(-5 * time.Minute),
	}

	flags := d.Evaluate(context.Background(), ev)

	require.Len(t, flags, 5)
	assert.Equal(t, FlagDeviceBlocked, flags[0].FlagType)
	assert.Equal(t, FlagDeviceTrialLimit, flags[1].FlagType)
	assert.Equal(t, FlagRapidReRegistration, flags[2].FlagType)
	assert.Equal(t, FlagDisposableEmail, flags[3].FlagType)
	assert.Equal(t, FlagVPNProxyDetected, flags[4].FlagType)
}

func TestDetector_Evaluate_SideSignalOutageStillEvaluatesRest(t *testing.T) {
	counter := new(MockGrantCounter)
	counter.On("CountGrantsFromIP", mock.Anything, mock.Anything, mock.Anything).
		Return(0, errors.New("db down"))
	verifier := new(MockPaymentVerifier)
	verifier.On("CardFingerprintForUser", mock.Anything, mock.Anything).
		Return("", errors.New("stripe down"))
	d := NewDetector(testPolicy(), counter, verifier)

	ev := cleanEvidence()
	ev.Email = "x@mailinator.com"
	ev.IPAddress = "203.0.113.7"

	flags := d.Evaluate(context.Background(), ev)

	require.Len(t, flags, 1)
	assert.Equal(t, FlagDisposableEmail, flags[0].FlagType)
}
