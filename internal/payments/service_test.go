package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/restoreassist/trial-engine/pkg/resilience"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) LatestFingerprintForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockRepository) CountDistinctUsersForCardFingerprint(ctx context.Context, cardFingerprint string) (int, error) {
	args := m.Called(ctx, cardFingerprint)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) StripeCustomerForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockRepository) RecordVerification(ctx context.Context, verification *CardVerification) error {
	args := m.Called(ctx, verification)
	return args.Error(0)
}

type MockStripeClient struct {
	mock.Mock
}

func (m *MockStripeClient) DefaultCardForCustomer(ctx context.Context, customerID string) (*CardDetails, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CardDetails), args.Error(1)
}

func TestCardFingerprintForUser_LocalVerificationWins(t *testing.T) {
	userID := uuid.New()
	repo := new(MockRepository)
	repo.On("LatestFingerprintForUser", mock.Anything, userID).Return("fp_local", nil)
	stripeClient := new(MockStripeClient)

	v := NewVerifier(repo, stripeClient)

	fingerprint, err := v.CardFingerprintForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "fp_local", fingerprint)
	stripeClient.AssertNotCalled(t, "DefaultCardForCustomer")
	repo.AssertNotCalled(t, "StripeCustomerForUser")
}

func TestCardFingerprintForUser_NoCardWithoutStripe(t *testing.T) {
	userID := uuid.New()
	repo := new(MockRepository)
	repo.On("LatestFingerprintForUser", mock.Anything, userID).Return("", nil)

	v := NewVerifier(repo, nil)

	fingerprint, err := v.CardFingerprintForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, fingerprint)
}

func TestCardFingerprintForUser_NoStripeCustomer(t *testing.T) {
	userID := uuid.New()
	repo := new(MockRepository)
	repo.On("LatestFingerprintForUser", mock.Anything, userID).Return("", nil)
	repo.On("StripeCustomerForUser", mock.Anything, userID).Return("", nil)
	stripeClient := new(MockStripeClient)

	v := NewVerifier(repo, stripeClient)

	fingerprint, err := v.CardFingerprintForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, fingerprint)
	stripeClient.AssertNotCalled(t, "DefaultCardForCustomer")
}

func TestCardFingerprintForUser_ResolvesThroughStripeAndPersists(t *testing.T) {
	userID := uuid.New()
	repo := new(MockRepository)
	repo.On("LatestFingerprintForUser", mock.Anything, userID).Return("", nil)
	repo.On("StripeCustomerForUser", mock.Anything, userID).Return("cus_123", nil)
	repo.On("RecordVerification", mock.Anything, mock.MatchedBy(func(v *CardVerification) bool {
		return v.UserID == userID &&
			v.CardFingerprint == "fp_visa" &&
			v.CardBrand != nil && *v.CardBrand == "visa" &&
			v.CardLast4 != nil && *v.CardLast4 == "4242"
	})).Return(nil)

	stripeClient := new(MockStripeClient)
	stripeClient.On("DefaultCardForCustomer", mock.Anything, "cus_123").
		Return(&CardDetails{Fingerprint: "fp_visa", Brand: "visa", Last4: "4242"}, nil)

	v := NewVerifier(repo, stripeClient)

	fingerprint, err := v.CardFingerprintForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "fp_visa", fingerprint)
	repo.AssertExpectations(t)
	stripeClient.AssertExpectations(t)
}

func TestCardFingerprintForUser_CustomerWithoutCards(t *testing.T) {
	userID := uuid.New()
	repo := new(MockRepository)
	repo.On("LatestFingerprintForUser", mock.Anything, userID).Return("", nil)
	repo.On("StripeCustomerForUser", mock.Anything, userID).Return("cus_123", nil)

	stripeClient := new(MockStripeClient)
	stripeClient.On("DefaultCardForCustomer", mock.Anything, "cus_123").Return(nil, nil)

	v := NewVerifier(repo, stripeClient)

	fingerprint, err := v.CardFingerprintForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, fingerprint)
	repo.AssertNotCalled(t, "RecordVerification")
}

func TestCardFingerprintForUser_StripeFailureSurfaces(t *testing.T) {
	userID := uuid.New()
	repo := new(MockRepository)
	repo.On("LatestFingerprintForUser", mock.Anything, userID).Return("", nil)
	repo.On("StripeCustomerForUser", mock.Anything, userID).Return("cus_123", nil)

	stripeClient := new(MockStripeClient)
	stripeClient.On("DefaultCardForCustomer", mock.Anything, "cus_123").
		Return(nil, errors.New("stripe unreachable"))

	v := NewVerifier(repo, stripeClient)

	_, err := v.CardFingerprintForUser(context.Background(), userID)
	assert.Error(t, err)
}

func TestCardFingerprintForUser_PersistFailureStillReturnsFingerprint(t *testing.T) {
	userID := uuid.New()
	repo := new(MockRepository)
	repo.On("LatestFingerprintForUser", mock.Anything, userID).Return("", nil)
	repo.On("StripeCustomerForUser", mock.Anything, userID).Return("cus_123", nil)
	repo.On("RecordVerification", mock.Anything, mock.Anything).Return(errors.New("insert failed"))

	stripeClient := new(MockStripeClient)
	stripeClient.On("DefaultCardForCustomer", mock.Anything, "cus_123").
		Return(&CardDetails{Fingerprint: "fp_visa", Brand: "visa", Last4: "4242"}, nil)

	v := NewVerifier(repo, stripeClient)

	fingerprint, err := v.CardFingerprintForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "fp_visa", fingerprint)
}

func TestCountDistinctUsersForCardFingerprint(t *testing.T) {
	repo := new(MockRepository)
	repo.On("CountDistinctUsersForCardFingerprint", mock.Anything, "fp_abc").Return(3, nil)

	v := NewVerifier(repo, nil)

	count, err := v.CountDistinctUsersForCardFingerprint(context.Background(), "fp_abc")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCountDistinctUsersForCardFingerprint_Error(t *testing.T) {
	repo := new(MockRepository)
	repo.On("CountDistinctUsersForCardFingerprint", mock.Anything, "fp_abc").
		Return(0, errors.New("query timeout"))

	v := NewVerifier(repo, nil)

	_, err := v.CountDistinctUsersForCardFingerprint(context.Background(), "fp_abc")
	assert.Error(t, err)
}

func TestVerifierBreakerOpensAfterRepeatedFailures(t *testing.T) {
	repo := new(MockRepository)
	repo.On("CountDistinctUsersForCardFingerprint", mock.Anything, "fp_x").
		Return(0, errors.New("db down")).Times(5)

	v := NewVerifier(repo, nil)

	for i := 0; i < 5; i++ {
		_, err := v.CountDistinctUsersForCardFingerprint(context.Background(), "fp_x")
		require.Error(t, err)
	}

	// The breaker is open now; the repository must not be reached again.
	_, err := v.CountDistinctUsersForCardFingerprint(context.Background(), "fp_x")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	repo.AssertExpectations(t)
}
