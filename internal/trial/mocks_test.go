package trial

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/restoreassist/trial-engine/internal/devices"
	"github.com/restoreassist/trial-engine/internal/fraud"
	"github.com/restoreassist/trial-engine/internal/users"
)

// ============================================
// SHARED MOCKS
// ============================================

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) CreateToken(ctx context.Context, token *FreeTrialToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenStore) GetToken(ctx context.Context, tokenID uuid.UUID) (*FreeTrialToken, error) {
	args := m.Called(ctx, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FreeTrialToken), args.Error(1)
}

func (m *MockTokenStore) ActiveTokenForUser(ctx context.Context, userID uuid.UUID) (*FreeTrialToken, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FreeTrialToken), args.Error(1)
}

func (m *MockTokenStore) ConsumeToken(ctx context.Context, tokenID uuid.UUID, reportID string, now time.Time) (bool, error) {
	args := m.Called(ctx, tokenID, reportID, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenStore) ExpireToken(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error) {
	args := m.Called(ctx, tokenID, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenStore) RevokeToken(ctx context.Context, tokenID uuid.UUID, reason string, now time.Time) (bool, error) {
	args := m.Called(ctx, tokenID, reason, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenStore) ListUsage(ctx context.Context, tokenID uuid.UUID, limit, offset int) ([]*TrialUsageRecord, int64, error) {
	args := m.Called(ctx, tokenID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*TrialUsageRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockTokenStore) InsertActivation(ctx context.Context, activation *TrialActivation) error {
	args := m.Called(ctx, activation)
	return args.Error(0)
}

func (m *MockTokenStore) CountGrantsFromIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	args := m.Called(ctx, ipAddress, since)
	return args.Int(0), args.Error(1)
}

type MockDeviceRegistry struct {
	mock.Mock
}

func (m *MockDeviceRegistry) Lookup(ctx context.Context, fingerprintHash string) (*devices.DeviceFingerprint, error) {
	args := m.Called(ctx, fingerprintHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*devices.DeviceFingerprint), args.Error(1)
}

func (m *MockDeviceRegistry) RecordSighting(ctx context.Context, fingerprintHash string, deviceData map[string]interface{}, seenAt time.Time) error {
	args := m.Called(ctx, fingerprintHash, deviceData, seenAt)
	return args.Error(0)
}

func (m *MockDeviceRegistry) RecordGrant(ctx context.Context, fingerprintHash string) (int, error) {
	args := m.Called(ctx, fingerprintHash)
	return args.Int(0), args.Error(1)
}

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) FindByID(ctx context.Context, id uuid.UUID) (*users.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*users.User), args.Error(1)
}

type MockFlagEvaluator struct {
	mock.Mock
}

func (m *MockFlagEvaluator) Evaluate(ctx context.Context, ev *fraud.Evidence) []fraud.FraudFlag {
	args := m.Called(ctx, ev)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]fraud.FraudFlag)
}

type MockDecisionScorer struct {
	mock.Mock
}

func (m *MockDecisionScorer) Score(flags []fraud.FraudFlag) fraud.Outcome {
	args := m.Called(flags)
	return args.Get(0).(fraud.Outcome)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	args := m.Called(ctx, subject, payload)
	return args.Error(0)
}

type MockService struct {
	mock.Mock
}

func (m *MockService) ActivateTrial(ctx context.Context, req *ActivateTrialRequest) (*ActivationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ActivationResult), args.Error(1)
}

func (m *MockService) TrialStatus(ctx context.Context, userID uuid.UUID) (*TrialStatusResponse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TrialStatusResponse), args.Error(1)
}

func (m *MockService) ConsumeReport(ctx context.Context, tokenID uuid.UUID, reportID string) (bool, error) {
	args := m.Called(ctx, tokenID, reportID)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) RevokeTrial(ctx context.Context, tokenID uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, tokenID, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) ListUsage(ctx context.Context, tokenID uuid.UUID, limit, offset int) ([]*TrialUsageRecord, int64, error) {
	args := m.Called(ctx, tokenID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*TrialUsageRecord), args.Get(1).(int64), args.Error(2)
}
