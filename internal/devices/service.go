package devices

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/restoreassist/trial-engine/pkg/common"
	"github.com/restoreassist/trial-engine/pkg/eventbus"
	"github.com/restoreassist/trial-engine/pkg/logger"
	"github.com/restoreassist/trial-engine/pkg/security"
)

// Store is the registry persistence contract. Repository implements it on
// Postgres; MemoryStore implements it for deployments without a database.
type Store interface {
	Lookup(ctx context.Context, fingerprintHash string) (*DeviceFingerprint, error)
	RecordSighting(ctx context.Context, fingerprintHash string, deviceData map[string]interface{}, seenAt time.Time) error
	RecordGrant(ctx context.Context, fingerprintHash string) (int, error)
	Block(ctx context.Context, fingerprintHash, reason string) error
	List(ctx context.Context, limit, offset int) ([]*DeviceFingerprint, int64, error)
}

// Service is the device fingerprint registry. It is the source of truth for
// device-level trial policy: trial counts, block status, and sightings.
type Service struct {
	store Store
	bus   eventbus.Publisher
}

// NewService creates a device registry service.
func NewService(store Store, bus eventbus.Publisher) *Service {
	return &Service{store: store, bus: bus}
}

// Lookup returns the registry record for a fingerprint, nil when unseen.
func (s *Service) Lookup(ctx context.Context, fingerprintHash string) (*DeviceFingerprint, error) {
	return s.store.Lookup(ctx, fingerprintHash)
}

// RecordSighting notes that a fingerprint attempted an activation. Sightings
// are recorded before scoring so denied attempts still leave a trace.
func (s *Service) RecordSighting(ctx context.Context, fingerprintHash string, deviceData map[string]interface{}, seenAt time.Time) error {
	return s.store.RecordSighting(ctx, fingerprintHash, deviceData, seenAt)
}

// RecordGrant atomically increments the fingerprint's trial count and
// returns the new count.
func (s *Service) RecordGrant(ctx context.Context, fingerprintHash string) (int, error) {
	return s.store.RecordGrant(ctx, fingerprintHash)
}

// Block permanently bars a fingerprint from receiving grants. Idempotent.
func (s *Service) Block(ctx context.Context, fingerprintHash, reason string) error {
	reason = security.SanitizeInput(reason, 500)
	if reason == "" {
		return common.NewBadRequestError("block reason is required", nil)
	}

	if err := s.store.Block(ctx, fingerprintHash, reason); err != nil {
		logger.WithContext(ctx).Error("failed to block device",
			zap.String("fingerprint_hash", fingerprintHash),
			zap.Error(err))
		return common.NewInternalError("failed to block device", err)
	}

	logger.WithContext(ctx).Info("device blocked",
		zap.String("fingerprint_hash", fingerprintHash),
		zap.String("reason", reason))

	if err := s.bus.Publish(ctx, eventbus.SubjectDeviceBlocked, eventbus.DeviceBlockedData{
		FingerprintHash: fingerprintHash,
		Reason:          reason,
	}); err != nil {
		logger.WithContext(ctx).Warn("failed to publish device blocked event", zap.Error(err))
	}

	return nil
}

// List returns a page of the registry for admin inspection.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*DeviceFingerprint, int64, error) {
	devices, total, err := s.store.List(ctx, limit, offset)
	if err != nil {
		logger.WithContext(ctx).Error("failed to list devices", zap.Error(err))
		return nil, 0, common.NewInternalError("failed to list devices", err)
	}
	return devices, total, nil
}
