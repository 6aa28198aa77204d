package devices

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-memory device registry used when no database is
// configured. Records live only for the life of the process. All methods
// serialize on one mutex, so the grant increment is atomic here too.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*DeviceFingerprint
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*DeviceFingerprint)}
}

// Lookup returns a copy of the record for a fingerprint, or nil when unseen.
func (m *MemoryStore) Lookup(_ context.Context, fingerprintHash string) (*DeviceFingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, ok := m.devices[fingerprintHash]
	if !ok {
		return nil, nil
	}
	return cloneDevice(device), nil
}

// RecordSighting upserts last-seen and device attributes, creating the
// record on first sighting.
func (m *MemoryStore) RecordSighting(_ context.Context, fingerprintHash string, deviceData map[string]interface{}, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[fingerprintHash]
	if !ok {
		device = &DeviceFingerprint{
			FingerprintHash: fingerprintHash,
			CreatedAt:       seenAt,
		}
		m.devices[fingerprintHash] = device
	}

	device.LastSeenAt = seenAt
	device.UpdatedAt = seenAt
	if len(deviceData) > 0 {
		device.DeviceData = cloneDeviceData(deviceData)
	}
	return nil
}

// RecordGrant increments the trial count by exactly one.
func (m *MemoryStore) RecordGrant(_ context.Context, fingerprintHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[fingerprintHash]
	if !ok {
		return 0, fmt.Errorf("device %s not registered", fingerprintHash)
	}

	device.TrialCount++
	device.UpdatedAt = time.Now()
	return device.TrialCount, nil
}

// Block marks a fingerprint blocked, registering it first if unseen.
func (m *MemoryStore) Block(_ context.Context, fingerprintHash, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	device, ok := m.devices[fingerprintHash]
	if !ok {
		device = &DeviceFingerprint{
			FingerprintHash: fingerprintHash,
			LastSeenAt:      now,
			CreatedAt:       now,
		}
		m.devices[fingerprintHash] = device
	}

	device.IsBlocked = true
	device.BlockedReason = &reason
	if device.BlockedAt == nil {
		device.BlockedAt = &now
	}
	device.UpdatedAt = now
	return nil
}

// List returns a page of records ordered by most recently seen.
func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]*DeviceFingerprint, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*DeviceFingerprint, 0, len(m.devices))
	for _, device := range m.devices {
		all = append(all, cloneDevice(device))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastSeenAt.After(all[j].LastSeenAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func cloneDevice(src *DeviceFingerprint) *DeviceFingerprint {
	dst := *src
	if src.BlockedReason != nil {
		reason := *src.BlockedReason
		dst.BlockedReason = &reason
	}
	if src.BlockedAt != nil {
		at := *src.BlockedAt
		dst.BlockedAt = &at
	}
	dst.DeviceData = cloneDeviceData(src.DeviceData)
	return &dst
}

func cloneDeviceData(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
