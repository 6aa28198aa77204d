package trial

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/restoreassist/trial-engine/internal/fraud"
)

// MemoryStore is the in-memory token store used when no database is
// configured. Tokens, usage records and audit rows live only for the life
// of the process. One mutex serializes every mutation, which gives the
// consume path the same atomicity the SQL transaction provides.
type MemoryStore struct {
	mu          sync.RWMutex
	tokens      map[uuid.UUID]*FreeTrialToken
	usage       map[uuid.UUID][]*TrialUsageRecord
	activations []*TrialActivation
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[uuid.UUID]*FreeTrialToken),
		usage:  make(map[uuid.UUID][]*TrialUsageRecord),
	}
}

// CreateToken inserts the token, revoking any still-active token for the
// same user first.
func (m *MemoryStore) CreateToken(_ context.Context, token *FreeTrialToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	superseded := "superseded by new trial"
	for _, existing := range m.tokens {
		if existing.UserID == token.UserID && existing.Status == StatusActive {
			existing.Status = StatusRevoked
			existing.RevokedReason = &superseded
			existing.UpdatedAt = token.CreatedAt
		}
	}

	m.tokens[token.ID] = cloneToken(token)
	return nil
}

// GetToken returns a copy of the token, or nil when absent.
func (m *MemoryStore) GetToken(_ context.Context, tokenID uuid.UUID) (*FreeTrialToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token, ok := m.tokens[tokenID]
	if !ok {
		return nil, nil
	}
	return cloneToken(token), nil
}

// ActiveTokenForUser returns the user's active token, or nil when none is.
func (m *MemoryStore) ActiveTokenForUser(_ context.Context, userID uuid.UUID) (*FreeTrialToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *FreeTrialToken
	for _, token := range m.tokens {
		if token.UserID != userID || token.Status != StatusActive {
			continue
		}
		if latest == nil || token.CreatedAt.After(latest.CreatedAt) {
			latest = token
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneToken(latest), nil
}

// ConsumeToken burns one report generation under the store lock: decrement,
// usage record, and the terminal transition on the exhausting call happen
// together or not at all.
func (m *MemoryStore) ConsumeToken(_ context.Context, tokenID uuid.UUID, reportID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[tokenID]
	if !ok || token.Status != StatusActive {
		return false, nil
	}

	if token.ReportsRemaining <= 0 || !now.Before(token.ExpiresAt) {
		token.Status = StatusExpired
		token.UpdatedAt = now
		return false, nil
	}

	token.ReportsRemaining--
	if token.ReportsRemaining == 0 {
		token.Status = StatusExpired
	}
	token.UpdatedAt = now

	m.usage[tokenID] = append(m.usage[tokenID], &TrialUsageRecord{
		ID:        uuid.New(),
		TokenID:   tokenID,
		ReportID:  reportID,
		CreatedAt: now,
	})
	return true, nil
}

// ExpireToken moves an active token to expired.
func (m *MemoryStore) ExpireToken(_ context.Context, tokenID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[tokenID]
	if !ok || token.Status != StatusActive {
		return false, nil
	}
	token.Status = StatusExpired
	token.UpdatedAt = now
	return true, nil
}

// RevokeToken moves an active token to revoked; terminal tokens report
// true untouched, missing tokens false.
func (m *MemoryStore) RevokeToken(_ context.Context, tokenID uuid.UUID, reason string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if token.Status != StatusActive {
		return true, nil
	}

	token.Status = StatusRevoked
	token.RevokedReason = &reason
	token.UpdatedAt = now
	return true, nil
}

// ListUsage returns a page of the usage log for a token, newest first.
func (m *MemoryStore) ListUsage(_ context.Context, tokenID uuid.UUID, limit, offset int) ([]*TrialUsageRecord, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.usage[tokenID]
	total := int64(len(records))

	page := []*TrialUsageRecord{}
	for i := len(records) - 1 - offset; i >= 0 && len(page) < limit; i-- {
		record := *records[i]
		page = append(page, &record)
	}
	return page, total, nil
}

// InsertActivation appends one decision to the in-memory audit log.
func (m *MemoryStore) InsertActivation(_ context.Context, activation *TrialActivation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *activation
	copied.FraudFlags = append([]fraud.FraudFlag(nil), activation.FraudFlags...)
	m.activations = append(m.activations, &copied)
	return nil
}

// CountGrantsFromIP counts granted activations from an address inside the
// rolling window.
func (m *MemoryStore) CountGrantsFromIP(_ context.Context, ipAddress string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, activation := range m.activations {
		if activation.Granted && activation.IPAddress == ipAddress && !activation.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func cloneToken(src *FreeTrialToken) *FreeTrialToken {
	dst := *src
	if src.RevokedReason != nil {
		reason := *src.RevokedReason
		dst.RevokedReason = &reason
	}
	return &dst
}
