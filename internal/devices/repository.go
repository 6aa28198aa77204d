package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed device registry.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new device registry repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const deviceColumns = `fingerprint_hash, trial_count, is_blocked, blocked_reason, blocked_at,
	   device_data, last_seen_at, created_at, updated_at`

// Lookup returns the record for a fingerprint, or nil when it has never
// been seen.
func (r *Repository) Lookup(ctx context.Context, fingerprintHash string) (*DeviceFingerprint, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM device_fingerprints
		WHERE fingerprint_hash = $1
	`

	device := &DeviceFingerprint{}
	var deviceDataJSON []byte
	err := r.db.QueryRow(ctx, query, fingerprintHash).Scan(
		&device.FingerprintHash, &device.TrialCount, &device.IsBlocked,
		&device.BlockedReason, &device.BlockedAt, &deviceDataJSON,
		&device.LastSeenAt, &device.CreatedAt, &device.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(deviceDataJSON) > 0 {
		json.Unmarshal(deviceDataJSON, &device.DeviceData)
	}
	return device, nil
}

// RecordSighting upserts the last-seen time and stored device attributes.
// First sighting creates the record with a zero trial count.
func (r *Repository) RecordSighting(ctx context.Context, fingerprintHash string, deviceData map[string]interface{}, seenAt time.Time) error {
	var deviceDataJSON []byte
	if len(deviceData) > 0 {
		deviceDataJSON, _ = json.Marshal(deviceData)
	}

	query := `
		INSERT INTO device_fingerprints (
			fingerprint_hash, trial_count, is_blocked, device_data,
			last_seen_at, created_at, updated_at
		) VALUES ($1, 0, FALSE, $2, $3, $3, $3)
		ON CONFLICT (fingerprint_hash) DO UPDATE
		SET last_seen_at = EXCLUDED.last_seen_at,
		    device_data = COALESCE(EXCLUDED.device_data, device_fingerprints.device_data),
		    updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Exec(ctx, query, fingerprintHash, deviceDataJSON, seenAt)
	return err
}

// RecordGrant increments the trial count by exactly one and returns the new
// count. The increment runs as a single statement: two concurrent grants for
// the same fingerprint serialize on the row, so neither can observe a stale
// count.
func (r *Repository) RecordGrant(ctx context.Context, fingerprintHash string) (int, error) {
	query := `
		UPDATE device_fingerprints
		SET trial_count = trial_count + 1, updated_at = NOW()
		WHERE fingerprint_hash = $1
		RETURNING trial_count
	`

	var count int
	err := r.db.QueryRow(ctx, query, fingerprintHash).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, fmt.Errorf("device %s not registered", fingerprintHash)
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Block marks a fingerprint as permanently ineligible for grants. Blocking
// an unseen fingerprint registers it blocked; re-blocking refreshes the
// reason and keeps the original blocked-at time.
func (r *Repository) Block(ctx context.Context, fingerprintHash, reason string) error {
	query := `
		INSERT INTO device_fingerprints (
			fingerprint_hash, trial_count, is_blocked, blocked_reason, blocked_at,
			last_seen_at, created_at, updated_at
		) VALUES ($1, 0, TRUE, $2, NOW(), NOW(), NOW(), NOW())
		ON CONFLICT (fingerprint_hash) DO UPDATE
		SET is_blocked = TRUE,
		    blocked_reason = EXCLUDED.blocked_reason,
		    blocked_at = COALESCE(device_fingerprints.blocked_at, EXCLUDED.blocked_at),
		    updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query, fingerprintHash, reason)
	return err
}

// List returns a page of the registry ordered by most recently seen, plus
// the total record count for pagination.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]*DeviceFingerprint, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM device_fingerprints").Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + deviceColumns + `
		FROM device_fingerprints
		ORDER BY last_seen_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*DeviceFingerprint
	for rows.Next() {
		device := &DeviceFingerprint{}
		var deviceDataJSON []byte
		err := rows.Scan(
			&device.FingerprintHash, &device.TrialCount, &device.IsBlocked,
			&device.BlockedReason, &device.BlockedAt, &deviceDataJSON,
			&device.LastSeenAt, &device.CreatedAt, &device.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		if len(deviceDataJSON) > 0 {
			json.Unmarshal(deviceDataJSON, &device.DeviceData)
		}
		out = append(out, device)
	}
	return out, total, nil
}
