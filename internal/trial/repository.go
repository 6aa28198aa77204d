package trial

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryExecutor runs a repository operation with retry and, when enabled,
// circuit breaker protection. *database.DBPool implements it.
type QueryExecutor interface {
	Execute(ctx context.Context, queryType string, op func(context.Context) error) error
}

// Repository is the Postgres-backed token store.
type Repository struct {
	db   *pgxpool.Pool
	exec QueryExecutor
}

// NewRepository creates a new token store repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// WithExecutor routes the repository's retryable statements (the audit
// append and the IP-window count, both side signals) through the given
// executor. Token lifecycle writes stay direct: retrying a consume could
// burn quota twice.
func (r *Repository) WithExecutor(exec QueryExecutor) *Repository {
	r.exec = exec
	return r
}

func (r *Repository) execute(ctx context.Context, queryType string, op func(context.Context) error) error {
	if r.exec == nil {
		return op(ctx)
	}
	return r.exec.Execute(ctx, queryType, op)
}

const tokenColumns = `id, user_id, status, reports_remaining, revoked_reason,
	   created_at, updated_at, expires_at`

func scanToken(row pgx.Row) (*FreeTrialToken, error) {
	token := &FreeTrialToken{}
	err := row.Scan(
		&token.ID, &token.UserID, &token.Status, &token.ReportsRemaining,
		&token.RevokedReason, &token.CreatedAt, &token.UpdatedAt, &token.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// ========================================
// TOKEN LIFECYCLE
// ========================================

// CreateToken inserts a new active token. Any token still active for the
// same user is revoked as superseded in the same transaction, so the
// partial unique index on (user_id) WHERE status = 'active' never trips
// under normal operation.
func (r *Repository) CreateToken(ctx context.Context, token *FreeTrialToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin token creation: %w", err)
	}
	defer tx.Rollback(ctx)

	supersede := `
		UPDATE trial_tokens
		SET status = 'revoked', revoked_reason = 'superseded by new trial', updated_at = $2
		WHERE user_id = $1 AND status = 'active'
	`
	if _, err := tx.Exec(ctx, supersede, token.UserID, token.CreatedAt); err != nil {
		return fmt.Errorf("failed to supersede active token: %w", err)
	}

	insert := `
		INSERT INTO trial_tokens (
			id, user_id, status, reports_remaining,
			created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $5, $6)
	`
	_, err = tx.Exec(ctx, insert,
		token.ID, token.UserID, token.Status, token.ReportsRemaining,
		token.CreatedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trial token: %w", err)
	}

	return tx.Commit(ctx)
}

// GetToken returns the token with the given id, or nil when absent.
func (r *Repository) GetToken(ctx context.Context, tokenID uuid.UUID) (*FreeTrialToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM trial_tokens
		WHERE id = $1
	`
	return scanToken(r.db.QueryRow(ctx, query, tokenID))
}

// ActiveTokenForUser returns the user's active token, or nil when none is
// active. History stays in the table; this only ever surfaces the live one.
func (r *Repository) ActiveTokenForUser(ctx context.Context, userID uuid.UUID) (*FreeTrialToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM trial_tokens
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanToken(r.db.QueryRow(ctx, query, userID))
}

// ConsumeToken burns one report generation. The decrement, the terminal
// transition on the exhausting call, and the usage record are one
// transaction; the conditional update serializes concurrent consumers on
// the token row so the quota can never go negative.
func (r *Repository) ConsumeToken(ctx context.Context, tokenID uuid.UUID, reportID string, now time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin consume: %w", err)
	}
	defer tx.Rollback(ctx)

	consume := `
		UPDATE trial_tokens
		SET reports_remaining = reports_remaining - 1,
		    status = CASE WHEN reports_remaining - 1 <= 0 THEN 'expired' ELSE status END,
		    updated_at = $2
		WHERE id = $1 AND status = 'active' AND reports_remaining > 0 AND expires_at > $2
		RETURNING reports_remaining
	`
	var remaining int
	err = tx.QueryRow(ctx, consume, tokenID, now).Scan(&remaining)
	if err == pgx.ErrNoRows {
		// Not consumable. A token sitting active with an exhausted quota or
		// past its window should already be expired; settle it now.
		heal := `
			UPDATE trial_tokens
			SET status = 'expired', updated_at = $2
			WHERE id = $1 AND status = 'active'
			  AND (reports_remaining <= 0 OR expires_at <= $2)
		`
		if _, healErr := tx.Exec(ctx, heal, tokenID, now); healErr != nil {
			return false, fmt.Errorf("failed to expire exhausted token: %w", healErr)
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return false, commitErr
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume token: %w", err)
	}

	usage := `
		INSERT INTO trial_usage (id, token_id, report_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, usage, uuid.New(), tokenID, reportID, now); err != nil {
		return false, fmt.Errorf("failed to record trial usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireToken moves an active token to expired. Returns false when the
// token is missing or already terminal.
func (r *Repository) ExpireToken(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE trial_tokens
		SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status = 'active'
	`
	cmd, err := r.db.Exec(ctx, query, tokenID, now)
	if err != nil {
		return false, fmt.Errorf("failed to expire token: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

// RevokeToken moves an active token to revoked. Tokens already in a
// terminal state are left untouched and report true; only a missing token
// reports false.
func (r *Repository) RevokeToken(ctx context.Context, tokenID uuid.UUID, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE trial_tokens
		SET status = 'revoked', revoked_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'
	`
	cmd, err := r.db.Exec(ctx, query, tokenID, reason, now)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	if cmd.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trial_tokens WHERE id = $1)`, tokenID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check token existence: %w", err)
	}
	return exists, nil
}

// ========================================
// USAGE LOG
// ========================================

// ListUsage returns a page of the append-only usage log for a token,
// newest first.
func (r *Repository) ListUsage(ctx context.Context, tokenID uuid.UUID, limit, offset int) ([]*TrialUsageRecord, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM trial_usage WHERE token_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, tokenID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trial usage: %w", err)
	}

	query := `
		SELECT id, token_id, report_id, created_at
		FROM trial_usage
		WHERE token_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, tokenID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list trial usage: %w", err)
	}
	defer rows.Close()

	records := []*TrialUsageRecord{}
	for rows.Next() {
		record := &TrialUsageRecord{}
		if err := rows.Scan(&record.ID, &record.TokenID, &record.ReportID, &record.CreatedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	return records, total, rows.Err()
}

// ========================================
// ACTIVATION AUDIT LOG
// ========================================

// InsertActivation appends one decision to the audit log.
func (r *Repository) InsertActivation(ctx context.Context, activation *TrialActivation) error {
	var flagsJSON []byte
	if len(activation.FraudFlags) > 0 {
		flagsJSON, _ = json.Marshal(activation.FraudFlags)
	}

	query := `
		INSERT INTO trial_activations (
			id, user_id, fingerprint_hash, ip_address, user_agent,
			granted, denial_reason, fraud_score, fraud_flags, store_mode, created_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10, $11)
	`
	err := r.execute(ctx, "insert_activation", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query,
			activation.ID, activation.UserID, activation.FingerprintHash,
			activation.IPAddress, activation.UserAgent, activation.Granted,
			activation.DenialReason, activation.FraudScore, flagsJSON,
			activation.StoreMode, activation.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert activation record: %w", err)
	}
	return nil
}

// CountGrantsFromIP counts granted activations from an address inside the
// rolling window. Feeds the IP rate-limit signal.
func (r *Repository) CountGrantsFromIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM trial_activations
		WHERE ip_address = $1 AND granted = TRUE AND created_at >= $2
	`
	var count int
	err := r.execute(ctx, "count_grants_from_ip", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count grants from ip: %w", err)
	}
	return count, nil
}
