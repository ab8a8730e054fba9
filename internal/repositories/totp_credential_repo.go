package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carelock/carelock/internal/database"
	"github.com/carelock/carelock/internal/models"
)

// TOTPCredentialRepository is the Postgres-backed auth.CredentialRepository.
// Failure counting and backup-code consumption run in row-locking
// transactions so increment-and-check cannot race.
type TOTPCredentialRepository struct {
	db *database.DB
}

func NewTOTPCredentialRepository(db *database.DB) *TOTPCredentialRepository {
	return &TOTPCredentialRepository{db: db}
}

func (r *TOTPCredentialRepository) Replace(ctx context.Context, cred *models.TOTPCredential) error {
	codes, err := json.Marshal(cred.BackupCodes)
	if err != nil {
		return fmt.Errorf("failed to serialize backup codes: %w", err)
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM totp_credentials WHERE user_id = $1`, cred.UserID); err != nil {
			return fmt.Errorf("failed to invalidate old credential: %w", err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO totp_credentials (id, user_id, secret_envelope, backup_codes, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, cred.ID, cred.UserID, cred.SecretEnvelope, codes, cred.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to store credential: %w", database.MapPostgresError(err))
		}
		return nil
	})
}

func (r *TOTPCredentialRepository) GetByUserID(ctx context.Context, userID string) (*models.TOTPCredential, error) {
	query := `
		SELECT id, user_id, secret_envelope, backup_codes, failed_attempts,
		       window_started_at, locked_until, created_at
		FROM totp_credentials
		WHERE user_id = $1
	`

	var cred models.TOTPCredential
	var codes []byte
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&cred.ID, &cred.UserID, &cred.SecretEnvelope, &codes,
		&cred.FailedAttempts, &cred.WindowStartedAt, &cred.LockedUntil, &cred.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if err := json.Unmarshal(codes, &cred.BackupCodes); err != nil {
		return nil, fmt.Errorf("failed to decode backup codes: %w", err)
	}

	return &cred, nil
}

func (r *TOTPCredentialRepository) RecordFailure(ctx context.Context, userID string, now time.Time, window time.Duration, maxAttempts int, lockout time.Duration) (bool, error) {
	var locked bool

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var attempts int
		var windowStart *time.Time

		err := tx.QueryRow(ctx, `
			SELECT failed_attempts, window_started_at
			FROM totp_credentials
			WHERE user_id = $1
			FOR UPDATE
		`, userID).Scan(&attempts, &windowStart)
		if err != nil {
			return database.MapPostgresError(err)
		}

		if windowStart == nil || now.Sub(*windowStart) > window {
			attempts = 0
			windowStart = &now
		}
		attempts++

		var lockedUntil *time.Time
		if attempts >= maxAttempts {
			until := now.Add(lockout)
			lockedUntil = &until
			locked = true
		}

		_, err = tx.Exec(ctx, `
			UPDATE totp_credentials
			SET failed_attempts = $2, window_started_at = $3,
			    locked_until = COALESCE($4, locked_until)
			WHERE user_id = $1
		`, userID, attempts, windowStart, lockedUntil)
		return err
	})

	return locked, err
}

func (r *TOTPCredentialRepository) ResetFailures(ctx context.Context, userID string) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE totp_credentials
		SET failed_attempts = 0, window_started_at = NULL, locked_until = NULL
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to reset failures: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *TOTPCredentialRepository) ConsumeBackupCode(ctx context.Context, userID string, index int, usedAt time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `
			SELECT backup_codes
			FROM totp_credentials
			WHERE user_id = $1
			FOR UPDATE
		`, userID).Scan(&raw)
		if err != nil {
			return database.MapPostgresError(err)
		}

		var codes []models.BackupCodeEntry
		if err := json.Unmarshal(raw, &codes); err != nil {
			return fmt.Errorf("failed to decode backup codes: %w", err)
		}
		if index < 0 || index >= len(codes) {
			return models.ErrBadRequest
		}
		if codes[index].UsedAt != nil {
			return models.ErrConflict
		}

		used := usedAt
		codes[index].UsedAt = &used

		updated, err := json.Marshal(codes)
		if err != nil {
			return fmt.Errorf("failed to serialize backup codes: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE totp_credentials SET backup_codes = $2 WHERE user_id = $1
		`, userID, updated)
		return err
	})
}
