package models

import (
	"time"

	"github.com/google/uuid"
)

// TOTPCredential is the stored second-factor state for a user. The secret
// is sealed with envelope encryption at rest and never re-exposed after
// provisioning. Rotation replaces the whole credential; the old one is
// invalidated, never edited.
type TOTPCredential struct {
	ID              uuid.UUID         `db:"id"`
	UserID          string            `db:"user_id"`
	SecretEnvelope  []byte            `db:"secret_envelope"`
	BackupCodes     []BackupCodeEntry `db:"backup_codes"`
	FailedAttempts  int               `db:"failed_attempts"`
	WindowStartedAt *time.Time        `db:"window_started_at"`
	LockedUntil     *time.Time        `db:"locked_until"`
	CreatedAt       time.Time         `db:"created_at"`
}

// BackupCodeEntry is one single-use recovery code, stored as a bcrypt hash.
type BackupCodeEntry struct {
	CodeHash string     `json:"code_hash"`
	UsedAt   *time.Time `json:"used_at,omitempty"`
}

// Locked reports whether verification attempts are currently refused.
func (c *TOTPCredential) Locked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}
