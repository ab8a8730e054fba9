package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actions recorded on the audit trail
const (
	AuditActionSessionCreated     = "SESSION_CREATED"
	AuditActionSessionDestroyed   = "SESSION_DESTROYED"
	AuditActionTwoFactorProvision = "TWO_FACTOR_PROVISIONED"
	AuditActionTwoFactorVerify    = "TWO_FACTOR_VERIFIED"
	AuditActionTwoFactorLocked    = "TWO_FACTOR_LOCKED"
	AuditActionBackupCodeRedeemed = "BACKUP_CODE_REDEEMED"
	AuditActionFileUploaded       = "FILE_UPLOADED"
	AuditActionFileUploadRejected = "FILE_UPLOAD_REJECTED"
	AuditActionFileDeleted        = "FILE_DELETED"
	AuditActionEncryptDegraded    = "ENCRYPTION_DEGRADED"
	AuditActionIntegrityFailure   = "INTEGRITY_FAILURE"
	AuditActionChainVerified      = "CHAIN_VERIFIED"
)

// Outcomes
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
)

// AuditRecord is one link of the hash chain. SelfHash covers PriorHash
// and the canonical serialization of every other field, so any deletion,
// reordering, or edit breaks verification from that record onward.
type AuditRecord struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	Seq       int64         `db:"seq" json:"seq"`
	ActorID   string        `db:"actor_id" json:"actor_id"`
	Action    string        `db:"action" json:"action"`
	Resource  string        `db:"resource" json:"resource"`
	Outcome   string        `db:"outcome" json:"outcome"`
	Detail    AuditDetail   `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	PriorHash []byte        `db:"prior_hash" json:"prior_hash"`
	SelfHash  []byte        `db:"self_hash" json:"self_hash"`
}

// AuditDetail holds additional context for audit records
type AuditDetail map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *AuditDetail) Scan(value interface{}) error {
	if value == nil {
		*d = make(AuditDetail)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*d = AuditDetail(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d AuditDetail) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}
