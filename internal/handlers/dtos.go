package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelock/carelock/internal/models"
)

// Crypto DTOs

// EncryptRequest carries a payload to seal. Plaintext is base64 (JSON []byte).
type EncryptRequest struct {
	Plaintext []byte `json:"plaintext" validate:"required"`
	Level     string `json:"level" validate:"required,oneof=standard enhanced"`
}

// EncryptResponse returns the serialized envelope
type EncryptResponse struct {
	Envelope *models.Envelope `json:"envelope"`
}

// DecryptRequest carries an envelope to open
type DecryptRequest struct {
	Envelope *models.Envelope `json:"envelope" validate:"required"`
}

// DecryptResponse returns the recovered plaintext
type DecryptResponse struct {
	Plaintext []byte `json:"plaintext"`
}

// Two-factor DTOs

// ProvisionTwoFactorRequest enrolls the calling user in TOTP
type ProvisionTwoFactorRequest struct {
	AccountName string `json:"account_name" validate:"required,max=255"`
}

// ProvisionTwoFactorResponse contains everything the client needs to finish enrollment
type ProvisionTwoFactorResponse struct {
	Secret          string   `json:"secret"`           // Base32 secret for manual entry
	ProvisioningURI string   `json:"provisioning_uri"` // otpauth:// URI
	QRCode          string   `json:"qr_code"`          // Data URL for QR code
	BackupCodes     []string `json:"backup_codes"`     // One-time recovery codes
}

// VerifyTwoFactorRequest verifies a 6-digit TOTP code
type VerifyTwoFactorRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// RedeemBackupCodeRequest redeems a single-use recovery code
type RedeemBackupCodeRequest struct {
	Code string `json:"code" validate:"required,len=8,alphanum"`
}

// VerifyTwoFactorResponse reports the verification outcome
type VerifyTwoFactorResponse struct {
	Verified bool `json:"verified"`
}

// Session DTOs

// CreateSessionRequest opens a session for a user who has already authenticated
type CreateSessionRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

// SessionResponse describes an active session
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// File DTOs

// FileResponse describes a stored file
type FileResponse struct {
	FileID     uuid.UUID `json:"file_id"`
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	StorageRef string    `json:"storage_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// Audit DTOs

// AppendAuditEventRequest records a caller-supplied audit event
type AppendAuditEventRequest struct {
	Action   string            `json:"action" validate:"required,max=64"`
	Resource string            `json:"resource" validate:"required,max=255"`
	Outcome  string            `json:"outcome" validate:"required,oneof=SUCCESS FAILURE"`
	Detail   map[string]string `json:"detail" validate:"omitempty,max=32"`
}

// AuditRecordResponse is the stored, chained form of an event
type AuditRecordResponse struct {
	ID        uuid.UUID `json:"id"`
	Seq       int64     `json:"seq"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
	SelfHash  string    `json:"self_hash"`
}

// VerifyChainResponse reports a chain verification pass
type VerifyChainResponse struct {
	Intact       bool  `json:"intact"`
	CheckedFrom  int64 `json:"checked_from"`
	CheckedTo    int64 `json:"checked_to"`
	OffendingSeq int64 `json:"offending_seq,omitempty"`
}
