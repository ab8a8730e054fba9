package models

import (
	"time"

	"github.com/google/uuid"
)

// Upload pipeline states
type UploadState string

const (
	UploadReceived  UploadState = "received"
	UploadValidated UploadState = "validated"
	UploadScanned   UploadState = "scanned"
	UploadEncrypted UploadState = "encrypted"
	UploadStored    UploadState = "stored"
	UploadAudited   UploadState = "audited"
	UploadRejected  UploadState = "rejected"
)

// UploadedFile is created only after validation and successful encryption;
// plaintext never reaches the blob store.
type UploadedFile struct {
	ID           uuid.UUID `db:"id"`
	OwnerID      string    `db:"owner_id"`
	Name         string    `db:"name"`
	SizeBytes    int64     `db:"size_bytes"`
	DeclaredType string    `db:"declared_type"`
	StorageRef   string    `db:"storage_ref"`
	CreatedAt    time.Time `db:"created_at"`
}

// UploadResult is returned to the caller on terminal success.
type UploadResult struct {
	FileID     uuid.UUID
	StorageRef string
	SizeBytes  int64
}
