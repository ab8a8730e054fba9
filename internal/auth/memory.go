package auth

import (
	"context"
	"sync"
	"time"

	"github.com/carelock/carelock/internal/models"
)

// MemoryCredentialRepository is an in-process CredentialRepository.
// All mutations run under one lock, which makes increment-and-check on the
// failure counter atomic.
type MemoryCredentialRepository struct {
	mu    sync.Mutex
	creds map[string]*models.TOTPCredential // by user id
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{creds: make(map[string]*models.TOTPCredential)}
}

func (r *MemoryCredentialRepository) Replace(ctx context.Context, cred *models.TOTPCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *cred
	copied.BackupCodes = append([]models.BackupCodeEntry(nil), cred.BackupCodes...)
	r.creds[cred.UserID] = &copied
	return nil
}

func (r *MemoryCredentialRepository) GetByUserID(ctx context.Context, userID string) (*models.TOTPCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[userID]
	if !ok {
		return nil, models.ErrNotFound
	}

	copied := *cred
	copied.BackupCodes = append([]models.BackupCodeEntry(nil), cred.BackupCodes...)
	return &copied, nil
}

func (r *MemoryCredentialRepository) RecordFailure(ctx context.Context, userID string, now time.Time, window time.Duration, maxAttempts int, lockout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[userID]
	if !ok {
		return false, models.ErrNotFound
	}

	if cred.WindowStartedAt == nil || now.Sub(*cred.WindowStartedAt) > window {
		start := now
		cred.WindowStartedAt = &start
		cred.FailedAttempts = 0
	}
	cred.FailedAttempts++

	if cred.FailedAttempts >= maxAttempts {
		until := now.Add(lockout)
		cred.LockedUntil = &until
		return true, nil
	}

	return false, nil
}

func (r *MemoryCredentialRepository) ResetFailures(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[userID]
	if !ok {
		return models.ErrNotFound
	}

	cred.FailedAttempts = 0
	cred.WindowStartedAt = nil
	cred.LockedUntil = nil
	return nil
}

func (r *MemoryCredentialRepository) ConsumeBackupCode(ctx context.Context, userID string, index int, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[userID]
	if !ok {
		return models.ErrNotFound
	}
	if index < 0 || index >= len(cred.BackupCodes) {
		return models.ErrBadRequest
	}
	if cred.BackupCodes[index].UsedAt != nil {
		return models.ErrConflict
	}

	used := usedAt
	cred.BackupCodes[index].UsedAt = &used
	return nil
}
