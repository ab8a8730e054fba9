// Package session manages authenticated sessions: opaque high-entropy
// identifiers with a fixed TTL, validated against the wall clock and never
// renewed implicitly.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carelock/carelock/internal/audit"
	"github.com/carelock/carelock/internal/models"
)

// Repository persists sessions. Operations on different session ids are
// independent; implementations need no cross-session locking.
type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// Delete is idempotent: removing a missing session is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired purges sessions that expired before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store creates, validates, and destroys sessions.
type Store struct {
	repo   Repository
	trail  *audit.Trail
	logger *slog.Logger
	ttl    time.Duration
}

// NewStore creates a session store with a fixed TTL.
func NewStore(repo Repository, trail *audit.Trail, logger *slog.Logger, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Store{repo: repo, trail: trail, logger: logger, ttl: ttl}
}

// newSessionID returns 256 bits of base64url-encoded randomness.
func newSessionID() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// Create mints a session for the user and logs SESSION_CREATED.
func (s *Store) Create(ctx context.Context, userID, clientFingerprint string) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:                id,
		UserID:            userID,
		ClientFingerprint: clientFingerprint,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.ttl),
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	if _, err := s.trail.Append(ctx, userID, models.AuditActionSessionCreated, "session",
		models.AuditOutcomeSuccess, models.AuditDetail{"expires_at": sess.ExpiresAt.Format(time.RFC3339)}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit session creation", slog.Any("error", err))
	}

	return id, nil
}

// Validate looks up the session and compares its expiry against the wall
// clock. It never renews.
func (s *Store) Validate(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}

	if sess.ExpiredAt(time.Now()) {
		return nil, models.ErrSessionExpired
	}

	return sess, nil
}

// Destroy invalidates the session immediately and logs SESSION_DESTROYED.
// Destroying a missing or already-destroyed session succeeds quietly.
func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if _, err := s.trail.Append(ctx, sess.UserID, models.AuditActionSessionDestroyed, "session",
		models.AuditOutcomeSuccess, nil); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit session destruction", slog.Any("error", err))
	}

	return nil
}

// PurgeExpired removes expired sessions; used by the background cleaner.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, time.Now().UTC())
}
