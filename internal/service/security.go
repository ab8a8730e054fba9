// Package service exposes the security and compliance operations consumed
// by dashboards and APIs. One Security instance is constructed per process
// with all collaborators injected, so tests substitute any of them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carelock/carelock/internal/alert"
	"github.com/carelock/carelock/internal/audit"
	"github.com/carelock/carelock/internal/auth"
	"github.com/carelock/carelock/internal/crypto"
	"github.com/carelock/carelock/internal/ingest"
	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/session"
)

// Security is the composed security service.
type Security struct {
	encryptor *crypto.Encryptor
	totp      *auth.TOTPManager
	trail     *audit.Trail
	sessions  *session.Store
	pipeline  *ingest.Pipeline
	timing    *auth.TimingDelay
	alerter   alert.Alerter
	logger    *slog.Logger
}

// New wires the service from its components.
func New(
	encryptor *crypto.Encryptor,
	totp *auth.TOTPManager,
	trail *audit.Trail,
	sessions *session.Store,
	pipeline *ingest.Pipeline,
	timing *auth.TimingDelay,
	alerter alert.Alerter,
	logger *slog.Logger,
) *Security {
	if alerter == nil {
		alerter = alert.Noop{}
	}

	return &Security{
		encryptor: encryptor,
		totp:      totp,
		trail:     trail,
		sessions:  sessions,
		pipeline:  pipeline,
		timing:    timing,
		alerter:   alerter,
		logger:    logger,
	}
}

// EncryptData seals a payload at the requested protection level.
func (s *Security) EncryptData(ctx context.Context, plaintext []byte, level string) (*models.Envelope, error) {
	return s.encryptor.Encrypt(ctx, plaintext, level)
}

// DecryptData opens an envelope. Integrity failures are themselves audited
// (best-effort) before being surfaced.
func (s *Security) DecryptData(ctx context.Context, env *models.Envelope) ([]byte, error) {
	plaintext, err := s.encryptor.Decrypt(ctx, env)
	if err != nil {
		if errors.Is(err, models.ErrIntegrity) || errors.Is(err, models.ErrTimestamp) {
			if _, aerr := s.trail.Append(ctx, "system", models.AuditActionIntegrityFailure, "envelope",
				models.AuditOutcomeFailure, models.AuditDetail{"error": err.Error()}); aerr != nil {
				s.logger.ErrorContext(ctx, "failed to audit integrity failure", slog.Any("error", aerr))
			}
		}
		return nil, err
	}
	return plaintext, nil
}

// ProvisionTwoFactor enrolls a second factor for the user. The returned
// secret and backup codes are shown once and never re-exposed.
func (s *Security) ProvisionTwoFactor(ctx context.Context, userID, accountName string) (*auth.Provisioned, error) {
	provisioned, err := s.totp.Provision(ctx, userID, accountName)
	if err != nil {
		return nil, err
	}

	if _, err := s.trail.Append(ctx, userID, models.AuditActionTwoFactorProvision, "totp_credential",
		models.AuditOutcomeSuccess, nil); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit 2FA provisioning", slog.Any("error", err))
	}

	return provisioned, nil
}

// VerifyTwoFactor checks a submitted TOTP code. Failures take a uniform
// amount of time regardless of cause.
func (s *Security) VerifyTwoFactor(ctx context.Context, userID, code string) (bool, error) {
	start := time.Now()

	ok, err := s.totp.Verify(ctx, userID, code)
	s.timing.WaitFrom(start, ok)

	outcome := models.AuditOutcomeFailure
	if ok {
		outcome = models.AuditOutcomeSuccess
	}
	if _, aerr := s.trail.Append(ctx, userID, models.AuditActionTwoFactorVerify, "totp_credential",
		outcome, nil); aerr != nil {
		s.logger.ErrorContext(ctx, "failed to audit 2FA verification", slog.Any("error", aerr))
	}

	if errors.Is(err, models.ErrAuthLocked) {
		if _, aerr := s.trail.Append(ctx, userID, models.AuditActionTwoFactorLocked, "totp_credential",
			models.AuditOutcomeFailure, nil); aerr != nil {
			s.logger.ErrorContext(ctx, "failed to audit 2FA lockout", slog.Any("error", aerr))
		}
		_ = s.alerter.Notify(ctx, "second factor locked",
			fmt.Sprintf("repeated failed TOTP attempts locked verification for user %s", userID))
	}

	return ok, err
}

// RedeemBackupCode consumes a single-use recovery code.
func (s *Security) RedeemBackupCode(ctx context.Context, userID, code string) (bool, error) {
	ok, err := s.totp.RedeemBackupCode(ctx, userID, code)
	if err != nil {
		return false, err
	}

	if ok {
		if _, aerr := s.trail.Append(ctx, userID, models.AuditActionBackupCodeRedeemed, "totp_credential",
			models.AuditOutcomeSuccess, nil); aerr != nil {
			s.logger.ErrorContext(ctx, "failed to audit backup code redemption", slog.Any("error", aerr))
		}
	}

	return ok, nil
}

// LogAuditEvent appends an arbitrary security-relevant event to the trail.
func (s *Security) LogAuditEvent(ctx context.Context, actorID, action, resource, outcome string, detail models.AuditDetail) (*models.AuditRecord, error) {
	return s.trail.Append(ctx, actorID, action, resource, outcome, detail)
}

// VerifyAuditChain recomputes the chain over a range. A broken chain
// raises an operator alert.
func (s *Security) VerifyAuditChain(ctx context.Context, fromSeq, toSeq int64) (bool, int64, error) {
	ok, offending, err := s.trail.VerifyChain(ctx, fromSeq, toSeq)
	if err != nil {
		return false, 0, err
	}

	if !ok {
		s.logger.ErrorContext(ctx, "audit chain verification failed",
			slog.Int64("offending_seq", offending))
		_ = s.alerter.Notify(ctx, "audit chain verification failed",
			fmt.Sprintf("hash chain breaks at record seq %d", offending))
	}

	return ok, offending, nil
}

// SecureFileUpload runs an upload through the ingestion pipeline.
func (s *Security) SecureFileUpload(ctx context.Context, req ingest.UploadRequest) (*models.UploadResult, error) {
	return s.pipeline.Upload(ctx, req)
}

// RetrieveFile fetches and decrypts a stored file.
func (s *Security) RetrieveFile(ctx context.Context, fileID uuid.UUID) ([]byte, *models.UploadedFile, error) {
	return s.pipeline.Retrieve(ctx, fileID)
}

// DeleteFile removes a stored file explicitly.
func (s *Security) DeleteFile(ctx context.Context, actorID string, fileID uuid.UUID) error {
	return s.pipeline.Delete(ctx, actorID, fileID)
}

// CreateSession mints a session for an authenticated user.
func (s *Security) CreateSession(ctx context.Context, userID, clientFingerprint string) (string, error) {
	return s.sessions.Create(ctx, userID, clientFingerprint)
}

// ValidateSession checks a session id against the store and the clock.
func (s *Security) ValidateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.sessions.Validate(ctx, sessionID)
}

// DestroySession invalidates a session; idempotent.
func (s *Security) DestroySession(ctx context.Context, sessionID string) error {
	return s.sessions.Destroy(ctx, sessionID)
}
