package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"

	"github.com/carelock/carelock/internal/crypto"
	"github.com/carelock/carelock/internal/models"
)

const backupCodeCount = 10

// CredentialRepository persists TOTP credentials and their mutable
// failure-tracking state.
type CredentialRepository interface {
	// Replace stores a new credential for the user, invalidating any
	// existing one.
	Replace(ctx context.Context, cred *models.TOTPCredential) error

	GetByUserID(ctx context.Context, userID string) (*models.TOTPCredential, error)

	// RecordFailure atomically applies one failed attempt under the rolling
	// window, locking the credential for lockout once maxAttempts
	// consecutive failures accumulate. Returns whether the credential is
	// now locked.
	RecordFailure(ctx context.Context, userID string, now time.Time, window time.Duration, maxAttempts int, lockout time.Duration) (bool, error)

	// ResetFailures clears the failure window after a successful attempt.
	ResetFailures(ctx context.Context, userID string) error

	// ConsumeBackupCode marks the code at index used, failing if it already
	// was. The check-and-set is atomic.
	ConsumeBackupCode(ctx context.Context, userID string, index int, usedAt time.Time) error
}

// TOTPConfig holds manager configuration.
type TOTPConfig struct {
	Issuer         string
	MaxAttempts    int
	Window         time.Duration
	Lockout        time.Duration
	SecretLength   int // bytes of secret entropy; 20 = 160 bits
	BackupCodeCost int // bcrypt cost for backup code hashes
}

// Provisioned is the one-time response of a provisioning call. The secret
// and backup codes are never exposed again afterwards.
type Provisioned struct {
	Secret          string // base32, for manual authenticator entry
	ProvisioningURI string
	QRDataURL       string
	BackupCodes     []string
}

// TOTPManager provisions second-factor credentials and verifies codes.
type TOTPManager struct {
	repo   CredentialRepository
	sealer *crypto.Encryptor
	logger *slog.Logger
	config TOTPConfig
}

// NewTOTPManager creates a TOTP manager. sealer encrypts secrets at rest.
func NewTOTPManager(repo CredentialRepository, sealer *crypto.Encryptor, logger *slog.Logger, config TOTPConfig) *TOTPManager {
	if config.SecretLength <= 0 {
		config.SecretLength = 20
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.BackupCodeCost < bcrypt.MinCost {
		config.BackupCodeCost = 14
	}

	return &TOTPManager{
		repo:   repo,
		sealer: sealer,
		logger: logger,
		config: config,
	}
}

// Provision generates a fresh credential for the user, replacing any
// existing one. Returns the only copy of the secret and backup codes the
// caller will ever see.
func (m *TOTPManager) Provision(ctx context.Context, userID, accountName string) (*Provisioned, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		SecretSize:  uint(m.config.SecretLength),
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	backupCodes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to generate backup codes: %w", err)
	}

	entries := make([]models.BackupCodeEntry, len(backupCodes))
	for i, code := range backupCodes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), m.config.BackupCodeCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		entries[i] = models.BackupCodeEntry{CodeHash: string(hash)}
	}

	sealed, err := m.sealSecret(ctx, key.Secret())
	if err != nil {
		return nil, err
	}

	cred := &models.TOTPCredential{
		ID:             uuid.New(),
		UserID:         userID,
		SecretEnvelope: sealed,
		BackupCodes:    entries,
		CreatedAt:      time.Now().UTC(),
	}

	if err := m.repo.Replace(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	m.logger.InfoContext(ctx, "TOTP credential provisioned",
		slog.String("user_id", userID))

	return &Provisioned{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRDataURL:       "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
		BackupCodes:     backupCodes,
	}, nil
}

// Verify validates a submitted TOTP code against the stored secret,
// accepting the current 30-second step and one step on each side.
// The lockout check runs first: while locked even a correct code fails
// with ErrAuthLocked.
func (m *TOTPManager) Verify(ctx context.Context, userID, code string) (bool, error) {
	cred, err := m.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, models.ErrAuth
		}
		return false, err
	}

	now := time.Now()
	if cred.Locked(now) {
		return false, models.ErrAuthLocked
	}

	secret, err := m.openSecret(ctx, cred.SecretEnvelope)
	if err != nil {
		return false, err
	}

	valid, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}

	if !valid {
		locked, rferr := m.repo.RecordFailure(ctx, userID, now, m.config.Window, m.config.MaxAttempts, m.config.Lockout)
		if rferr != nil {
			m.logger.ErrorContext(ctx, "failed to record TOTP failure", slog.Any("error", rferr))
		}
		if locked {
			m.logger.WarnContext(ctx, "TOTP verification locked",
				slog.String("user_id", userID),
				slog.Int("max_attempts", m.config.MaxAttempts))
			return false, models.ErrAuthLocked
		}
		return false, models.ErrAuth
	}

	if err := m.repo.ResetFailures(ctx, userID); err != nil {
		m.logger.ErrorContext(ctx, "failed to reset TOTP failures", slog.Any("error", err))
	}

	return true, nil
}

// RedeemBackupCode consumes a single-use recovery code. Returns false when
// the code is unknown or already used.
func (m *TOTPManager) RedeemBackupCode(ctx context.Context, userID, code string) (bool, error) {
	cred, err := m.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	now := time.Now()
	if cred.Locked(now) {
		return false, models.ErrAuthLocked
	}

	for i, entry := range cred.BackupCodes {
		if entry.UsedAt != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(code)) != nil {
			continue
		}

		// The repo re-checks the used flag atomically; a concurrent redeem
		// of the same code loses here.
		if err := m.repo.ConsumeBackupCode(ctx, userID, i, now.UTC()); err != nil {
			if errors.Is(err, models.ErrConflict) {
				return false, nil
			}
			return false, err
		}

		if err := m.repo.ResetFailures(ctx, userID); err != nil {
			m.logger.ErrorContext(ctx, "failed to reset TOTP failures", slog.Any("error", err))
		}

		m.logger.InfoContext(ctx, "backup code redeemed",
			slog.String("user_id", userID),
			slog.Int("code_index", i))
		return true, nil
	}

	return false, nil
}

func (m *TOTPManager) sealSecret(ctx context.Context, secret string) ([]byte, error) {
	env, err := m.sealer.Encrypt(ctx, []byte(secret), models.LevelStandard)
	if err != nil {
		return nil, fmt.Errorf("failed to seal TOTP secret: %w", err)
	}
	return env.Marshal()
}

func (m *TOTPManager) openSecret(ctx context.Context, sealed []byte) (string, error) {
	env, err := models.UnmarshalEnvelope(sealed)
	if err != nil {
		return "", err
	}
	secret, err := m.sealer.Decrypt(ctx, env)
	if err != nil {
		return "", fmt.Errorf("failed to open TOTP secret: %w", err)
	}
	return string(secret), nil
}

// generateBackupCodes draws codes from a charset without ambiguous
// characters (0/O, 1/I/L), 8 characters each.
func generateBackupCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	codes := make([]string, count)
	buf := make([]byte, 8)
	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		code := make([]byte, 8)
		for j, b := range buf {
			code[j] = charset[int(b)%len(charset)]
		}
		codes[i] = string(code)
	}

	return codes, nil
}
