// Package crypto implements envelope encryption for sensitive records.
// Payloads are sealed with an AEAD primitive; the enhanced protection
// level additionally binds a content hash to the timestamp ledger.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/carelock/carelock/internal/ledger"
	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/storage"
)

// Auditor records security events raised inside the encryptor, such as
// degradation from enhanced to standard protection.
type Auditor interface {
	Append(ctx context.Context, actorID, action, resource, outcome string, detail models.AuditDetail) (*models.AuditRecord, error)
}

// Config tunes an Encryptor.
type Config struct {
	// AlgorithmID selects the AEAD used for new envelopes. Decryption
	// follows the envelope's own algorithm id regardless.
	AlgorithmID int

	// KeyPurpose names the key resolved from the provider.
	KeyPurpose string

	// LedgerTimeout bounds each ledger call.
	LedgerTimeout time.Duration

	// DegradeToStandard chooses the policy when the ledger is unreachable:
	// true degrades the envelope to standard protection (audited as a
	// warning), false fails the operation.
	DegradeToStandard bool
}

// Encryptor seals and opens envelopes. It accepts an already-resolved key
// handle from the provider; rotation and storage are not its concern.
type Encryptor struct {
	keys    storage.KeyProvider
	ledger  ledger.Ledger
	auditor Auditor
	logger  *slog.Logger
	cfg     Config
}

// NewEncryptor creates an Encryptor. ledger may be nil when enhanced-level
// encryption is never requested; auditor may be nil in tests.
func NewEncryptor(keys storage.KeyProvider, lgr ledger.Ledger, auditor Auditor, logger *slog.Logger, cfg Config) (*Encryptor, error) {
	switch cfg.AlgorithmID {
	case models.AlgorithmAESGCM, models.AlgorithmChaCha20:
	default:
		return nil, fmt.Errorf("unknown algorithm id %d", cfg.AlgorithmID)
	}
	if cfg.KeyPurpose == "" {
		cfg.KeyPurpose = storage.KeyPurposeData
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 5 * time.Second
	}

	return &Encryptor{
		keys:    keys,
		ledger:  lgr,
		auditor: auditor,
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// newAEAD constructs the primitive for an algorithm id and 32-byte key.
func newAEAD(algorithmID int, key []byte) (cipher.AEAD, error) {
	switch algorithmID {
	case models.AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case models.AlgorithmChaCha20:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unknown algorithm id %d", algorithmID)
	}
}

// Encrypt seals plaintext at the requested protection level.
func (e *Encryptor) Encrypt(ctx context.Context, plaintext []byte, level string) (*models.Envelope, error) {
	if level != models.LevelStandard && level != models.LevelEnhanced {
		return nil, fmt.Errorf("%w: unknown protection level %q", models.ErrValidation, level)
	}

	key, err := e.keys.ResolveKey(e.cfg.KeyPurpose)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key: %w", err)
	}

	aead, err := newAEAD(e.cfg.AlgorithmID, key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	env := &models.Envelope{
		AlgorithmID: e.cfg.AlgorithmID,
		Level:       level,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}

	if level == models.LevelEnhanced {
		token, err := e.appendToLedger(ctx, plaintext)
		switch {
		case err == nil:
			env.TimestampToken = token
		case e.cfg.DegradeToStandard:
			e.logger.WarnContext(ctx, "timestamp ledger unreachable, degrading to standard protection",
				slog.Any("error", err))
			if e.auditor != nil {
				_, _ = e.auditor.Append(ctx, "system", models.AuditActionEncryptDegraded, "envelope",
					models.AuditOutcomeFailure, models.AuditDetail{"error": err.Error()})
			}
			env.Level = models.LevelStandard
		default:
			return nil, fmt.Errorf("%w: %v", models.ErrTimestamp, err)
		}
	}

	return env, nil
}

// Decrypt opens an envelope. A tag mismatch yields ErrIntegrity and never
// partially decrypted data; an enhanced envelope whose timestamp binding
// the ledger rejects yields ErrTimestamp.
func (e *Encryptor) Decrypt(ctx context.Context, env *models.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	key, err := e.keys.ResolveKey(e.cfg.KeyPurpose)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key: %w", err)
	}

	aead, err := newAEAD(env.AlgorithmID, key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", models.ErrIntegrity)
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: payload tampered or wrong key", models.ErrIntegrity)
	}

	if env.Level == models.LevelEnhanced {
		if e.ledger == nil {
			return nil, fmt.Errorf("%w: no ledger configured to verify binding", models.ErrTimestamp)
		}
		hash := sha256.Sum256(plaintext)

		verifyCtx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
		defer cancel()

		ok, err := e.ledger.Verify(verifyCtx, env.TimestampToken, hash[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTimestamp, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: ledger rejected binding", models.ErrTimestamp)
		}
	}

	return plaintext, nil
}

func (e *Encryptor) appendToLedger(ctx context.Context, plaintext []byte) (string, error) {
	if e.ledger == nil {
		return "", fmt.Errorf("no ledger configured")
	}

	hash := sha256.Sum256(plaintext)

	appendCtx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()

	return e.ledger.Append(appendCtx, hash[:])
}
