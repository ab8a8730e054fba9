package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/carelock/carelock/internal/audit"
	"github.com/carelock/carelock/internal/auth"
	"github.com/carelock/carelock/internal/crypto"
	"github.com/carelock/carelock/internal/ingest"
	"github.com/carelock/carelock/internal/ledger"
	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/session"
	"github.com/carelock/carelock/internal/storage"
)

// captureAlerter records alert notifications
type captureAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *captureAlerter) Notify(ctx context.Context, subject, body string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

// alwaysClean approves every scan
type alwaysClean struct{}

func (alwaysClean) Scan(ctx context.Context, data []byte) (*storage.ScanResult, error) {
	return &storage.ScanResult{Clean: true}, nil
}

// tamperStore exposes records like its underlying store but lets a test
// mutate them on the way out, simulating on-disk tampering
type tamperStore struct {
	*audit.MemoryStore
	mutate func(rec *models.AuditRecord)
}

func (s *tamperStore) Range(ctx context.Context, fromSeq, toSeq int64) ([]*models.AuditRecord, error) {
	records, err := s.MemoryStore.Range(ctx, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	if s.mutate != nil {
		for _, rec := range records {
			s.mutate(rec)
		}
	}
	return records, nil
}

type fixture struct {
	security *Security
	store    *tamperStore
	alerter  *captureAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &tamperStore{MemoryStore: audit.NewMemoryStore()}
	trail := audit.NewTrail(store, logger)

	keys, err := storage.NewStaticKeyProvider(map[string][]byte{
		storage.KeyPurposeData:       bytes.Repeat([]byte{0x31}, 32),
		storage.KeyPurposeCredential: bytes.Repeat([]byte{0x32}, 32),
	})
	require.NoError(t, err)

	tsl := ledger.NewSignedLedger([]byte("service-test-ledger-secret-32b!!"))

	encryptor, err := crypto.NewEncryptor(keys, tsl, trail, logger, crypto.Config{
		AlgorithmID: models.AlgorithmAESGCM,
		KeyPurpose:  storage.KeyPurposeData,
	})
	require.NoError(t, err)
	sealer, err := crypto.NewEncryptor(keys, tsl, trail, logger, crypto.Config{
		AlgorithmID: models.AlgorithmAESGCM,
		KeyPurpose:  storage.KeyPurposeCredential,
	})
	require.NoError(t, err)

	totpManager := auth.NewTOTPManager(auth.NewMemoryCredentialRepository(), sealer, logger, auth.TOTPConfig{
		Issuer:         "carelock-test",
		MaxAttempts:    2,
		Window:         time.Minute,
		Lockout:        time.Minute,
		BackupCodeCost: bcrypt.MinCost,
	})

	sessions := session.NewStore(session.NewMemoryRepository(), trail, logger, time.Hour)

	blobs, err := storage.NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	pipeline := ingest.NewPipeline(ingest.NewMemoryFileRepository(), blobs, alwaysClean{}, encryptor, trail, logger, ingest.Config{
		MaxBytes:     1 << 20,
		AllowedTypes: []string{"text/plain"},
	})

	alerter := &captureAlerter{}
	timing := auth.NewTimingDelay(auth.TimingConfig{})

	return &fixture{
		security: New(encryptor, totpManager, trail, sessions, pipeline, timing, alerter, logger),
		store:    store,
		alerter:  alerter,
	}
}

func (f *fixture) actions(t *testing.T) []string {
	t.Helper()
	records, err := f.store.Range(context.Background(), 1, 0)
	require.NoError(t, err)
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Action
	}
	return out
}

func TestDecryptFailureIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, err := f.security.EncryptData(ctx, []byte("note"), models.LevelStandard)
	require.NoError(t, err)
	env.Ciphertext[0] ^= 0x01

	_, err = f.security.DecryptData(ctx, env)
	require.ErrorIs(t, err, models.ErrIntegrity)

	assert.Contains(t, f.actions(t), models.AuditActionIntegrityFailure)
}

func TestVerifyTwoFactorAuditsOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.security.ProvisionTwoFactor(ctx, "clinician-1", "clinician-1@clinic.example")
	require.NoError(t, err)

	ok, err := f.security.VerifyTwoFactor(ctx, "clinician-1", "000000")
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrAuth)

	actions := f.actions(t)
	assert.Contains(t, actions, models.AuditActionTwoFactorProvision)
	assert.Contains(t, actions, models.AuditActionTwoFactorVerify)
}

func TestLockoutRaisesAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.security.ProvisionTwoFactor(ctx, "clinician-1", "clinician-1@clinic.example")
	require.NoError(t, err)

	// MaxAttempts is 2 in this fixture
	_, _ = f.security.VerifyTwoFactor(ctx, "clinician-1", "000000")
	_, err = f.security.VerifyTwoFactor(ctx, "clinician-1", "000000")
	require.ErrorIs(t, err, models.ErrAuthLocked)

	assert.Contains(t, f.actions(t), models.AuditActionTwoFactorLocked)
	require.Len(t, f.alerter.subjects, 1)
	assert.Contains(t, f.alerter.subjects[0], "locked")
}

func TestRedeemBackupCodeAuditsSuccessOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prov, err := f.security.ProvisionTwoFactor(ctx, "clinician-1", "clinician-1@clinic.example")
	require.NoError(t, err)

	ok, err := f.security.RedeemBackupCode(ctx, "clinician-1", "WRONGCOD")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, f.actions(t), models.AuditActionBackupCodeRedeemed)

	ok, err = f.security.RedeemBackupCode(ctx, "clinician-1", prov.BackupCodes[0])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, f.actions(t), models.AuditActionBackupCodeRedeemed)
}

func TestVerifyAuditChainAlertsOnBreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.security.LogAuditEvent(ctx, "clinician-1", "RECORD_VIEWED", "patient/1", models.AuditOutcomeSuccess, nil)
	require.NoError(t, err)
	_, err = f.security.LogAuditEvent(ctx, "clinician-1", "RECORD_VIEWED", "patient/2", models.AuditOutcomeSuccess, nil)
	require.NoError(t, err)

	ok, _, err := f.security.VerifyAuditChain(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.alerter.subjects)

	// Tamper with the first record on its way out of the store
	f.store.mutate = func(rec *models.AuditRecord) {
		if rec.Seq == 1 {
			rec.Resource = "patient/999"
		}
	}

	ok, offending, err := f.security.VerifyAuditChain(ctx, 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), offending)
	require.Len(t, f.alerter.subjects, 1)
}

func TestUploadThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.security.SecureFileUpload(ctx, ingest.UploadRequest{
		OwnerID:      "clinician-1",
		Name:         "note.txt",
		DeclaredType: "text/plain",
		Data:         []byte("plain clinical note"),
	})
	require.NoError(t, err)

	plaintext, meta, err := f.security.RetrieveFile(ctx, result.FileID)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain clinical note"), plaintext)
	assert.Equal(t, "note.txt", meta.Name)

	require.NoError(t, f.security.DeleteFile(ctx, "clinician-1", result.FileID))
	_, _, err = f.security.RetrieveFile(ctx, result.FileID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.security.CreateSession(ctx, "clinician-1", "fp")
	require.NoError(t, err)

	sess, err := f.security.ValidateSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "clinician-1", sess.UserID)

	require.NoError(t, f.security.DestroySession(ctx, id))
	_, err = f.security.ValidateSession(ctx, id)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}
