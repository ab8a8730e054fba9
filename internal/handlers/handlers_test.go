package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/carelock/carelock/internal/alert"
	"github.com/carelock/carelock/internal/audit"
	"github.com/carelock/carelock/internal/auth"
	"github.com/carelock/carelock/internal/crypto"
	"github.com/carelock/carelock/internal/ingest"
	"github.com/carelock/carelock/internal/ledger"
	"github.com/carelock/carelock/internal/middleware"
	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/service"
	"github.com/carelock/carelock/internal/session"
	"github.com/carelock/carelock/internal/storage"
	pkghttp "github.com/carelock/carelock/pkg/http"
)

type cleanScanner struct{}

func (cleanScanner) Scan(ctx context.Context, data []byte) (*storage.ScanResult, error) {
	return &storage.ScanResult{Clean: true}, nil
}

func newTestRouter(t *testing.T) (chi.Router, *session.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trail := audit.NewTrail(audit.NewMemoryStore(), logger)

	keys, err := storage.NewStaticKeyProvider(map[string][]byte{
		storage.KeyPurposeData:       bytes.Repeat([]byte{0x51}, 32),
		storage.KeyPurposeCredential: bytes.Repeat([]byte{0x52}, 32),
	})
	require.NoError(t, err)

	tsl := ledger.NewSignedLedger([]byte("handler-test-ledger-secret-32b!!"))

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
		BackupCodeCost: bcrypt.MinCost,
	})

	sessions := session.NewStore(session.NewMemoryRepository(), trail, logger, time.Hour)

	blobs, err := storage.NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	pipeline := ingest.NewPipeline(ingest.NewMemoryFileRepository(), blobs, cleanScanner{}, encryptor, trail, logger, ingest.Config{
		MaxBytes:     1 << 20,
		AllowedTypes: []string{"text/plain"},
	})

	timing := auth.NewTimingDelay(auth.TimingConfig{})
	security := service.New(encryptor, totpManager, trail, sessions, pipeline, timing, alert.Noop{}, logger)

	ipConfig := &pkghttp.IPConfig{}

	router := chi.NewRouter()
	router.Post("/sessions", NewSessionHandler(security, ipConfig, logger).Create)
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(sessions, ipConfig, logger))
		r.Post("/crypto/encrypt", NewCryptoHandler(security, logger).Encrypt)
		r.Post("/crypto/decrypt", NewCryptoHandler(security, logger).Decrypt)
		r.Post("/2fa/provision", NewTwoFactorHandler(security, logger).Provision)
		r.Post("/files", NewFileHandler(security, 1<<20, logger).Upload)
		r.Get("/files/{id}", NewFileHandler(security, 1<<20, logger).Download)
		r.Delete("/files/{id}", NewFileHandler(security, 1<<20, logger).Delete)
		r.Post("/audit/events", NewAuditHandler(security, logger).AppendEvent)
		r.Get("/audit/verify", NewAuditHandler(security, logger).VerifyChain)
	})

	return router, sessions
}

func doRequest(t *testing.T, router chi.Router, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(middleware.SessionHeader, sessionID)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func openSession(t *testing.T, sessions *session.Store, userID string) string {
	t.Helper()
	// Match the fingerprint httptest requests will present
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	fp := pkghttp.ClientFingerprint(req, nil)
	id, err := sessions.Create(context.Background(), userID, fp)
	require.NoError(t, err)
	return id
}

func uploadTextFile(t *testing.T, router chi.Router, sessionID, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", "text/plain")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(middleware.SessionHeader, sessionID)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequireSessionRejectsMissingHeader(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/crypto/encrypt", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSessionRejectsUnknownSession(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/crypto/encrypt", "bogus-session", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestCreateSessionValidatesUserID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/sessions", "", map[string]string{"user_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEncryptDecryptEndpoints(t *testing.T) {
	router, sessions := newTestRouter(t)
	sessionID := openSession(t, sessions, "clinician-1")

	rec := doRequest(t, router, http.MethodPost, "/crypto/encrypt", sessionID, map[string]any{
		"plaintext": []byte("visit summary"),
		"level":     "standard",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var encResp EncryptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &encResp))
	require.NotNil(t, encResp.Envelope)

	rec = doRequest(t, router, http.MethodPost, "/crypto/decrypt", sessionID, DecryptRequest{Envelope: encResp.Envelope})
	require.Equal(t, http.StatusOK, rec.Code)

	var decResp DecryptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decResp))
	assert.Equal(t, []byte("visit summary"), decResp.Plaintext)
}

func TestEncryptRejectsBadLevel(t *testing.T) {
	router, sessions := newTestRouter(t)
	sessionID := openSession(t, sessions, "clinician-1")

	rec := doRequest(t, router, http.MethodPost, "/crypto/encrypt", sessionID, map[string]any{
		"plaintext": []byte("x"),
		"level":     "maximum",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecryptTamperedEnvelopeReturns422(t *testing.T) {
	router, sessions := newTestRouter(t)
	sessionID := openSession(t, sessions, "clinician-1")

	rec := doRequest(t, router, http.MethodPost, "/crypto/encrypt", sessionID, map[string]any{
		"plaintext": []byte("visit summary"),
		"level":     "standard",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var encResp EncryptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &encResp))
	encResp.Envelope.Ciphertext[0] ^= 0x01

	rec = doRequest(t, router, http.MethodPost, "/crypto/decrypt", sessionID, DecryptRequest{Envelope: encResp.Envelope})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProvisionEndpoint(t *testing.T) {
	router, sessions := newTestRouter(t)
	sessionID := openSession(t, sessions, "clinician-1")

	rec := doRequest(t, router, http.MethodPost, "/2fa/provision", sessionID, map[string]string{
		"account_name": "clinician-1@clinic.example",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProvisionTwoFactorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Secret)
	assert.Len(t, resp.BackupCodes, 10)
	assert.Contains(t, resp.QRCode, "data:image/png;base64,")
}

func TestAuditEndpoints(t *testing.T) {
	router, sessions := newTestRouter(t)
	sessionID := openSession(t, sessions, "clinician-1")

	rec := doRequest(t, router, http.MethodPost, "/audit/events", sessionID, map[string]any{
		"action":   "RECORD_VIEWED",
		"resource": "patient/42",
		"outcome":  "SUCCESS",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created AuditRecordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "clinician-1", created.ActorID)
	assert.NotEmpty(t, created.SelfHash)

	rec = doRequest(t, router, http.MethodGet, "/audit/verify", sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var verify VerifyChainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.True(t, verify.Intact)
}

func TestFileAccessScopedToOwner(t *testing.T) {
	router, sessions := newTestRouter(t)
	owner := openSession(t, sessions, "clinician-1")
	other := openSession(t, sessions, "clinician-2")

	rec := uploadTextFile(t, router, owner, "notes.txt", []byte("visit notes"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created FileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	fileURL := "/files/" + created.FileID.String()

	// Another owner's session cannot see the file
	rec = doRequest(t, router, http.MethodGet, fileURL, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, router, http.MethodDelete, fileURL, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The owner still can
	rec = doRequest(t, router, http.MethodGet, fileURL, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "visit notes", rec.Body.String())
}

func TestAuditEventRejectsBadOutcome(t *testing.T) {
	router, sessions := newTestRouter(t)
	sessionID := openSession(t, sessions, "clinician-1")

	rec := doRequest(t, router, http.MethodPost, "/audit/events", sessionID, map[string]any{
		"action":   "RECORD_VIEWED",
		"resource": "patient/42",
		"outcome":  "MAYBE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
