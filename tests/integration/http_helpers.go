package integration

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
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/carelock/carelock/internal/alert"
	"github.com/carelock/carelock/internal/audit"
	"github.com/carelock/carelock/internal/auth"
	"github.com/carelock/carelock/internal/crypto"
	"github.com/carelock/carelock/internal/handlers"
	"github.com/carelock/carelock/internal/ingest"
	"github.com/carelock/carelock/internal/ledger"
	middlewareCustom "github.com/carelock/carelock/internal/middleware"
	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/routes"
	"github.com/carelock/carelock/internal/service"
	"github.com/carelock/carelock/internal/session"
	"github.com/carelock/carelock/internal/storage"
	pkghttp "github.com/carelock/carelock/pkg/http"
)

// CleanScanner reports every payload as clean unless Dirty is set
type CleanScanner struct {
	mu    sync.Mutex
	Dirty bool
}

func (s *CleanScanner) Scan(ctx context.Context, data []byte) (*storage.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Dirty {
		return &storage.ScanResult{Clean: false, Reason: "test signature"}, nil
	}
	return &storage.ScanResult{Clean: true}, nil
}

// TestServer wraps httptest.Server with a fully wired security service
type TestServer struct {
	Server   *httptest.Server
	DB       *TestDB
	Scanner  *CleanScanner
	Sessions *session.Store
	Trail    *audit.Trail

	blobDir string
	logger  *slog.Logger
}

// NewTestServer initializes a complete HTTP server against a real database.
// The scanner is stubbed and the timestamp ledger runs locally.
func NewTestServer(ctx context.Context, testDB *TestDB) (*TestServer, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	auditStore, sessionRepo, credentialRepo, fileRepo := InitializeRepositories(testDB.DB)

	trail := audit.NewTrail(auditStore, logger)

	keys, err := storage.NewStaticKeyProvider(map[string][]byte{
		storage.KeyPurposeData:       bytes.Repeat([]byte{0x11}, 32),
		storage.KeyPurposeCredential: bytes.Repeat([]byte{0x22}, 32),
	})
	if err != nil {
		return nil, err
	}

	tsl := ledger.NewSignedLedger([]byte("integration-test-ledger-secret!!"))

	encryptor, err := crypto.NewEncryptor(keys, tsl, trail, logger, crypto.Config{
		AlgorithmID: models.AlgorithmAESGCM,
		KeyPurpose:  storage.KeyPurposeData,
	})
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewEncryptor(keys, tsl, trail, logger, crypto.Config{
		AlgorithmID: models.AlgorithmAESGCM,
		KeyPurpose:  storage.KeyPurposeCredential,
	})
	if err != nil {
		return nil, err
	}

	totpManager := auth.NewTOTPManager(credentialRepo, sealer, logger, auth.TOTPConfig{
		Issuer:      "carelock-test",
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Lockout:     15 * time.Minute,
	})

	sessions := session.NewStore(sessionRepo, trail, logger, 8*time.Hour)

	blobDir, err := os.MkdirTemp("", "carelock-blobs-*")
	if err != nil {
		return nil, err
	}
	blobs, err := storage.NewFSBlobStore(blobDir)
	if err != nil {
		return nil, err
	}

	scanner := &CleanScanner{}
	pipeline := ingest.NewPipeline(fileRepo, blobs, scanner, encryptor, trail, logger, ingest.Config{
		MaxBytes:     1 << 20,
		AllowedTypes: []string{"application/pdf", "image/png", "text/plain"},
	})

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 1, RandomDelayMs: 1})

	security := service.New(encryptor, totpManager, trail, sessions, pipeline, timingDelay, alert.Noop{}, logger)

	ipConfig := &pkghttp.IPConfig{}

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Recoverer)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))

	routes.RegisterRoutes(router,
		handlers.NewCryptoHandler(security, logger),
		handlers.NewTwoFactorHandler(security, logger),
		handlers.NewSessionHandler(security, ipConfig, logger),
		handlers.NewFileHandler(security, 1<<20, logger),
		handlers.NewAuditHandler(security, logger),
		sessions,
		ipConfig,
		logger,
	)

	return &TestServer{
		Server:   httptest.NewServer(router),
		DB:       testDB,
		Scanner:  scanner,
		Sessions: sessions,
		Trail:    trail,
		blobDir:  blobDir,
		logger:   logger,
	}, nil
}

// Close shuts the server down and removes the temporary blob directory
func (ts *TestServer) Close() {
	ts.Server.Close()
	os.RemoveAll(ts.blobDir)
}

// DoJSON sends a JSON request with the optional session header and decodes
// the JSON response into out (when out is non-nil).
func (ts *TestServer) DoJSON(method, path, sessionID string, body, out any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reqBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(middlewareCustom.SessionHeader, sessionID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// UploadFile sends a multipart upload with the given declared content type
func (ts *TestServer) UploadFile(sessionID, filename, contentType string, data []byte, out any) (int, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, ts.Server.URL+"/files", &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(middlewareCustom.SessionHeader, sessionID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
