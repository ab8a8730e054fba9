package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/carelock/carelock/internal/alert"
	"github.com/carelock/carelock/internal/audit"
	"github.com/carelock/carelock/internal/auth"
	"github.com/carelock/carelock/internal/background"
	"github.com/carelock/carelock/internal/config"
	"github.com/carelock/carelock/internal/crypto"
	"github.com/carelock/carelock/internal/database"
	"github.com/carelock/carelock/internal/handlers"
	"github.com/carelock/carelock/internal/ingest"
	"github.com/carelock/carelock/internal/ledger"
	middlewareCustom "github.com/carelock/carelock/internal/middleware"
	"github.com/carelock/carelock/internal/repositories"
	"github.com/carelock/carelock/internal/routes"
	"github.com/carelock/carelock/internal/service"
	"github.com/carelock/carelock/internal/session"
	"github.com/carelock/carelock/internal/storage"
	pkghttp "github.com/carelock/carelock/pkg/http"
	pkglogger "github.com/carelock/carelock/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := pkglogger.New(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	auditStore := repositories.NewAuditStore(db)
	sessionRepo := repositories.NewSessionRepository(db)
	credentialRepo := repositories.NewTOTPCredentialRepository(db)
	fileRepo := repositories.NewFileRepository(db)

	// Audit trail is shared by every component that records events
	trail := audit.NewTrail(auditStore, logger)

	// Key provider for record and credential keys
	keys, err := storage.NewStaticKeyProvider(map[string][]byte{
		storage.KeyPurposeData:       cfg.Security.DataKey,
		storage.KeyPurposeCredential: cfg.Security.CredentialKey,
	})
	if err != nil {
		logger.Error("failed to initialize key provider", slog.Any("error", err))
		os.Exit(1)
	}

	// Timestamp ledger: remote when configured, signed local otherwise
	var tsl ledger.Ledger
	if cfg.Ledger.URL != "" {
		tsl = ledger.NewHTTPLedger(cfg.Ledger.URL, cfg.Ledger.Timeout, cfg.Ledger.MaxRetries, nil)
	} else {
		tsl = ledger.NewSignedLedger([]byte(cfg.Ledger.Secret))
	}

	// Record encryptor handles document and payload envelopes
	encryptor, err := crypto.NewEncryptor(keys, tsl, trail, logger, crypto.Config{
		AlgorithmID:       cfg.Security.AlgorithmID,
		KeyPurpose:        storage.KeyPurposeData,
		LedgerTimeout:     cfg.Ledger.Timeout,
		DegradeToStandard: cfg.Ledger.DegradeToStandard,
	})
	if err != nil {
		logger.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	// Credential sealer protects TOTP secrets at rest under a separate key
	sealer, err := crypto.NewEncryptor(keys, tsl, trail, logger, crypto.Config{
		AlgorithmID:   cfg.Security.AlgorithmID,
		KeyPurpose:    storage.KeyPurposeCredential,
		LedgerTimeout: cfg.Ledger.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize credential sealer", slog.Any("error", err))
		os.Exit(1)
	}

	totpManager := auth.NewTOTPManager(credentialRepo, sealer, logger, auth.TOTPConfig{
		Issuer:      cfg.Security.TOTPIssuer,
		MaxAttempts: cfg.Security.TOTPMaxAttempts,
		Window:      cfg.Security.TOTPWindow,
		Lockout:     cfg.Security.TOTPLockout,
	})

	sessions := session.NewStore(sessionRepo, trail, logger, cfg.Security.SessionTTL)

	blobs, err := storage.NewFSBlobStore(cfg.Upload.BlobDir)
	if err != nil {
		logger.Error("failed to initialize blob store", slog.Any("error", err))
		os.Exit(1)
	}
	scanner := storage.NewHTTPScanner(cfg.Upload.ScannerURL, nil)

	pipeline := ingest.NewPipeline(fileRepo, blobs, scanner, encryptor, trail, logger, ingest.Config{
		MaxBytes:     cfg.Upload.MaxBytes,
		AllowedTypes: cfg.Upload.AllowedTypes,
		ScanTimeout:  cfg.Upload.ScanTimeout,
		MaxRetries:   cfg.Upload.MaxRetries,
	})

	// Timing delay for verification failures
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})

	// SES alerting for lockouts and chain breaks
	var alerter alert.Alerter = alert.Noop{}
	if cfg.Alert.Enabled {
		alerter, err = alert.NewSESAlerter(cfg.Alert.AWSRegion, cfg.Alert.FromAddress, cfg.Alert.ToAddress, logger)
		if err != nil {
			logger.Error("failed to initialize alerter", slog.Any("error", err))
			os.Exit(1)
		}
	}

	security := service.New(encryptor, totpManager, trail, sessions, pipeline, timingDelay, alerter, logger)

	// Background cleanup of expired sessions and orphaned blobs
	cleanupManager := background.NewCleanupManager(sessions, pipeline, logger, cfg.Security.CleanupInterval)
	go cleanupManager.Start(context.Background())
	defer cleanupManager.Stop()

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Initialize handlers
	cryptoHandler := handlers.NewCryptoHandler(security, logger)
	twoFactorHandler := handlers.NewTwoFactorHandler(security, logger)
	sessionHandler := handlers.NewSessionHandler(security, ipConfig, logger)
	fileHandler := handlers.NewFileHandler(security, cfg.Upload.MaxBytes, logger)
	auditHandler := handlers.NewAuditHandler(security, logger)

	// Build router
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.Env, cfg.Server.AllowedOrigins)))

	routes.RegisterRoutes(router, cryptoHandler, twoFactorHandler, sessionHandler, fileHandler, auditHandler, sessions, ipConfig, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine so shutdown can be handled below
	go func() {
		logger.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}
