package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/carelock/carelock/internal/handlers"
	"github.com/carelock/carelock/internal/middleware"
	"github.com/carelock/carelock/internal/session"
	pkghttp "github.com/carelock/carelock/pkg/http"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	cryptoHandler *handlers.CryptoHandler,
	twoFactorHandler *handlers.TwoFactorHandler,
	sessionHandler *handlers.SessionHandler,
	fileHandler *handlers.FileHandler,
	auditHandler *handlers.AuditHandler,
	sessions *session.Store,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) {
	authRate := middleware.DefaultAuthRateLimit()
	uploadRate := middleware.DefaultUploadRateLimit()

	router.Get("/health", handlers.Health)

	// Session creation is the only unauthenticated operation; upstream
	// services call it after primary authentication succeeds.
	router.With(middleware.RateLimitByIP(authRate)).Post("/sessions", sessionHandler.Create)

	// Everything else requires a live session
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(sessions, ipConfig, logger))

		r.Get("/sessions/current", sessionHandler.Current)
		r.Delete("/sessions/current", sessionHandler.Destroy)

		r.Post("/crypto/encrypt", cryptoHandler.Encrypt)
		r.Post("/crypto/decrypt", cryptoHandler.Decrypt)

		r.With(middleware.RateLimitByIP(authRate)).Post("/2fa/provision", twoFactorHandler.Provision)
		r.With(middleware.RateLimitByIP(authRate)).Post("/2fa/verify", twoFactorHandler.Verify)
		r.With(middleware.RateLimitByIP(authRate)).Post("/2fa/backup-codes/redeem", twoFactorHandler.RedeemBackupCode)

		r.With(middleware.RateLimitByIP(uploadRate)).Post("/files", fileHandler.Upload)
		r.Get("/files/{id}", fileHandler.Download)
		r.Delete("/files/{id}", fileHandler.Delete)

		r.Post("/audit/events", auditHandler.AppendEvent)
		r.Get("/audit/verify", auditHandler.VerifyChain)
	})
}
