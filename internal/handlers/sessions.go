package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/carelock/carelock/internal/middleware"
	"github.com/carelock/carelock/internal/service"
	pkghttp "github.com/carelock/carelock/pkg/http"
)

// SessionHandler handles session lifecycle HTTP requests
type SessionHandler struct {
	security *service.Security
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(security *service.Security, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		security: security,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Create handles POST /sessions. Callers are upstream services that have
// already authenticated the user; the session is bound to the presenting
// client's fingerprint.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	fingerprint := pkghttp.ClientFingerprint(r, h.ipConfig)
	sessionID, err := h.security.CreateSession(r.Context(), req.UserID, fingerprint)
	if err != nil {
		h.logger.Error("session creation failed", slog.Any("error", err))
		pkghttp.WriteDomainError(w, err)
		return
	}

	sess, err := h.security.ValidateSession(r.Context(), sessionID)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, SessionResponse{
		SessionID: sessionID,
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt,
	})
}

// Current handles GET /sessions/current for an authenticated request
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt,
	})
}

// Destroy handles DELETE /sessions/current. Destroying an already absent
// session still returns 204.
func (h *SessionHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(middleware.SessionHeader)
	if sessionID == "" {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	if err := h.security.DestroySession(r.Context(), sessionID); err != nil {
		h.logger.Error("session destroy failed", slog.Any("error", err))
		pkghttp.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
