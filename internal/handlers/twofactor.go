package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/carelock/carelock/internal/middleware"
	"github.com/carelock/carelock/internal/service"
	pkghttp "github.com/carelock/carelock/pkg/http"
	pkglogger "github.com/carelock/carelock/pkg/logger"
)

// TwoFactorHandler handles TOTP enrollment and verification HTTP requests
type TwoFactorHandler struct {
	security *service.Security
	logger   *slog.Logger
}

// NewTwoFactorHandler creates a new two-factor handler
func NewTwoFactorHandler(security *service.Security, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		security: security,
		logger:   logger,
	}
}

// Provision handles POST /2fa/provision. Re-provisioning replaces the
// existing credential and voids all previous backup codes.
func (h *TwoFactorHandler) Provision(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ProvisionTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	prov, err := h.security.ProvisionTwoFactor(r.Context(), sess.UserID, req.AccountName)
	if err != nil {
		h.logger.Error("two-factor provisioning failed",
			slog.String("user_id", pkglogger.SanitizedActor(sess.UserID)),
			slog.Any("error", err))
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ProvisionTwoFactorResponse{
		Secret:          prov.Secret,
		ProvisioningURI: prov.ProvisioningURI,
		QRCode:          prov.QRDataURL,
		BackupCodes:     prov.BackupCodes,
	})
}

// Verify handles POST /2fa/verify
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req VerifyTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ok, err := h.security.VerifyTwoFactor(r.Context(), sess.UserID, req.Code)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyTwoFactorResponse{Verified: ok})
}

// RedeemBackupCode handles POST /2fa/backup-codes/redeem
func (h *TwoFactorHandler) RedeemBackupCode(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req RedeemBackupCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ok, err := h.security.RedeemBackupCode(r.Context(), sess.UserID, req.Code)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyTwoFactorResponse{Verified: ok})
}
