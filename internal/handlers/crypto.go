package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/service"
	pkghttp "github.com/carelock/carelock/pkg/http"
)

// CryptoHandler handles envelope encryption HTTP requests
type CryptoHandler struct {
	security *service.Security
	logger   *slog.Logger
}

// NewCryptoHandler creates a new crypto handler
func NewCryptoHandler(security *service.Security, logger *slog.Logger) *CryptoHandler {
	return &CryptoHandler{
		security: security,
		logger:   logger,
	}
}

// Encrypt handles POST /crypto/encrypt
func (h *CryptoHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	env, err := h.security.EncryptData(r.Context(), req.Plaintext, req.Level)
	if err != nil {
		h.logger.Error("encrypt failed", slog.Any("error", err))
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, EncryptResponse{Envelope: env})
}

// Decrypt handles POST /crypto/decrypt
func (h *CryptoHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	plaintext, err := h.security.DecryptData(r.Context(), req.Envelope)
	if err != nil {
		if errors.Is(err, models.ErrIntegrity) || errors.Is(err, models.ErrTimestamp) {
			h.logger.Warn("decrypt rejected", slog.Any("error", err))
		} else {
			h.logger.Error("decrypt failed", slog.Any("error", err))
		}
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, DecryptResponse{Plaintext: plaintext})
}
