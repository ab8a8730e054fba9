package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carelock/carelock/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteDomainError maps a service error to the appropriate HTTP error response.
// Messages are intentionally generic: sentinel details stay in the server logs.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrAuthLocked):
		WriteError(w, http.StatusLocked, "locked", "Too many failed attempts")
	case errors.Is(err, models.ErrAuth),
		errors.Is(err, models.ErrSessionExpired),
		errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrUnauthorized):
		WriteUnauthorized(w, "Unauthorized")
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Conflict")
	case errors.Is(err, models.ErrIntegrity), errors.Is(err, models.ErrTimestamp):
		WriteError(w, http.StatusUnprocessableEntity, "integrity_failure", "Payload failed verification")
	case errors.Is(err, models.ErrScanUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "scan_unavailable", "Content scanning is unavailable")
	default:
		WriteInternalError(w, "Internal server error")
	}
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WritePayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
