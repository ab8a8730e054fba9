package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Security taxonomy. Callers match these with errors.Is; wrapped
	// variants carry the operation context.
	ErrValidation      = errors.New("validation failed")
	ErrIntegrity       = errors.New("integrity check failed")
	ErrTimestamp       = errors.New("timestamp binding rejected")
	ErrAuth            = errors.New("authentication failed")
	ErrAuthLocked      = errors.New("authentication temporarily locked")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionNotFound = errors.New("session not found")
	ErrScanUnavailable = errors.New("malware scanner unavailable")
	ErrStorage         = errors.New("blob storage failure")
	ErrAuditWrite      = errors.New("audit write failure")
)
