package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process-wide JSON logger. LOG_LEVEL controls verbosity
// (debug, info, warn, error); anything unrecognized falls back to info.
func New(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// SanitizedActor masks an actor identifier for logging. Actor IDs map to
// clinicians and patients, so only a short prefix is kept (e.g. "3fa8****").
func SanitizedActor(actorID string) string {
	if actorID == "" {
		return "[unknown-actor]"
	}
	if len(actorID) <= 4 {
		return strings.Repeat("*", len(actorID))
	}
	return actorID[:4] + strings.Repeat("*", 4)
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"token":       true,
		"secret":      true,
		"code":        true,
		"session":     true,
		"session_id":  true,
		"backup_code": true,
		"patient":     true,
		"patient_id":  true,
		"auth":        true,
	}

	query := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(query, param+"=") {
			return true
		}
	}
	return false
}
