package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/session"
	pkghttp "github.com/carelock/carelock/pkg/http"
	pkglogger "github.com/carelock/carelock/pkg/logger"
)

type contextKey string

const sessionContextKey contextKey = "carelock_session"

// SessionHeader carries the opaque session identifier on authenticated requests.
const SessionHeader = "X-Session-Id"

// RequireSession validates the session identifier on every request and
// rejects missing, unknown, or expired sessions before the handler runs.
func RequireSession(store *session.Store, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get(SessionHeader)
			if sessionID == "" {
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}

			sess, err := store.Validate(r.Context(), sessionID)
			if err != nil {
				pkghttp.WriteDomainError(w, err)
				return
			}

			// A session presented from a different client than the one that
			// opened it is treated as stolen.
			if fp := pkghttp.ClientFingerprint(r, ipConfig); sess.ClientFingerprint != "" && sess.ClientFingerprint != fp {
				logger.Warn("session fingerprint mismatch",
					slog.String("user_id", pkglogger.SanitizedActor(sess.UserID)))
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the validated session placed by RequireSession,
// or nil when the request was not authenticated.
func SessionFromContext(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(sessionContextKey).(*models.Session)
	return sess
}
