package models

import "time"

// Session is server-side state for an authenticated session. ExpiresAt is
// fixed at creation (CreatedAt + TTL); validation compares against the
// wall clock and never renews implicitly.
type Session struct {
	ID                string    `db:"id"`
	UserID            string    `db:"user_id"`
	ClientFingerprint string    `db:"client_fingerprint"`
	CreatedAt         time.Time `db:"created_at"`
	ExpiresAt         time.Time `db:"expires_at"`
}

// ExpiredAt reports whether the session has expired as of now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
