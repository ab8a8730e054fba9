package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims binds a content hash to a ledger position.
type tokenClaims struct {
	ContentHash string `json:"hash"`
	Position    int64  `json:"pos"`
	jwt.RegisteredClaims
}

// SignedLedger is an in-process ledger issuing HS256-signed tokens.
// Positions are strictly monotonic; the signature makes the hash-position
// binding tamper-evident without a round trip on verification.
type SignedLedger struct {
	secret []byte

	mu   sync.Mutex
	next int64
}

// NewSignedLedger creates a ledger signing with the given shared secret.
func NewSignedLedger(secret []byte) *SignedLedger {
	return &SignedLedger{secret: secret, next: 1}
}

func (l *SignedLedger) Append(ctx context.Context, contentHash []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	pos := l.next
	l.next++
	l.mu.Unlock()

	claims := &tokenClaims{
		ContentHash: hex.EncodeToString(contentHash),
		Position:    pos,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "carelock-ledger",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(l.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign timestamp token: %w", err)
	}

	return signed, nil
}

func (l *SignedLedger) Verify(ctx context.Context, token string, contentHash []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return l.secret, nil
	})
	if err != nil || !parsed.Valid {
		return false, nil
	}

	if claims.Position <= 0 {
		return false, nil
	}

	return claims.ContentHash == hex.EncodeToString(contentHash), nil
}
