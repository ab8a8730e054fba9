// Package ledger provides the timestamp ledger client contract used by
// enhanced-level encryption. The ledger binds a content hash to a strictly
// ordered, append-only position and issues a token a verifier can later
// check against the same hash.
package ledger

import "context"

// Ledger is the append/verify contract. Both calls may be slow; callers
// must bound them with a context deadline.
type Ledger interface {
	// Append records a content hash and returns an opaque binding token.
	Append(ctx context.Context, contentHash []byte) (string, error)

	// Verify checks that the token binds the given content hash.
	// A false return means the ledger rejected the binding; an error means
	// the answer could not be obtained.
	Verify(ctx context.Context, token string, contentHash []byte) (bool, error)
}
