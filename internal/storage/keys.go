package storage

import (
	"fmt"
)

// Key purposes resolved by the key provider
const (
	KeyPurposeData       = "data"
	KeyPurposeCredential = "credential"
)

// KeyProvider resolves an already-provisioned key for a named purpose.
// Rotation and key storage live behind this boundary.
type KeyProvider interface {
	ResolveKey(purpose string) ([]byte, error)
}

// StaticKeyProvider serves fixed keys loaded from configuration.
type StaticKeyProvider struct {
	keys map[string][]byte
}

// NewStaticKeyProvider creates a provider over purpose-named 32-byte keys.
func NewStaticKeyProvider(keys map[string][]byte) (*StaticKeyProvider, error) {
	for purpose, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key for purpose %q must be exactly 32 bytes, got %d", purpose, len(key))
		}
	}

	held := make(map[string][]byte, len(keys))
	for purpose, key := range keys {
		held[purpose] = append([]byte(nil), key...)
	}

	return &StaticKeyProvider{keys: held}, nil
}

// ResolveKey returns a copy; callers cannot reach the held key material.
func (p *StaticKeyProvider) ResolveKey(purpose string) ([]byte, error) {
	key, ok := p.keys[purpose]
	if !ok {
		return nil, fmt.Errorf("no key provisioned for purpose %q", purpose)
	}
	return append([]byte(nil), key...), nil
}
