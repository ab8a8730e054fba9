package models

import (
	"encoding/json"
	"fmt"
)

// Protection levels for envelope encryption
const (
	LevelStandard = "standard"
	LevelEnhanced = "enhanced"
)

// AEAD algorithm identifiers. The identifier is part of the persisted
// envelope so historical records stay decodable after algorithm changes.
const (
	AlgorithmAESGCM   = 1
	AlgorithmChaCha20 = 2
)

// Envelope is the serialized result of authenticated encryption.
// The Poly1305/GCM tag rides on the tail of Ciphertext, as produced by
// the AEAD primitive. Immutable once produced.
type Envelope struct {
	AlgorithmID    int    `json:"algorithm_id"`
	Level          string `json:"level"`
	Nonce          []byte `json:"nonce"`
	Ciphertext     []byte `json:"ciphertext"`
	TimestampToken string `json:"timestamp_token,omitempty"`
}

// Validate checks structural invariants before a decrypt is attempted.
// Enhanced envelopes must carry a timestamp token; standard ones must not.
func (e *Envelope) Validate() error {
	switch e.AlgorithmID {
	case AlgorithmAESGCM, AlgorithmChaCha20:
	default:
		return fmt.Errorf("%w: unknown algorithm id %d", ErrValidation, e.AlgorithmID)
	}

	switch e.Level {
	case LevelStandard:
		if e.TimestampToken != "" {
			return fmt.Errorf("%w: standard envelope carries timestamp token", ErrValidation)
		}
	case LevelEnhanced:
		if e.TimestampToken == "" {
			return fmt.Errorf("%w: enhanced envelope missing timestamp token", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown protection level %q", ErrValidation, e.Level)
	}

	if len(e.Nonce) == 0 || len(e.Ciphertext) == 0 {
		return fmt.Errorf("%w: empty nonce or ciphertext", ErrValidation)
	}

	return nil
}

// Marshal produces the stable persisted form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes a persisted envelope and checks its invariants.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrValidation, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
