// Package audit maintains a hash-chained, append-only trail of
// security-relevant actions. Each record's hash covers its predecessor's,
// so deleting, reordering, or editing any record breaks verification from
// that point onward.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carelock/carelock/internal/models"
	"github.com/google/uuid"
)

// genesisHash is the prior hash of the first record.
var genesisHash = make([]byte, sha256.Size)

// Trail appends to and verifies the audit chain. Appends are linearized
// behind a single writer lock so the chain has one total order; readers
// verify against a store snapshot and may run concurrently.
type Trail struct {
	store  Store
	logger *slog.Logger

	mu   sync.Mutex
	tail *models.AuditRecord // cached chain tail, nil until first use
}

// NewTrail creates a Trail over the given store.
func NewTrail(store Store, logger *slog.Logger) *Trail {
	return &Trail{store: store, logger: logger}
}

// hashInput is the canonical serialization covered by SelfHash.
// encoding/json sorts map keys, so Detail serializes deterministically.
type hashInput struct {
	ID        uuid.UUID          `json:"id"`
	Seq       int64              `json:"seq"`
	ActorID   string             `json:"actor_id"`
	Action    string             `json:"action"`
	Resource  string             `json:"resource"`
	Outcome   string             `json:"outcome"`
	Detail    models.AuditDetail `json:"detail,omitempty"`
	CreatedAt int64              `json:"created_at_ns"`
}

func computeSelfHash(rec *models.AuditRecord) ([]byte, error) {
	canonical, err := json.Marshal(hashInput{
		ID:        rec.ID,
		Seq:       rec.Seq,
		ActorID:   rec.ActorID,
		Action:    rec.Action,
		Resource:  rec.Resource,
		Outcome:   rec.Outcome,
		Detail:    rec.Detail,
		CreatedAt: rec.CreatedAt.Truncate(time.Microsecond).UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize audit record: %w", err)
	}

	h := sha256.New()
	h.Write(rec.PriorHash)
	h.Write(canonical)
	return h.Sum(nil), nil
}

// Append commits a new record chained to the current tail and returns it.
// A store failure surfaces as ErrAuditWrite; nothing is cached or partially
// visible in that case.
func (t *Trail) Append(ctx context.Context, actorID, action, resource, outcome string, detail models.AuditDetail) (*models.AuditRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tail == nil {
		tail, err := t.store.Tail(ctx)
		switch {
		case err == nil:
			t.tail = tail
		case errors.Is(err, models.ErrNotFound):
			// empty chain, genesis follows
		default:
			return nil, fmt.Errorf("%w: %v", models.ErrAuditWrite, err)
		}
	}

	rec := &models.AuditRecord{
		ID:        uuid.New(),
		Seq:       1,
		ActorID:   actorID,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Detail:    detail,
		// timestamptz keeps microseconds; finer precision would not
		// survive a round trip through the store
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		PriorHash: genesisHash,
	}
	if t.tail != nil {
		rec.Seq = t.tail.Seq + 1
		rec.PriorHash = t.tail.SelfHash
	}

	selfHash, err := computeSelfHash(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuditWrite, err)
	}
	rec.SelfHash = selfHash

	if err := t.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuditWrite, err)
	}
	t.tail = rec

	// Dual-write: immediate slog output alongside the store
	if outcome == models.AuditOutcomeSuccess {
		t.logger.InfoContext(ctx, "audit event",
			slog.Int64("seq", rec.Seq),
			slog.String("actor_id", actorID),
			slog.String("action", action),
			slog.String("resource", resource),
		)
	} else {
		t.logger.WarnContext(ctx, "audit event failed",
			slog.Int64("seq", rec.Seq),
			slog.String("actor_id", actorID),
			slog.String("action", action),
			slog.String("resource", resource),
		)
	}

	committed := *rec
	return &committed, nil
}

// VerifyChain recomputes hashes over [fromSeq, toSeq] and confirms linkage.
// toSeq <= 0 means "to the tail"; fromSeq <= 0 means "from genesis".
// On a break it returns ok=false and the first offending sequence number.
func (t *Trail) VerifyChain(ctx context.Context, fromSeq, toSeq int64) (bool, int64, error) {
	if fromSeq <= 0 {
		fromSeq = 1
	}

	// Fetch one record before the range so the first prior-hash pointer
	// can be checked against a real predecessor.
	fetchFrom := fromSeq
	if fetchFrom > 1 {
		fetchFrom--
	}

	records, err := t.store.Range(ctx, fetchFrom, toSeq)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read audit range: %w", err)
	}
	if len(records) == 0 {
		return true, 0, nil
	}

	var prior *models.AuditRecord
	for _, rec := range records {
		if prior == nil {
			if rec.Seq != fetchFrom {
				return false, rec.Seq, nil
			}
			if rec.Seq == 1 && !bytes.Equal(rec.PriorHash, genesisHash) {
				return false, rec.Seq, nil
			}
		} else {
			if rec.Seq != prior.Seq+1 {
				return false, rec.Seq, nil
			}
			if !bytes.Equal(rec.PriorHash, prior.SelfHash) {
				return false, rec.Seq, nil
			}
		}

		if rec.Seq >= fromSeq {
			want, err := computeSelfHash(rec)
			if err != nil {
				return false, rec.Seq, err
			}
			if !bytes.Equal(want, rec.SelfHash) {
				return false, rec.Seq, nil
			}
		}

		prior = rec
	}

	return true, 0, nil
}
