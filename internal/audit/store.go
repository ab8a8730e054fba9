package audit

import (
	"context"
	"sync"

	"github.com/carelock/carelock/internal/models"
)

// Store persists committed audit records. Append must be all-or-nothing:
// after an error no partial record may be visible to readers.
type Store interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	Tail(ctx context.Context) (*models.AuditRecord, error)
	// Range returns records with fromSeq <= Seq <= toSeq in sequence order,
	// read from a consistent snapshot. toSeq <= 0 means "to the tail".
	Range(ctx context.Context, fromSeq, toSeq int64) ([]*models.AuditRecord, error)
}

// MemoryStore is an in-process Store. Reads copy the slice header under
// the lock so verification sees a stable snapshot while appends continue.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*models.AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec *models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *rec
	s.records = append(s.records, &copied)
	return nil
}

func (s *MemoryStore) Tail(ctx context.Context) (*models.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, models.ErrNotFound
	}
	tail := *s.records[len(s.records)-1]
	return &tail, nil
}

func (s *MemoryStore) Range(ctx context.Context, fromSeq, toSeq int64) ([]*models.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snapshot := s.records
	s.mu.RUnlock()

	out := make([]*models.AuditRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.Seq < fromSeq {
			continue
		}
		if toSeq > 0 && rec.Seq > toSeq {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	return out, nil
}
