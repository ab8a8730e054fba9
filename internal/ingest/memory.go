package ingest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/carelock/carelock/internal/models"
)

// MemoryFileRepository is an in-process FileRepository.
type MemoryFileRepository struct {
	mu      sync.RWMutex
	files   map[uuid.UUID]models.UploadedFile
	orphans map[string]struct{}
}

func NewMemoryFileRepository() *MemoryFileRepository {
	return &MemoryFileRepository{
		files:   make(map[uuid.UUID]models.UploadedFile),
		orphans: make(map[string]struct{}),
	}
}

func (r *MemoryFileRepository) Create(ctx context.Context, f *models.UploadedFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[f.ID]; exists {
		return models.ErrConflict
	}
	r.files[f.ID] = *f
	return nil
}

func (r *MemoryFileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := f
	return &copied, nil
}

func (r *MemoryFileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.files, id)
	return nil
}

func (r *MemoryFileRepository) EnqueueOrphan(ctx context.Context, storageRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.orphans[storageRef] = struct{}{}
	return nil
}

func (r *MemoryFileRepository) ListOrphans(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.orphans))
	for ref := range r.orphans {
		if limit > 0 && len(refs) >= limit {
			break
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (r *MemoryFileRepository) DequeueOrphan(ctx context.Context, storageRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.orphans, storageRef)
	return nil
}
