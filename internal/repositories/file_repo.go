package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelock/carelock/internal/database"
	"github.com/carelock/carelock/internal/models"
)

// FileRepository is the Postgres-backed ingest.FileRepository.
type FileRepository struct {
	pool *pgxpool.Pool
}

func NewFileRepository(db *database.DB) *FileRepository {
	return &FileRepository{pool: db.Pool}
}

func (r *FileRepository) Create(ctx context.Context, f *models.UploadedFile) error {
	query := `
		INSERT INTO uploaded_files (id, owner_id, name, size_bytes, declared_type, storage_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		f.ID, f.OwnerID, f.Name, f.SizeBytes, f.DeclaredType, f.StorageRef, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *FileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error) {
	query := `
		SELECT id, owner_id, name, size_bytes, declared_type, storage_ref, created_at
		FROM uploaded_files
		WHERE id = $1
	`

	var f models.UploadedFile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.OwnerID, &f.Name, &f.SizeBytes, &f.DeclaredType, &f.StorageRef, &f.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &f, nil
}

func (r *FileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM uploaded_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return nil
}

func (r *FileRepository) EnqueueOrphan(ctx context.Context, storageRef string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orphan_blobs (storage_ref) VALUES ($1)
		ON CONFLICT (storage_ref) DO NOTHING
	`, storageRef)
	if err != nil {
		return fmt.Errorf("failed to queue orphan blob: %w", err)
	}
	return nil
}

func (r *FileRepository) ListOrphans(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT storage_ref FROM orphan_blobs ORDER BY queued_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan blobs: %w", err)
	}
	defer rows.Close()

	refs := make([]string, 0)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan orphan blob: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *FileRepository) DequeueOrphan(ctx context.Context, storageRef string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM orphan_blobs WHERE storage_ref = $1`, storageRef)
	if err != nil {
		return fmt.Errorf("failed to dequeue orphan blob: %w", err)
	}
	return nil
}
