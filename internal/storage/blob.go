package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/carelock/carelock/internal/models"
	"github.com/google/uuid"
)

// BlobStore is the collaborator contract for opaque blob persistence.
// Implementations receive already-encrypted payloads; plaintext never
// crosses this boundary.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// FSBlobStore stores blobs on the local filesystem under a two-level
// fan-out directory keyed by the reference prefix.
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates the root directory if needed.
func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FSBlobStore{root: root}, nil
}

func (s *FSBlobStore) path(ref string) (string, error) {
	// refs are uuid strings; reject anything that could traverse
	if strings.ContainsAny(ref, "/\\.") || len(ref) < 4 {
		return "", fmt.Errorf("%w: malformed storage ref", models.ErrStorage)
	}
	return filepath.Join(s.root, ref[0:2], ref[2:4], ref), nil
}

func (s *FSBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ref := strings.ReplaceAll(uuid.New().String(), "-", "")
	p, err := s.path(ref)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	// Write to a temp file and rename so a partial write is never visible
	tmp, err := os.CreateTemp(filepath.Dir(p), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	return ref, nil
}

func (s *FSBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return data, nil
}

func (s *FSBlobStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.path(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}
	return nil
}
