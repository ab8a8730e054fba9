// Package ingest runs uploaded files through the gated pipeline
// Received -> Validated -> Scanned -> Encrypted -> Stored -> Audited.
// Any gate failure is terminal: the upload is rejected and nothing
// reaches storage unscanned or unencrypted.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/carelock/carelock/internal/audit"
	"github.com/carelock/carelock/internal/crypto"
	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/storage"
)

// FileRepository persists uploaded-file metadata and the orphan queue of
// storage refs whose cleanup must be retried.
type FileRepository interface {
	Create(ctx context.Context, f *models.UploadedFile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error)
	Delete(ctx context.Context, id uuid.UUID) error

	EnqueueOrphan(ctx context.Context, storageRef string) error
	ListOrphans(ctx context.Context, limit int) ([]string, error)
	DequeueOrphan(ctx context.Context, storageRef string) error
}

// Config tunes the pipeline gates.
type Config struct {
	MaxBytes     int64
	AllowedTypes []string // MIME allow-list for declared types
	ScanTimeout  time.Duration
	StoreTimeout time.Duration
	MaxRetries   int
}

// Pipeline ingests uploads. All collaborators are injected.
type Pipeline struct {
	files     FileRepository
	blobs     storage.BlobStore
	scanner   storage.Scanner
	encryptor *crypto.Encryptor
	trail     *audit.Trail
	logger    *slog.Logger
	cfg       Config
}

func NewPipeline(files FileRepository, blobs storage.BlobStore, scanner storage.Scanner,
	encryptor *crypto.Encryptor, trail *audit.Trail, logger *slog.Logger, cfg Config) *Pipeline {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Pipeline{
		files:     files,
		blobs:     blobs,
		scanner:   scanner,
		encryptor: encryptor,
		trail:     trail,
		logger:    logger,
		cfg:       cfg,
	}
}

// UploadRequest is one file entering the pipeline.
type UploadRequest struct {
	OwnerID      string
	Name         string
	DeclaredType string
	Data         []byte
}

// Upload runs the full pipeline. The context may cancel the upload at any
// gate before the blob is stored; afterwards the upload completes and
// Delete is the only removal path.
func (p *Pipeline) Upload(ctx context.Context, req UploadRequest) (*models.UploadResult, error) {
	// Received -> Validated
	if err := p.validate(req); err != nil {
		p.auditRejection(ctx, req, models.UploadReceived, err)
		return nil, err
	}

	// Validated -> Scanned
	if err := p.scan(ctx, req.Data); err != nil {
		p.auditRejection(ctx, req, models.UploadValidated, err)
		return nil, err
	}

	// Scanned -> Encrypted
	env, err := p.encryptor.Encrypt(ctx, req.Data, models.LevelEnhanced)
	if err != nil {
		p.auditRejection(ctx, req, models.UploadScanned, err)
		return nil, err
	}
	sealed, err := env.Marshal()
	if err != nil {
		p.auditRejection(ctx, req, models.UploadScanned, err)
		return nil, err
	}

	// Last cancellation point: after the blob is stored the upload runs to
	// completion regardless of the caller's context.
	if err := ctx.Err(); err != nil {
		p.auditRejection(ctx, req, models.UploadEncrypted, err)
		return nil, err
	}

	// Encrypted -> Stored
	ref, err := p.store(ctx, sealed)
	if err != nil {
		p.auditRejection(ctx, req, models.UploadEncrypted, err)
		return nil, err
	}

	file := &models.UploadedFile{
		ID:           uuid.New(),
		OwnerID:      req.OwnerID,
		Name:         req.Name,
		SizeBytes:    int64(len(req.Data)),
		DeclaredType: req.DeclaredType,
		StorageRef:   ref,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.files.Create(context.WithoutCancel(ctx), file); err != nil {
		p.cleanupBlob(ctx, ref)
		wrapped := fmt.Errorf("%w: failed to persist file record: %v", models.ErrStorage, err)
		p.auditRejection(ctx, req, models.UploadStored, wrapped)
		return nil, wrapped
	}

	// Stored -> Audited. A stored file whose audit record cannot be
	// committed is treated as a failed upload and cleaned up; its id is
	// never exposed as success.
	if _, err := p.trail.Append(context.WithoutCancel(ctx), req.OwnerID, models.AuditActionFileUploaded, "file:"+file.ID.String(),
		models.AuditOutcomeSuccess, models.AuditDetail{
			"owner_id":    req.OwnerID,
			"size_bytes":  file.SizeBytes,
			"storage_ref": ref,
		}); err != nil {
		_ = p.files.Delete(context.WithoutCancel(ctx), file.ID)
		p.cleanupBlob(ctx, ref)
		return nil, err
	}

	return &models.UploadResult{
		FileID:     file.ID,
		StorageRef: ref,
		SizeBytes:  file.SizeBytes,
	}, nil
}

// Retrieve fetches and decrypts a stored file.
func (p *Pipeline) Retrieve(ctx context.Context, fileID uuid.UUID) ([]byte, *models.UploadedFile, error) {
	file, err := p.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	sealed, err := p.blobs.Get(ctx, file.StorageRef)
	if err != nil {
		return nil, nil, err
	}

	env, err := models.UnmarshalEnvelope(sealed)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := p.encryptor.Decrypt(ctx, env)
	if err != nil {
		return nil, nil, err
	}

	return plaintext, file, nil
}

// Delete removes a stored file explicitly. This is the only removal path
// once an upload has passed the Stored transition.
func (p *Pipeline) Delete(ctx context.Context, actorID string, fileID uuid.UUID) error {
	file, err := p.files.GetByID(ctx, fileID)
	if err != nil {
		return err
	}

	// A caller that does not own the file cannot observe its existence
	if file.OwnerID != actorID {
		return models.ErrNotFound
	}

	if err := p.blobs.Delete(ctx, file.StorageRef); err != nil {
		return err
	}
	if err := p.files.Delete(ctx, fileID); err != nil {
		return err
	}

	if _, err := p.trail.Append(ctx, actorID, models.AuditActionFileDeleted, "file:"+fileID.String(),
		models.AuditOutcomeSuccess, nil); err != nil {
		p.logger.ErrorContext(ctx, "failed to audit file deletion", slog.Any("error", err))
	}

	return nil
}

// RetryOrphanCleanup deletes blobs whose earlier cleanup failed; called by
// the background cleaner.
func (p *Pipeline) RetryOrphanCleanup(ctx context.Context, limit int) error {
	refs, err := p.files.ListOrphans(ctx, limit)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if err := p.blobs.Delete(ctx, ref); err != nil {
			p.logger.WarnContext(ctx, "orphan blob cleanup failed",
				slog.String("storage_ref", ref), slog.Any("error", err))
			continue
		}
		if err := p.files.DequeueOrphan(ctx, ref); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) validate(req UploadRequest) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%w: empty file", models.ErrValidation)
	}
	if int64(len(req.Data)) > p.cfg.MaxBytes {
		return fmt.Errorf("%w: file size %d exceeds limit %d", models.ErrValidation, len(req.Data), p.cfg.MaxBytes)
	}

	allowed := false
	for _, t := range p.cfg.AllowedTypes {
		if strings.EqualFold(t, req.DeclaredType) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: type %q not allowed", models.ErrValidation, req.DeclaredType)
	}

	// Content sniffing must agree with the declared type; an executable
	// declared as a PDF fails here.
	detected := mimetype.Detect(req.Data)
	if !detected.Is(req.DeclaredType) {
		return fmt.Errorf("%w: declared type %q does not match detected type %q",
			models.ErrValidation, req.DeclaredType, detected.String())
	}

	return nil
}

// scan calls the malware scanner with per-attempt timeout and backoff
// retries. A dirty verdict or scanner exhaustion both fail closed.
func (p *Pipeline) scan(ctx context.Context, data []byte) error {
	var result *storage.ScanResult

	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.ScanTimeout)
		defer cancel()

		res, err := p.scanner.Scan(attemptCtx, data)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("%w: %v", models.ErrScanUnavailable, err)
	}

	if !result.Clean {
		return fmt.Errorf("%w: malware detected: %s", models.ErrValidation, result.Reason)
	}

	return nil
}

func (p *Pipeline) store(ctx context.Context, sealed []byte) (string, error) {
	var ref string

	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		defer cancel()

		r, err := p.blobs.Put(attemptCtx, sealed)
		if err != nil {
			return err
		}
		ref = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	return ref, nil
}

// cleanupBlob best-effort deletes a stored blob; on failure the ref is
// queued so the background cleaner retries.
func (p *Pipeline) cleanupBlob(ctx context.Context, ref string) {
	ctx = context.WithoutCancel(ctx)
	if err := p.blobs.Delete(ctx, ref); err != nil {
		p.logger.ErrorContext(ctx, "failed to clean up stored blob",
			slog.String("storage_ref", ref), slog.Any("error", err))
		if qerr := p.files.EnqueueOrphan(ctx, ref); qerr != nil {
			p.logger.ErrorContext(ctx, "failed to queue orphan blob", slog.Any("error", qerr))
		}
	}
}

// auditRejection records a FILE_UPLOAD_REJECTED event with the gate that
// failed. Best-effort: the rejection itself is already the caller's error.
func (p *Pipeline) auditRejection(ctx context.Context, req UploadRequest, state models.UploadState, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := p.trail.Append(ctx, req.OwnerID, models.AuditActionFileUploadRejected, "file",
		models.AuditOutcomeFailure, models.AuditDetail{
			"name":   req.Name,
			"state":  string(state),
			"reason": cause.Error(),
		}); err != nil {
		p.logger.ErrorContext(ctx, "failed to audit upload rejection", slog.Any("error", err))
	}
}
