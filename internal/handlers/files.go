package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carelock/carelock/internal/ingest"
	"github.com/carelock/carelock/internal/middleware"
	"github.com/carelock/carelock/internal/service"
	pkghttp "github.com/carelock/carelock/pkg/http"
	pkglogger "github.com/carelock/carelock/pkg/logger"
)

// FileHandler handles secure file ingestion HTTP requests
type FileHandler struct {
	security *service.Security
	maxBytes int64
	logger   *slog.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(security *service.Security, maxBytes int64, logger *slog.Logger) *FileHandler {
	return &FileHandler{
		security: security,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Upload handles POST /files as multipart/form-data with a single "file"
// part. The declared content type is taken from the part header and is
// re-verified against the actual bytes inside the pipeline.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	// One extra byte so an exactly-at-limit body still parses while an
	// oversize body fails here instead of buffering unbounded.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+4096)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			pkghttp.WritePayloadTooLarge(w, "File exceeds the upload size limit")
			return
		}
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}

	result, err := h.security.SecureFileUpload(r.Context(), ingest.UploadRequest{
		OwnerID:      sess.UserID,
		Name:         header.Filename,
		DeclaredType: header.Header.Get("Content-Type"),
		Data:         data,
	})
	if err != nil {
		h.logger.Warn("file upload rejected",
			slog.String("owner_id", pkglogger.SanitizedActor(sess.UserID)),
			slog.Any("error", err))
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, FileResponse{
		FileID:     result.FileID,
		Name:       header.Filename,
		SizeBytes:  result.SizeBytes,
		StorageRef: result.StorageRef,
	})
}

// Download handles GET /files/{id} and streams the decrypted content.
// Files are scoped to their owner; another owner's id reads as not found.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid file id")
		return
	}

	plaintext, meta, err := h.security.RetrieveFile(r.Context(), fileID)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	if meta.OwnerID != sess.UserID {
		pkghttp.WriteNotFound(w, "Not found")
		return
	}

	w.Header().Set("Content-Type", meta.DeclaredType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+meta.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(plaintext)
}

// Delete handles DELETE /files/{id}
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	fileID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid file id")
		return
	}

	if err := h.security.DeleteFile(r.Context(), sess.UserID, fileID); err != nil {
		h.logger.Error("file delete failed", slog.Any("error", err))
		pkghttp.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
