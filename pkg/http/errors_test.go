package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelock/carelock/internal/models"
)

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", models.ErrValidation, http.StatusBadRequest, "bad_request"},
		{"wrapped validation", fmt.Errorf("parse: %w", models.ErrValidation), http.StatusBadRequest, "bad_request"},
		{"locked", models.ErrAuthLocked, http.StatusLocked, "locked"},
		{"auth", models.ErrAuth, http.StatusUnauthorized, "unauthorized"},
		{"session expired", models.ErrSessionExpired, http.StatusUnauthorized, "unauthorized"},
		{"session not found", models.ErrSessionNotFound, http.StatusUnauthorized, "unauthorized"},
		{"not found", models.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", models.ErrConflict, http.StatusConflict, "conflict"},
		{"integrity", models.ErrIntegrity, http.StatusUnprocessableEntity, "integrity_failure"},
		{"timestamp", models.ErrTimestamp, http.StatusUnprocessableEntity, "integrity_failure"},
		{"scan unavailable", models.ErrScanUnavailable, http.StatusServiceUnavailable, "scan_unavailable"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteDomainError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestWriteDomainErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteDomainError(rec, fmt.Errorf("decrypt key id 7: %w", models.ErrIntegrity))

	assert.NotContains(t, rec.Body.String(), "key id 7")
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"abc"}`, rec.Body.String())
}
