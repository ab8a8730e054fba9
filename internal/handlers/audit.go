package handlers

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/carelock/carelock/internal/middleware"
	"github.com/carelock/carelock/internal/models"
	"github.com/carelock/carelock/internal/service"
	pkghttp "github.com/carelock/carelock/pkg/http"
)

// AuditHandler handles audit trail HTTP requests
type AuditHandler struct {
	security *service.Security
	logger   *slog.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(security *service.Security, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		security: security,
		logger:   logger,
	}
}

// AppendEvent handles POST /audit/events. The actor is always the
// authenticated session user, never caller-supplied.
func (h *AuditHandler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req AppendAuditEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	detail := models.AuditDetail{}
	for k, v := range req.Detail {
		detail[k] = v
	}

	// Wire form is uppercase; the chain stores the models constants
	outcome := models.AuditOutcomeSuccess
	if req.Outcome == "FAILURE" {
		outcome = models.AuditOutcomeFailure
	}

	rec, err := h.security.LogAuditEvent(r.Context(), sess.UserID, req.Action, req.Resource, outcome, detail)
	if err != nil {
		h.logger.Error("audit append failed", slog.Any("error", err))
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, AuditRecordResponse{
		ID:        rec.ID,
		Seq:       rec.Seq,
		ActorID:   rec.ActorID,
		Action:    rec.Action,
		Resource:  rec.Resource,
		Outcome:   rec.Outcome,
		CreatedAt: rec.CreatedAt,
		SelfHash:  hex.EncodeToString(rec.SelfHash),
	})
}

// VerifyChain handles GET /audit/verify?from=N&to=M. Omitted bounds default
// to the full chain.
func (h *AuditHandler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	fromSeq, err := parseSeqParam(r, "from", 1)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid from parameter")
		return
	}
	toSeq, err := parseSeqParam(r, "to", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid to parameter")
		return
	}

	intact, offending, err := h.security.VerifyAuditChain(r.Context(), fromSeq, toSeq)
	if err != nil {
		h.logger.Error("chain verification failed", slog.Any("error", err))
		pkghttp.WriteDomainError(w, err)
		return
	}

	resp := VerifyChainResponse{
		Intact:      intact,
		CheckedFrom: fromSeq,
		CheckedTo:   toSeq,
	}
	if !intact {
		resp.OffendingSeq = offending
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func parseSeqParam(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
