package handlers

import (
	"net/http"

	pkghttp "github.com/carelock/carelock/pkg/http"
)

// HealthResponse reports process liveness
type HealthResponse struct {
	Status string `json:"status"`
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
