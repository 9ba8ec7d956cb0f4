package handlers

import (
	"net/http"

	"github.com/scrypster/docmem/internal/sweep"
)

// SweepHealth reports the state of the background sweeper.
type SweepHealth interface {
	HealthCheck() *sweep.HealthStatus
}

// HealthHandler serves GET /healthz. It needs no identity and no token.
type HealthHandler struct {
	version string
	storage string
	sweeper SweepHealth
}

// NewHealthHandler creates a health handler. sweeper may be nil when no
// background sweep is configured.
func NewHealthHandler(version, storageEngine string, sweeper SweepHealth) *HealthHandler {
	return &HealthHandler{version: version, storage: storageEngine, sweeper: sweeper}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Version: h.version, Storage: h.storage}
	if h.sweeper != nil {
		status := h.sweeper.HealthCheck()
		resp.Sweeper = status
		if status.Status != "healthy" {
			resp.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
