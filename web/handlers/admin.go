package handlers

import (
	"net/http"

	"github.com/scrypster/docmem/pkg/types"
)

// ApplyRetention handles POST /v1/admin/retention.
func (h *APIHandlers) ApplyRetention(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	var req RetentionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.coord.ApplyRetention(r.Context(), tenantID, userID, req.PolicyID, req.AsOf)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Compact handles POST /v1/admin/compact.
func (h *APIHandlers) Compact(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	var req CompactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key := types.DocumentKey{TenantID: tenantID, UserID: userID, Namespace: req.Namespace, Path: req.Path}
	res, err := h.coord.Compact(r.Context(), key, req.PolicyID, req.BindingID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ForgetUser handles DELETE /v1/admin/users. It erases everything stored
// for the scope named by the identity headers.
func (h *APIHandlers) ForgetUser(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	res, err := h.coord.ForgetUser(r.Context(), tenantID, userID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
