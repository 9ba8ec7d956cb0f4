package handlers

import "net/http"

// Register adds the /v1 JSON routes to mux.
func (h *APIHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/documents", h.ListDocuments)
	mux.HandleFunc("GET /v1/documents/{namespace}/{path...}", h.GetDocument)
	mux.HandleFunc("PATCH /v1/documents/{namespace}/{path...}", h.PatchDocument)
	mux.HandleFunc("PUT /v1/documents/{namespace}/{path...}", h.ReplaceDocument)

	mux.HandleFunc("POST /v1/context", h.AssembleContext)

	mux.HandleFunc("POST /v1/events", h.WriteEvent)
	mux.HandleFunc("POST /v1/events/search", h.SearchEvents)

	mux.HandleFunc("GET /v1/audit", h.ListAudit)

	mux.HandleFunc("POST /v1/snapshots", h.WriteSnapshot)
	mux.HandleFunc("GET /v1/snapshots", h.ListSnapshots)
	mux.HandleFunc("GET /v1/snapshots/{conversation_id}/{snapshot_id}", h.GetSnapshot)

	mux.HandleFunc("POST /v1/admin/retention", h.ApplyRetention)
	mux.HandleFunc("POST /v1/admin/compact", h.Compact)
	mux.HandleFunc("DELETE /v1/admin/users", h.ForgetUser)
}
