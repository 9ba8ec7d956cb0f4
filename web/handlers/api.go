// Package handlers provides the HTTP transport for docmem: JSON handlers
// over the memory coordinator, auth and rate-limit middleware, and the
// WebSocket hub that streams mutation events.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/docmem/internal/engine"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// Coordinator is the set of operations the transport exposes.
type Coordinator interface {
	GetDocument(ctx context.Context, key types.DocumentKey) (*types.DocumentRecord, error)
	PatchDocument(ctx context.Context, key types.DocumentKey, req engine.PatchRequest) (*types.DocumentRecord, error)
	ReplaceDocument(ctx context.Context, key types.DocumentKey, req engine.ReplaceRequest) (*types.DocumentRecord, error)
	ListDocuments(ctx context.Context, tenantID, userID string, opts storage.ListOptions) ([]types.DocumentListItem, error)
	AssembleContext(ctx context.Context, req engine.ContextRequest) (*engine.ContextResult, error)
	WriteEvent(ctx context.Context, tenantID, userID string, event types.EventDigest) (*types.EventDigest, error)
	SearchEvents(ctx context.Context, tenantID, userID string, q storage.EventQuery) ([]types.ScoredEvent, error)
	ListAudit(ctx context.Context, tenantID, userID string, limit int) ([]types.AuditRecord, error)
	WriteSnapshot(ctx context.Context, snap types.Snapshot) (*types.SnapshotInfo, error)
	GetSnapshot(ctx context.Context, tenantID, userID, conversationID, snapshotID string) (*types.Snapshot, error)
	ListSnapshots(ctx context.Context, tenantID, userID, conversationID string) ([]types.SnapshotInfo, error)
	ApplyRetention(ctx context.Context, tenantID, userID, policyID string, asOf time.Time) (*engine.RetentionResult, error)
	ForgetUser(ctx context.Context, tenantID, userID string) (*engine.ForgetResult, error)
	Compact(ctx context.Context, key types.DocumentKey, policyID, bindingID string) (*engine.CompactionResult, error)
}

// APIHandlers contains HTTP handlers for the REST API.
type APIHandlers struct {
	coord  Coordinator
	logger *slog.Logger
}

// NewAPIHandlers creates a new APIHandlers instance. A nil logger discards
// log output.
func NewAPIHandlers(coord Coordinator, logger *slog.Logger) *APIHandlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &APIHandlers{coord: coord, logger: logger}
}

// scope reads the identity headers.
func scope(r *http.Request) (tenantID, userID string, err error) {
	tenantID, userID = r.Header.Get(HeaderTenantID), r.Header.Get(HeaderUserID)
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return "", "", err
	}
	return tenantID, userID, nil
}

// documentKey builds the key from the identity headers and the
// /v1/documents/{namespace}/{path...} wildcards.
func documentKey(r *http.Request) (types.DocumentKey, error) {
	tenantID, userID, err := scope(r)
	if err != nil {
		return types.DocumentKey{}, err
	}
	key := types.DocumentKey{
		TenantID:  tenantID,
		UserID:    userID,
		Namespace: r.PathValue("namespace"),
		Path:      r.PathValue("path"),
	}
	return key, key.Validate()
}

// GetDocument handles GET /v1/documents/{namespace}/{path...}.
func (h *APIHandlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	key, err := documentKey(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	rec, err := h.coord.GetDocument(r.Context(), key)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("ETag", quoteETag(rec.ETag))
	respondJSON(w, http.StatusOK, rec)
}

// PatchDocument handles PATCH /v1/documents/{namespace}/{path...}. The
// expected token comes from If-Match, or expected_etag in the body.
func (h *APIHandlers) PatchDocument(w http.ResponseWriter, r *http.Request) {
	key, err := documentKey(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	var req engine.PatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ExpectedETag = ifMatch(r, req.ExpectedETag)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	rec, err := h.coord.PatchDocument(r.Context(), key, req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("ETag", quoteETag(rec.ETag))
	respondJSON(w, http.StatusOK, rec)
}

// ReplaceDocument handles PUT /v1/documents/{namespace}/{path...}.
func (h *APIHandlers) ReplaceDocument(w http.ResponseWriter, r *http.Request) {
	key, err := documentKey(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	var req engine.ReplaceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ExpectedETag = ifMatch(r, req.ExpectedETag)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	rec, err := h.coord.ReplaceDocument(r.Context(), key, req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("ETag", quoteETag(rec.ETag))
	respondJSON(w, http.StatusOK, rec)
}

// ListDocuments handles GET /v1/documents?namespace=&prefix=&pattern=&limit=.
func (h *APIHandlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	opts := storage.ListOptions{
		Namespace: q.Get("namespace"),
		Prefix:    q.Get("prefix"),
		Pattern:   q.Get("pattern"),
		Limit:     parseInt(q.Get("limit"), storage.DefaultListLimit),
	}
	if err := opts.Validate(); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	items, err := h.coord.ListDocuments(r.Context(), tenantID, userID, opts)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Count: len(items)})
}

// AssembleContext handles POST /v1/context.
func (h *APIHandlers) AssembleContext(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	var req engine.ContextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TenantID, req.UserID = tenantID, userID

	res, err := h.coord.AssembleContext(r.Context(), req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// WriteEvent handles POST /v1/events.
func (h *APIHandlers) WriteEvent(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	var event types.EventDigest
	if !decodeBody(w, r, &event) {
		return
	}
	stored, err := h.coord.WriteEvent(r.Context(), tenantID, userID, event)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, stored)
}

// SearchEvents handles POST /v1/events/search.
func (h *APIHandlers) SearchEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	var q storage.EventQuery
	if !decodeBody(w, r, &q) {
		return
	}
	hits, err := h.coord.SearchEvents(r.Context(), tenantID, userID, q)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": hits, "count": len(hits)})
}

// ListAudit handles GET /v1/audit?limit=.
func (h *APIHandlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	recs, err := h.coord.ListAudit(r.Context(), tenantID, userID, parseInt(r.URL.Query().Get("limit"), storage.DefaultListLimit))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

// WriteSnapshot handles POST /v1/snapshots. The scope comes from the
// identity headers, never from the body.
func (h *APIHandlers) WriteSnapshot(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	var snap types.Snapshot
	if !decodeBody(w, r, &snap) {
		return
	}
	snap.TenantID, snap.UserID = tenantID, userID

	info, err := h.coord.WriteSnapshot(r.Context(), snap)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

// ListSnapshots handles GET /v1/snapshots?conversation_id=.
func (h *APIHandlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	list, err := h.coord.ListSnapshots(r.Context(), tenantID, userID, r.URL.Query().Get("conversation_id"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"snapshots": list, "count": len(list)})
}

// GetSnapshot handles GET /v1/snapshots/{conversation_id}/{snapshot_id}.
func (h *APIHandlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := scope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	snap, err := h.coord.GetSnapshot(r.Context(), tenantID, userID, r.PathValue("conversation_id"), r.PathValue("snapshot_id"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}
