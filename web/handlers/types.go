package handlers

import (
	"time"
)

// Identity headers. Every /v1 route is scoped to one (tenant, user) pair.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a stable machine-readable code.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// RetentionRequest is the body of POST /v1/admin/retention.
type RetentionRequest struct {
	PolicyID string `json:"policy_id"`

	// AsOf defaults to the server clock.
	AsOf time.Time `json:"as_of,omitempty"`
}

// CompactRequest is the body of POST /v1/admin/compact.
type CompactRequest struct {
	Namespace string `json:"namespace"`
	Path      string `json:"path"`
	PolicyID  string `json:"policy_id"`
	BindingID string `json:"binding_id"`
}

// DocumentListResponse is the response of GET /v1/documents.
type DocumentListResponse struct {
	Documents any `json:"documents"`
	Count     int `json:"count"`
}

// HealthResponse is the response of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Storage string `json:"storage,omitempty"`
	Sweeper any    `json:"sweeper,omitempty"`
}
