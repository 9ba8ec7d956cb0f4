package types

import "time"

// Mutation event types emitted by the coordinator.
const (
	EventDocumentPatched   = "document.patched"
	EventDocumentReplaced  = "document.replaced"
	EventDocumentCompacted = "document.compacted"
	EventEventWritten      = "event.written"
	EventRetentionApplied  = "retention.applied"
	EventUserForgotten     = "user.forgotten"
)

// MutationEvent describes a change that already reached durable storage.
// Consumers must treat it as advisory: delivery is best effort.
type MutationEvent struct {
	Type      string         `json:"type"`
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	Namespace string         `json:"namespace,omitempty"`
	Path      string         `json:"path,omitempty"`
	ETag      string         `json:"etag,omitempty"`
	ChangeID  string         `json:"change_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Time      time.Time      `json:"time"`
	Counts    map[string]int `json:"counts,omitempty"`
}
