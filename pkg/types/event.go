package types

import "time"

// Evidence links a record back to the conversation material it came from.
type Evidence struct {
	MessageIDs  []string `json:"message_ids,omitempty"`
	SnapshotURI string   `json:"snapshot_uri,omitempty"`
}

// EventDigest is a compact, append-only summary of something that happened
// in a (tenant, user) scope.
type EventDigest struct {
	EventID    string    `json:"event_id"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	ServiceID  string    `json:"service_id"`
	Timestamp  time.Time `json:"timestamp"`
	SourceType string    `json:"source_type"`
	Digest     string    `json:"digest"`
	Keywords   []string  `json:"keywords,omitempty"`
	ProjectIDs []string  `json:"project_ids,omitempty"`
	Evidence   Evidence  `json:"evidence"`
}

// ScoredEvent is a search hit.
type ScoredEvent struct {
	Event EventDigest `json:"event"`
	Score float64     `json:"score"`
}

// Audit operations
const (
	AuditOpPatch   = "patch"
	AuditOpReplace = "replace"
	AuditOpCompact = "compact"
)

// AuditRecord is written once per successful mutation and never changed.
type AuditRecord struct {
	ChangeID           string    `json:"change_id"`
	Actor              string    `json:"actor"`
	TenantID           string    `json:"tenant_id"`
	UserID             string    `json:"user_id"`
	Namespace          string    `json:"namespace"`
	Path               string    `json:"path"`
	BindingID          string    `json:"binding_id,omitempty"`
	Operation          string    `json:"operation"`
	PreviousETag       string    `json:"previous_etag"`
	NewETag            string    `json:"new_etag"`
	Reason             string    `json:"reason"`
	Ops                []any     `json:"ops,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	EvidenceMessageIDs []string  `json:"evidence_message_ids,omitempty"`
}

// SnapshotMessage is one message captured in a conversation snapshot.
type SnapshotMessage struct {
	MessageID string    `json:"message_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a conversation snapshot artifact.
type Snapshot struct {
	SnapshotID     string            `json:"snapshot_id"`
	TenantID       string            `json:"tenant_id"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id"`
	CreatedAt      time.Time         `json:"created_at"`
	Messages       []SnapshotMessage `json:"messages"`
}

// SnapshotInfo describes a stored snapshot artifact without its payload.
type SnapshotInfo struct {
	SnapshotID     string    `json:"snapshot_id"`
	ConversationID string    `json:"conversation_id"`
	ModifiedAt     time.Time `json:"modified_at"`
	Size           int64     `json:"size"`
}
