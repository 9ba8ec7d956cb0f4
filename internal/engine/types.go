// Package engine provides the memory coordinator: the single entry point
// that validates requests against policy bindings, applies patches, enforces
// optimistic concurrency, writes audit records and implements context
// assembly, project routing, event search, retention, erasure and
// compaction on top of the storage interfaces.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/scrypster/docmem/internal/patch"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// Context assembly defaults used when neither the request nor the policy
// sets a budget.
const (
	DefaultMaxDocs       = 12
	DefaultMaxCharsTotal = 32000
)

// Event digest limits.
const (
	MaxDigestChars = 4000
	MaxKeywords    = 32
)

// CompactionActor is recorded as the actor of compaction writes.
const CompactionActor = "system:compaction"

// Routing reasons.
const (
	RouteNoHint     = "no_hint"
	RouteNoMatch    = "no_match"
	RouteExplicit   = "explicit_project_id"
	RouteAliasMatch = "alias_or_keyword_match"
)

// Config holds configuration for the coordinator.
type Config struct {
	// IdempotencyCacheSize is the maximum number of remembered idempotency
	// keys (default: 10000). Zero disables idempotent replay.
	IdempotencyCacheSize int

	// Logger receives structured operation logs. Nil discards them.
	Logger *slog.Logger

	// Notifier receives mutation events. Nil disables notifications.
	Notifier Notifier

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IdempotencyCacheSize: 10000,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.IdempotencyCacheSize < 0 {
		return fmt.Errorf("IdempotencyCacheSize must be >= 0, got %d", c.IdempotencyCacheSize)
	}
	return nil
}

// Stores groups the collections the coordinator works on.
type Stores struct {
	Documents storage.DocumentStore
	Events    storage.EventStore
	Audit     storage.AuditStore
	Snapshots storage.SnapshotStore
}

func (s Stores) validate() error {
	switch {
	case s.Documents == nil:
		return fmt.Errorf("document store is required")
	case s.Events == nil:
		return fmt.Errorf("event store is required")
	case s.Audit == nil:
		return fmt.Errorf("audit store is required")
	case s.Snapshots == nil:
		return fmt.Errorf("snapshot store is required")
	}
	return nil
}

// PatchRequest is a partial write through a policy binding.
type PatchRequest struct {
	PolicyID  string `json:"policy_id"`
	BindingID string `json:"binding_id"`

	// ProjectID selects the document of a templated binding.
	ProjectID string `json:"project_id,omitempty"`

	Ops   []patch.Op       `json:"ops,omitempty"`
	Edits []patch.TextEdit `json:"edits,omitempty"`

	Reason   string         `json:"reason"`
	Evidence types.Evidence `json:"evidence"`

	// ExpectedETag is the token the caller read, or "*" to create.
	ExpectedETag string `json:"expected_etag"`
	Actor        string `json:"actor"`

	// IdempotencyKey makes retries of the same request safe.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ReplaceRequest is a full write through a policy binding.
type ReplaceRequest struct {
	PolicyID  string `json:"policy_id"`
	BindingID string `json:"binding_id"`
	ProjectID string `json:"project_id,omitempty"`

	// Envelope carries the new content and schema. Timestamps, updated_by
	// and an existing doc_id are always set by the coordinator.
	Envelope types.DocumentEnvelope `json:"envelope"`

	Reason         string         `json:"reason"`
	Evidence       types.Evidence `json:"evidence"`
	ExpectedETag   string         `json:"expected_etag"`
	Actor          string         `json:"actor"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ContextRequest asks for the documents relevant to a conversation turn.
type ContextRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	PolicyID string `json:"policy_id"`

	// ProjectID skips routing when set.
	ProjectID string `json:"project_id,omitempty"`

	// Hint is free text used to route to a project.
	Hint string `json:"hint,omitempty"`

	// Refs lists explicit "namespace/path" documents. When set, bindings
	// are not walked.
	Refs []string `json:"refs,omitempty"`

	MaxDocs       int `json:"max_docs,omitempty"`
	MaxCharsTotal int `json:"max_chars_total,omitempty"`
}

// ContextDocument is one document included in an assembled context.
type ContextDocument struct {
	BindingID string                 `json:"binding_id,omitempty"`
	Namespace string                 `json:"namespace"`
	Path      string                 `json:"path"`
	ETag      string                 `json:"etag"`
	Chars     int                    `json:"chars"`
	Envelope  types.DocumentEnvelope `json:"envelope"`
}

// Routing reports how the project was chosen.
type Routing struct {
	ProjectID string  `json:"project_id,omitempty"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// ContextResult is the output of AssembleContext. Dropped holds binding ids,
// or "namespace/path" refs in explicit mode.
type ContextResult struct {
	Documents     []ContextDocument `json:"documents"`
	Dropped       []string          `json:"dropped"`
	Routing       *Routing          `json:"routing,omitempty"`
	TotalChars    int               `json:"total_chars"`
	MaxDocs       int               `json:"max_docs"`
	MaxCharsTotal int               `json:"max_chars_total"`
}

// RetentionResult reports one retention sweep. A zero cutoff means the
// category is disabled.
type RetentionResult struct {
	EventsDeleted    int       `json:"events_deleted"`
	AuditDeleted     int       `json:"audit_deleted"`
	SnapshotsDeleted int       `json:"snapshots_deleted"`
	EventsCutoff     time.Time `json:"events_cutoff"`
	AuditCutoff      time.Time `json:"audit_cutoff"`
	SnapshotsCutoff  time.Time `json:"snapshots_cutoff"`
	AsOf             time.Time `json:"as_of"`
}

// ForgetResult reports how many records ForgetUser removed per collection.
type ForgetResult struct {
	Documents int `json:"documents"`
	Events    int `json:"events"`
	Audit     int `json:"audit"`
	Snapshots int `json:"snapshots"`
}

// Total returns the sum of all counts.
func (r ForgetResult) Total() int {
	return r.Documents + r.Events + r.Audit + r.Snapshots
}

// CompactionResult reports one compaction pass over a document.
type CompactionResult struct {
	Changed   bool   `json:"changed"`
	Abandoned bool   `json:"abandoned"`
	Reason    string `json:"reason,omitempty"`
	ETag      string `json:"etag,omitempty"`

	// Trimmed maps each compacted field to the number of removed items.
	Trimmed map[string]int `json:"trimmed,omitempty"`
}
