package storage

import (
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/scrypster/docmem/pkg/types"
)

// Listing and search limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	DefaultTopK      = 10
	MaxTopK          = 100
)

// Scope identifies one (tenant, user) pair.
type Scope struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// ListOptions filters a document listing.
type ListOptions struct {
	// Namespace restricts results to one namespace. Empty means all.
	Namespace string

	// Prefix matches the start of "namespace/path".
	Prefix string

	// Pattern is a doublestar glob matched against "namespace/path"
	// (for example "projects/**/notes").
	Pattern string

	// Limit is the maximum number of items (default: 100, max: 1000).
	Limit int
}

// Normalize applies defaults to the ListOptions.
func (o *ListOptions) Normalize() {
	o.Limit = NormalizeLimit(o.Limit)
}

// Validate rejects a malformed glob pattern.
func (o ListOptions) Validate() error {
	if o.Pattern != "" && !doublestar.ValidatePattern(o.Pattern) {
		return types.Invalid(types.CodeInvalidRequest, "invalid list pattern %q", o.Pattern)
	}
	return nil
}

// Matches reports whether a document at namespace/path passes the filters.
func (o ListOptions) Matches(namespace, path string) bool {
	if o.Namespace != "" && namespace != o.Namespace {
		return false
	}
	ref := namespace + "/" + path
	if o.Prefix != "" && !strings.HasPrefix(ref, o.Prefix) {
		return false
	}
	if o.Pattern != "" {
		ok, err := doublestar.Match(o.Pattern, ref)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// EventQuery filters and ranks event digests. Filters are hard excludes;
// zero values disable a filter.
type EventQuery struct {
	// Text is tokenized on whitespace; each token is matched
	// case-insensitively against the digest and keywords.
	Text string `json:"text,omitempty"`

	ServiceID  string `json:"service_id,omitempty"`
	SourceType string `json:"source_type,omitempty"`

	// ProjectID requires membership in the digest's project_ids.
	ProjectID string `json:"project_id,omitempty"`

	// From and To bound the timestamp, both inclusive.
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`

	// TopK is the maximum number of results (default: 10, max: 100).
	TopK int `json:"top_k,omitempty"`
}

// Normalize applies defaults to the EventQuery.
func (q *EventQuery) Normalize() {
	if q.TopK < 1 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
}

// Admits reports whether e passes every filter of q.
func (q EventQuery) Admits(e types.EventDigest) bool {
	if q.ServiceID != "" && e.ServiceID != q.ServiceID {
		return false
	}
	if q.SourceType != "" && e.SourceType != q.SourceType {
		return false
	}
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Timestamp.After(q.To) {
		return false
	}
	if q.ProjectID != "" {
		found := false
		for _, p := range e.ProjectIDs {
			if p == q.ProjectID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NormalizeLimit applies the listing default and maximum to limit.
func NormalizeLimit(limit int) int {
	if limit < 1 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
