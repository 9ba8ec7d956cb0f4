// Package types defines the core data structures of the document memory
// store: document keys and envelopes, policy bindings, event digests, audit
// records, snapshots and the typed error taxonomy shared by every layer.
package types

import (
	"regexp"
	"strings"
	"time"
)

// AnyETag is the expected token meaning "the document must not exist yet".
const AnyETag = "*"

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)

// DocumentKey uniquely addresses one document.
type DocumentKey struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Namespace string `json:"namespace"`
	Path      string `json:"path"`
}

// String renders the key as tenant/user/namespace/path.
func (k DocumentKey) String() string {
	return k.TenantID + "/" + k.UserID + "/" + k.Namespace + "/" + k.Path
}

// Ref returns the namespace/path part of the key.
func (k DocumentKey) Ref() string {
	return k.Namespace + "/" + k.Path
}

// Validate checks that every component is a safe storage segment.
func (k DocumentKey) Validate() error {
	if err := ValidateScope(k.TenantID, k.UserID); err != nil {
		return err
	}
	if !ValidSegment(k.Namespace) {
		return Invalid(CodeInvalidKey, "invalid namespace %q", k.Namespace)
	}
	if k.Path == "" {
		return Invalid(CodeInvalidKey, "path is required")
	}
	for _, seg := range strings.Split(k.Path, "/") {
		if !ValidSegment(seg) {
			return Invalid(CodeInvalidKey, "invalid path %q", k.Path)
		}
	}
	return nil
}

// ValidateScope checks a (tenant, user) pair.
func ValidateScope(tenantID, userID string) error {
	if !ValidSegment(tenantID) {
		return Invalid(CodeInvalidKey, "invalid tenant id %q", tenantID)
	}
	if !ValidSegment(userID) {
		return Invalid(CodeInvalidKey, "invalid user id %q", userID)
	}
	return nil
}

// ValidSegment reports whether s can be used as a single path segment.
func ValidSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return segmentPattern.MatchString(s)
}

// DocumentEnvelope wraps a document's opaque content with schema and audit
// metadata. Content is any JSON value; numbers are kept as json.Number.
type DocumentEnvelope struct {
	DocID         string    `json:"doc_id"`
	SchemaID      string    `json:"schema_id"`
	SchemaVersion string    `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	UpdatedBy     string    `json:"updated_by"`
	Content       any       `json:"content"`
}

// WithContent returns a copy of e holding content. The receiver is left
// untouched; content is not copied.
func (e DocumentEnvelope) WithContent(content any) DocumentEnvelope {
	e.Content = content
	return e
}

// Touched returns a copy of e stamped as updated by actor at ts.
func (e DocumentEnvelope) Touched(actor string, ts time.Time) DocumentEnvelope {
	e.UpdatedBy = actor
	e.UpdatedAt = ts
	return e
}

// DocumentRecord is a stored envelope together with its version token.
type DocumentRecord struct {
	Envelope DocumentEnvelope `json:"envelope"`
	ETag     string           `json:"etag"`
}

// DocumentListItem is one entry returned by a document listing.
type DocumentListItem struct {
	Namespace string    `json:"namespace"`
	Path      string    `json:"path"`
	ETag      string    `json:"etag"`
	SchemaID  string    `json:"schema_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Size      int       `json:"size"`
}
