// Package storage provides composable storage interfaces for docmem.
//
// Each persisted collection (documents, events, audit records, snapshots)
// has its own small interface so providers can be implemented and swapped
// independently. The coordinator depends only on these interfaces; the
// filestore and sqlite packages are the concrete providers.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/docmem/pkg/types"
)

// DocumentStore persists document envelopes with optimistic concurrency.
type DocumentStore interface {
	// Get returns the record for key, or (nil, nil) when it does not exist.
	// Absence is never an error; corrupt or unreadable state is.
	Get(ctx context.Context, key types.DocumentKey) (*types.DocumentRecord, error)

	// Upsert writes env under key if the current token equals expectedETag.
	// expectedETag must be types.AnyETag when the document does not exist.
	// A mismatch returns a PreconditionFailed error carrying the current
	// token in details.latest_etag.
	Upsert(ctx context.Context, key types.DocumentKey, env types.DocumentEnvelope, expectedETag string) (*types.DocumentRecord, error)

	// Exists reports whether a document is stored under key.
	Exists(ctx context.Context, key types.DocumentKey) (bool, error)

	// List returns documents in a (tenant, user) scope sorted by namespace
	// then path.
	List(ctx context.Context, tenantID, userID string, opts ListOptions) ([]types.DocumentListItem, error)

	// DeleteScope removes every document of the scope and returns how many
	// were removed. A scope with no documents returns 0.
	DeleteScope(ctx context.Context, tenantID, userID string) (int, error)
}

// EventStore persists append-only event digests and ranks them for search.
type EventStore interface {
	// Write persists one digest. A digest with an existing event id replaces
	// the stored one.
	Write(ctx context.Context, event types.EventDigest) error

	// Query filters and ranks the digests of a scope.
	Query(ctx context.Context, tenantID, userID string, q EventQuery) ([]types.ScoredEvent, error)

	// DeleteBefore removes digests with a timestamp strictly before cutoff.
	DeleteBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (int, error)

	// DeleteScope removes every digest of the scope.
	DeleteScope(ctx context.Context, tenantID, userID string) (int, error)
}

// AuditStore persists write-once audit records.
type AuditStore interface {
	// Write persists rec. Records are never updated.
	Write(ctx context.Context, rec types.AuditRecord) error

	// List returns the newest records of a scope first, at most limit.
	List(ctx context.Context, tenantID, userID string, limit int) ([]types.AuditRecord, error)

	// DeleteBefore removes records with a timestamp strictly before cutoff.
	DeleteBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (int, error)

	// DeleteScope removes every record of the scope.
	DeleteScope(ctx context.Context, tenantID, userID string) (int, error)
}

// SnapshotStore persists conversation snapshot artifacts.
type SnapshotStore interface {
	// Write stores snap and returns its storage description.
	Write(ctx context.Context, snap types.Snapshot) (*types.SnapshotInfo, error)

	// Get loads a stored snapshot. Returns nil, nil when it does not exist.
	Get(ctx context.Context, tenantID, userID, conversationID, snapshotID string) (*types.Snapshot, error)

	// List describes the stored artifacts of a scope, optionally limited to
	// one conversation, newest first.
	List(ctx context.Context, tenantID, userID, conversationID string) ([]types.SnapshotInfo, error)

	// DeleteBefore removes artifacts last modified strictly before cutoff.
	DeleteBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (int, error)

	// DeleteScope removes every artifact of the scope.
	DeleteScope(ctx context.Context, tenantID, userID string) (int, error)
}

// ScopeLister enumerates the (tenant, user) scopes that hold documents.
// The sweeper uses it to find work.
type ScopeLister interface {
	Scopes(ctx context.Context) ([]Scope, error)
}

// KeyLocker serializes access to a single storage key. Lock blocks until
// the key is free or ctx is done and returns the release function.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
