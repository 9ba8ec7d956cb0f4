package filestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// EventStore implements storage.EventStore with one JSON file per digest.
type EventStore struct {
	layout layout
}

// NewEventStore creates an event store rooted at root.
func NewEventStore(root string, logger *slog.Logger) (*EventStore, error) {
	l, err := newLayout(root, logger)
	if err != nil {
		return nil, err
	}
	return &EventStore{layout: l}, nil
}

func (s *EventStore) dir(tenantID, userID string) string {
	return s.layout.scopeDir(eventsDir, tenantID, userID)
}

// Write implements storage.EventStore.
func (s *EventStore) Write(ctx context.Context, event types.EventDigest) error {
	if err := types.ValidateScope(event.TenantID, event.UserID); err != nil {
		return err
	}
	if !types.ValidSegment(event.EventID) {
		return types.Invalid(types.CodeInvalidEvent, "invalid event id %q", event.EventID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeRecord(s.dir(event.TenantID, event.UserID), event.EventID, event)
}

// Query implements storage.EventStore.
func (s *EventStore) Query(ctx context.Context, tenantID, userID string, q storage.EventQuery) ([]types.ScoredEvent, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	records, err := readRecords[types.EventDigest](ctx, s.dir(tenantID, userID))
	if err != nil {
		return nil, err
	}
	events := make([]types.EventDigest, len(records))
	for i, r := range records {
		events[i] = r.value
	}
	return storage.Rank(events, q), nil
}

// DeleteBefore implements storage.EventStore.
func (s *EventStore) DeleteBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (int, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return 0, err
	}
	return deleteRecords(ctx, s.dir(tenantID, userID), func(e types.EventDigest) bool {
		return e.Timestamp.Before(cutoff)
	})
}

// DeleteScope implements storage.EventStore.
func (s *EventStore) DeleteScope(ctx context.Context, tenantID, userID string) (int, error) {
	return s.layout.detachScope(ctx, eventsDir, tenantID, userID, hasSuffix(jsonExt))
}

// Scopes implements storage.ScopeLister.
func (s *EventStore) Scopes(ctx context.Context) ([]storage.Scope, error) {
	return s.layout.scopes(eventsDir)
}
