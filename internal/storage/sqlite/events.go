package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// EventStore implements storage.EventStore on the events table.
type EventStore struct {
	db *sql.DB
}

// Events returns the event store of d.
func (d *DB) Events() *EventStore {
	return &EventStore{db: d.db}
}

// Write implements storage.EventStore. Writing an existing event id
// replaces the digest.
func (s *EventStore) Write(ctx context.Context, event types.EventDigest) error {
	if err := types.ValidateScope(event.TenantID, event.UserID); err != nil {
		return err
	}
	if !types.ValidSegment(event.EventID) {
		return types.Invalid(types.CodeInvalidEvent, "invalid event id %q", event.EventID)
	}
	body, err := docjson.Marshal(event)
	if err != nil {
		return types.Internal(types.CodeSerialization, "serialize event", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (tenant_id, user_id, event_id, ts, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, user_id, event_id) DO UPDATE SET ts = excluded.ts, body = excluded.body`,
		event.TenantID, event.UserID, event.EventID, event.Timestamp.UnixNano(), string(body),
	)
	if err != nil {
		return storageError("write event", err)
	}
	return nil
}

// Query implements storage.EventStore. The time window is pushed into SQL;
// the remaining filters and scoring run in Go.
func (s *EventStore) Query(ctx context.Context, tenantID, userID string, q storage.EventQuery) ([]types.ScoredEvent, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	query := "SELECT event_id, body FROM events WHERE tenant_id = ? AND user_id = ?"
	args := []any{tenantID, userID}
	if !q.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		query += " AND ts <= ?"
		args = append(args, q.To.UnixNano())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("query events", err)
	}
	defer rows.Close()

	var events []types.EventDigest
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, storageError("scan event", err)
		}
		var e types.EventDigest
		if err := docjson.Unmarshal([]byte(body), &e); err != nil {
			return nil, types.Internal(types.CodeCorruptState, "decode event "+id, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("query events", err)
	}
	return storage.Rank(events, q), nil
}

// DeleteBefore implements storage.EventStore.
func (s *EventStore) DeleteBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (int, error) {
	return deleteBefore(ctx, s.db, "events", tenantID, userID, cutoff)
}

// DeleteScope implements storage.EventStore.
func (s *EventStore) DeleteScope(ctx context.Context, tenantID, userID string) (int, error) {
	return deleteScope(ctx, s.db, "events", tenantID, userID)
}

// Scopes implements storage.ScopeLister.
func (s *EventStore) Scopes(ctx context.Context) ([]storage.Scope, error) {
	return listScopes(ctx, s.db, "events")
}
