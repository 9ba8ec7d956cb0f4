package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// AuditStore implements storage.AuditStore on the audit table.
type AuditStore struct {
	db *sql.DB
}

// Audit returns the audit store of d.
func (d *DB) Audit() *AuditStore {
	return &AuditStore{db: d.db}
}

// Write implements storage.AuditStore.
func (s *AuditStore) Write(ctx context.Context, rec types.AuditRecord) error {
	if err := types.ValidateScope(rec.TenantID, rec.UserID); err != nil {
		return err
	}
	if !types.ValidSegment(rec.ChangeID) {
		return types.Invalid(types.CodeInvalidRequest, "invalid change id %q", rec.ChangeID)
	}
	body, err := docjson.Marshal(rec)
	if err != nil {
		return types.Internal(types.CodeSerialization, "serialize audit record", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO audit (tenant_id, user_id, change_id, ts, body) VALUES (?, ?, ?, ?, ?)",
		rec.TenantID, rec.UserID, rec.ChangeID, rec.Timestamp.UnixNano(), string(body),
	)
	if err != nil {
		return storageError("write audit record", err)
	}
	return nil
}

// List implements storage.AuditStore.
func (s *AuditStore) List(ctx context.Context, tenantID, userID string, limit int) ([]types.AuditRecord, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT change_id, body FROM audit
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY ts DESC, change_id ASC
		LIMIT ?`,
		tenantID, userID, storage.NormalizeLimit(limit),
	)
	if err != nil {
		return nil, storageError("list audit", err)
	}
	defer rows.Close()

	var out []types.AuditRecord
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, storageError("scan audit record", err)
		}
		var rec types.AuditRecord
		if err := docjson.Unmarshal([]byte(body), &rec); err != nil {
			return nil, types.Internal(types.CodeCorruptState, "decode audit record "+id, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list audit", err)
	}
	return out, nil
}

// DeleteBefore implements storage.AuditStore.
func (s *AuditStore) DeleteBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (int, error) {
	return deleteBefore(ctx, s.db, "audit", tenantID, userID, cutoff)
}

// DeleteScope implements storage.AuditStore.
func (s *AuditStore) DeleteScope(ctx context.Context, tenantID, userID string) (int, error) {
	return deleteScope(ctx, s.db, "audit", tenantID, userID)
}

// Scopes implements storage.ScopeLister.
func (s *AuditStore) Scopes(ctx context.Context) ([]storage.Scope, error) {
	return listScopes(ctx, s.db, "audit")
}
