package filestore

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// AuditStore implements storage.AuditStore with one JSON file per record.
type AuditStore struct {
	layout layout
}

// NewAuditStore creates an audit store rooted at root.
func NewAuditStore(root string, logger *slog.Logger) (*AuditStore, error) {
	l, err := newLayout(root, logger)
	if err != nil {
		return nil, err
	}
	return &AuditStore{layout: l}, nil
}

func (s *AuditStore) dir(tenantID, userID string) string {
	return s.layout.scopeDir(auditDir, tenantID, userID)
}

// Write implements storage.AuditStore.
func (s *AuditStore) Write(ctx context.Context, rec types.AuditRecord) error {
	if err := types.ValidateScope(rec.TenantID, rec.UserID); err != nil {
		return err
	}
	if !types.ValidSegment(rec.ChangeID) {
		return types.Invalid(types.CodeInvalidRequest, "invalid change id %q", rec.ChangeID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeRecord(s.dir(rec.TenantID, rec.UserID), rec.ChangeID, rec)
}

// List implements storage.AuditStore.
func (s *AuditStore) List(ctx context.Context, tenantID, userID string, limit int) ([]types.AuditRecord, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	records, err := readRecords[types.AuditRecord](ctx, s.dir(tenantID, userID))
	if err != nil {
		return nil, err
	}
	out := make([]types.AuditRecord, len(records))
	for i, r := range records {
		out[i] = r.value
	}
	sortAudit(out)
	if limit = storage.NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteBefore implements storage.AuditStore.
func (s *AuditStore) DeleteBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (int, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return 0, err
	}
	return deleteRecords(ctx, s.dir(tenantID, userID), func(r types.AuditRecord) bool {
		return r.Timestamp.Before(cutoff)
	})
}

// DeleteScope implements storage.AuditStore.
func (s *AuditStore) DeleteScope(ctx context.Context, tenantID, userID string) (int, error) {
	return s.layout.detachScope(ctx, auditDir, tenantID, userID, hasSuffix(jsonExt))
}

// sortAudit orders records newest first, then by change id.
func sortAudit(recs []types.AuditRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.After(recs[j].Timestamp)
		}
		return recs[i].ChangeID < recs[j].ChangeID
	})
}

// Scopes implements storage.ScopeLister.
func (s *AuditStore) Scopes(ctx context.Context) ([]storage.Scope, error) {
	return s.layout.scopes(auditDir)
}
