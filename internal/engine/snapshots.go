package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/scrypster/docmem/pkg/types"
)

// WriteSnapshot stores a conversation snapshot artifact. The snapshot id and
// creation time are assigned when empty.
func (c *Coordinator) WriteSnapshot(ctx context.Context, snap types.Snapshot) (*types.SnapshotInfo, error) {
	if err := types.ValidateScope(snap.TenantID, snap.UserID); err != nil {
		return nil, err
	}
	if !types.ValidSegment(snap.ConversationID) {
		return nil, types.Invalid(types.CodeInvalidSnapshot, "invalid conversation id %q", snap.ConversationID)
	}
	if len(snap.Messages) == 0 {
		return nil, types.Invalid(types.CodeInvalidSnapshot, "a snapshot needs at least one message")
	}
	if snap.SnapshotID == "" {
		snap.SnapshotID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = c.now()
	}

	info, err := c.stores.Snapshots.Write(ctx, snap)
	if err != nil {
		c.logFailure("write snapshot", err, "tenant", snap.TenantID, "user", snap.UserID)
		return nil, err
	}
	c.logger.Info("snapshot written",
		"tenant", snap.TenantID, "user", snap.UserID,
		"conversation", snap.ConversationID, "snapshot", snap.SnapshotID)
	return info, nil
}

// GetSnapshot loads one snapshot artifact.
func (c *Coordinator) GetSnapshot(ctx context.Context, tenantID, userID, conversationID, snapshotID string) (*types.Snapshot, error) {
	snap, err := c.stores.Snapshots.Get(ctx, tenantID, userID, conversationID, snapshotID)
	if err != nil {
		c.logFailure("get snapshot", err, "tenant", tenantID, "user", userID)
		return nil, err
	}
	if snap == nil {
		return nil, types.NotFound(types.CodeSnapshotNotFound, "snapshot %s/%s not found", conversationID, snapshotID)
	}
	return snap, nil
}

// ListSnapshots lists snapshot artifacts of a scope, newest first. An empty
// conversation id lists every conversation.
func (c *Coordinator) ListSnapshots(ctx context.Context, tenantID, userID, conversationID string) ([]types.SnapshotInfo, error) {
	list, err := c.stores.Snapshots.List(ctx, tenantID, userID, conversationID)
	if err != nil {
		c.logFailure("list snapshots", err, "tenant", tenantID, "user", userID)
		return nil, err
	}
	if list == nil {
		list = []types.SnapshotInfo{}
	}
	return list, nil
}

// ListAudit returns the newest audit records of a scope.
func (c *Coordinator) ListAudit(ctx context.Context, tenantID, userID string, limit int) ([]types.AuditRecord, error) {
	recs, err := c.stores.Audit.List(ctx, tenantID, userID, limit)
	if err != nil {
		c.logFailure("list audit", err, "tenant", tenantID, "user", userID)
		return nil, err
	}
	if recs == nil {
		recs = []types.AuditRecord{}
	}
	return recs, nil
}
