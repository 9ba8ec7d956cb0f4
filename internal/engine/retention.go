package engine

import (
	"context"
	"errors"
	"time"

	"github.com/scrypster/docmem/pkg/types"
)

const day = 24 * time.Hour

// cutoff returns asOf minus days, or the zero time when days disables the
// category.
func cutoff(asOf time.Time, days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return asOf.Add(-time.Duration(days) * day)
}

// ApplyRetention deletes the events, audit records and snapshots of a scope
// that are strictly older than the policy's cutoffs as of asOf (the
// coordinator clock when zero). Each collection is swept independently; a
// canceled sweep keeps what it already deleted and can simply be rerun.
func (c *Coordinator) ApplyRetention(ctx context.Context, tenantID, userID, policyID string, asOf time.Time) (*RetentionResult, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	pol, err := c.policies.Policy(policyID)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = c.now()
	}
	asOf = asOf.UTC()

	rules := pol.Retention
	res := &RetentionResult{
		AsOf:            asOf,
		EventsCutoff:    cutoff(asOf, rules.EventsDays),
		AuditCutoff:     cutoff(asOf, rules.AuditDays),
		SnapshotsCutoff: cutoff(asOf, rules.SnapshotsDays),
	}

	if !res.EventsCutoff.IsZero() {
		if res.EventsDeleted, err = c.stores.Events.DeleteBefore(ctx, tenantID, userID, res.EventsCutoff); err != nil {
			return nil, c.sweepFailed("events", tenantID, userID, err)
		}
	}
	if !res.AuditCutoff.IsZero() {
		if res.AuditDeleted, err = c.stores.Audit.DeleteBefore(ctx, tenantID, userID, res.AuditCutoff); err != nil {
			return nil, c.sweepFailed("audit", tenantID, userID, err)
		}
	}
	if !res.SnapshotsCutoff.IsZero() {
		if res.SnapshotsDeleted, err = c.stores.Snapshots.DeleteBefore(ctx, tenantID, userID, res.SnapshotsCutoff); err != nil {
			return nil, c.sweepFailed("snapshots", tenantID, userID, err)
		}
	}

	c.logger.Info("retention applied",
		"tenant", tenantID, "user", userID, "policy", policyID,
		"events", res.EventsDeleted, "audit", res.AuditDeleted, "snapshots", res.SnapshotsDeleted)
	c.notify(ctx, types.MutationEvent{
		Type:     types.EventRetentionApplied,
		TenantID: tenantID,
		UserID:   userID,
		Counts: map[string]int{
			"events":    res.EventsDeleted,
			"audit":     res.AuditDeleted,
			"snapshots": res.SnapshotsDeleted,
		},
	})
	return res, nil
}

// ForgetUser irreversibly deletes every document, event, audit record and
// snapshot of a scope. Each collection detaches the whole scope in one step,
// so readers never see half of a collection. Forgetting an unknown or
// already forgotten user returns zero counts.
func (c *Coordinator) ForgetUser(ctx context.Context, tenantID, userID string) (*ForgetResult, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	res := &ForgetResult{}
	var err error
	if res.Documents, err = c.stores.Documents.DeleteScope(ctx, tenantID, userID); err != nil {
		return nil, c.sweepFailed("documents", tenantID, userID, err)
	}
	if res.Events, err = c.stores.Events.DeleteScope(ctx, tenantID, userID); err != nil {
		return nil, c.sweepFailed("events", tenantID, userID, err)
	}
	if res.Audit, err = c.stores.Audit.DeleteScope(ctx, tenantID, userID); err != nil {
		return nil, c.sweepFailed("audit", tenantID, userID, err)
	}
	if res.Snapshots, err = c.stores.Snapshots.DeleteScope(ctx, tenantID, userID); err != nil {
		return nil, c.sweepFailed("snapshots", tenantID, userID, err)
	}

	// Replayed writes must not resurrect erased documents.
	if c.replay != nil {
		c.replay.clear()
	}

	c.logger.Info("user forgotten",
		"tenant", tenantID, "user", userID,
		"documents", res.Documents, "events", res.Events, "audit", res.Audit, "snapshots", res.Snapshots)
	c.notify(ctx, types.MutationEvent{
		Type:     types.EventUserForgotten,
		TenantID: tenantID,
		UserID:   userID,
		Counts: map[string]int{
			"documents": res.Documents,
			"events":    res.Events,
			"audit":     res.Audit,
			"snapshots": res.Snapshots,
		},
	})
	return res, nil
}

func (c *Coordinator) sweepFailed(collection, tenantID, userID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("sweep interrupted", "collection", collection, "tenant", tenantID, "user", userID, "error", err)
		return err
	}
	c.logFailure("sweep "+collection, err, "tenant", tenantID, "user", userID)
	return err
}
