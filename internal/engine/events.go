package engine

import (
	"context"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// WriteEvent validates and stores an event digest in the (tenant, user)
// scope. An empty tenant or user on the digest is taken from the scope; an
// empty event id is assigned. It returns the stored digest.
func (c *Coordinator) WriteEvent(ctx context.Context, tenantID, userID string, event types.EventDigest) (*types.EventDigest, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	if event.TenantID == "" {
		event.TenantID = tenantID
	}
	if event.UserID == "" {
		event.UserID = userID
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if err := validateEvent(tenantID, userID, event); err != nil {
		return nil, err
	}
	event.Timestamp = event.Timestamp.UTC()

	if err := c.stores.Events.Write(ctx, event); err != nil {
		c.logFailure("write event", err, "tenant", tenantID, "user", userID, "event_id", event.EventID)
		return nil, err
	}
	c.logger.Info("event written", "tenant", tenantID, "user", userID, "event_id", event.EventID)
	c.notify(ctx, types.MutationEvent{
		Type:     types.EventEventWritten,
		TenantID: tenantID,
		UserID:   userID,
		ChangeID: event.EventID,
	})
	return &event, nil
}

func validateEvent(tenantID, userID string, e types.EventDigest) error {
	invalid := func(format string, args ...any) error {
		return types.Invalid(types.CodeInvalidEvent, format, args...).WithDetail("event_id", e.EventID)
	}
	switch {
	case e.TenantID != tenantID || e.UserID != userID:
		return invalid("event scope %s/%s does not match %s/%s", e.TenantID, e.UserID, tenantID, userID)
	case !types.ValidSegment(e.EventID):
		return invalid("invalid event id %q", e.EventID)
	case e.ServiceID == "":
		return invalid("service_id is required")
	case e.SourceType == "":
		return invalid("source_type is required")
	case e.Digest == "":
		return invalid("digest is required")
	case e.Timestamp.IsZero():
		return invalid("timestamp is required")
	case utf8.RuneCountInString(e.Digest) > MaxDigestChars:
		return invalid("digest exceeds %d characters", MaxDigestChars)
	case len(e.Keywords) > MaxKeywords:
		return invalid("at most %d keywords are allowed", MaxKeywords)
	}
	return nil
}

// SearchEvents ranks the digests of a scope against q.
func (c *Coordinator) SearchEvents(ctx context.Context, tenantID, userID string, q storage.EventQuery) ([]types.ScoredEvent, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return nil, types.Invalid(types.CodeInvalidRequest, "from is after to")
	}
	hits, err := c.stores.Events.Query(ctx, tenantID, userID, q)
	if err != nil {
		c.logFailure("search events", err, "tenant", tenantID, "user", userID)
		return nil, err
	}
	if hits == nil {
		hits = []types.ScoredEvent{}
	}
	return hits, nil
}
