package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/internal/patch"
	"github.com/scrypster/docmem/internal/policy"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// GetDocument returns the stored record for key.
func (c *Coordinator) GetDocument(ctx context.Context, key types.DocumentKey) (*types.DocumentRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rec, err := c.stores.Documents.Get(ctx, key)
	if err != nil {
		c.logFailure("get document", err, "key", key.String())
		return nil, err
	}
	if rec == nil {
		return nil, types.NotFound(types.CodeDocumentNotFound, "document %s not found", key.Ref()).
			WithDetail("namespace", key.Namespace).
			WithDetail("path", key.Path)
	}
	return rec, nil
}

// ListDocuments lists the documents of a scope.
func (c *Coordinator) ListDocuments(ctx context.Context, tenantID, userID string, opts storage.ListOptions) ([]types.DocumentListItem, error) {
	items, err := c.stores.Documents.List(ctx, tenantID, userID, opts)
	if err != nil {
		c.logFailure("list documents", err, "tenant", tenantID, "user", userID)
		return nil, err
	}
	if items == nil {
		items = []types.DocumentListItem{}
	}
	return items, nil
}

// PatchDocument applies structural ops or text edits to the document at
// key through a policy binding.
func (c *Coordinator) PatchDocument(ctx context.Context, key types.DocumentKey, req PatchRequest) (*types.DocumentRecord, error) {
	b, err := c.resolveWrite(key, req.PolicyID, req.BindingID, req.ProjectID, req.ExpectedETag, req.Actor, false)
	if err != nil {
		return nil, err
	}
	patchReq := patch.Request{Ops: req.Ops, Edits: req.Edits}
	if err := patchReq.Validate(); err != nil {
		return nil, err
	}
	if err := policy.CheckWritable(b, patchReq.Paths()); err != nil {
		return nil, err
	}

	var ops any = req.Ops
	if len(req.Edits) > 0 {
		ops = req.Edits
	}
	normalized, err := docjson.Normalize(ops)
	if err != nil {
		return nil, types.Internal(types.CodeSerialization, "serialize patch ops", err)
	}
	auditOps, _ := normalized.([]any)

	return c.write(ctx, writeOp{
		operation:      types.AuditOpPatch,
		event:          types.EventDocumentPatched,
		key:            key,
		binding:        b,
		actor:          req.Actor,
		reason:         req.Reason,
		evidence:       req.Evidence,
		expected:       req.ExpectedETag,
		idempotencyKey: req.IdempotencyKey,
		request:        req,
		ops:            auditOps,
		build: func(current *types.DocumentRecord, now time.Time) (types.DocumentEnvelope, error) {
			base := newEnvelope(b, now)
			if current != nil {
				base = current.Envelope
			}
			content, err := patch.Apply(base.Content, patchReq)
			if err != nil {
				return types.DocumentEnvelope{}, err
			}
			return base.WithContent(content), nil
		},
	})
}

// ReplaceDocument overwrites the document at key with req.Envelope through
// a policy binding. An empty schema id/version defaults to the binding's.
func (c *Coordinator) ReplaceDocument(ctx context.Context, key types.DocumentKey, req ReplaceRequest) (*types.DocumentRecord, error) {
	b, err := c.resolveWrite(key, req.PolicyID, req.BindingID, req.ProjectID, req.ExpectedETag, req.Actor, true)
	if err != nil {
		return nil, err
	}
	content, err := docjson.Normalize(req.Envelope.Content)
	if err != nil {
		return nil, types.Invalid(types.CodeInvalidRequest, "content is not a JSON value: %v", err)
	}

	return c.write(ctx, writeOp{
		operation:      types.AuditOpReplace,
		event:          types.EventDocumentReplaced,
		key:            key,
		binding:        b,
		actor:          req.Actor,
		reason:         req.Reason,
		evidence:       req.Evidence,
		expected:       req.ExpectedETag,
		idempotencyKey: req.IdempotencyKey,
		request:        req,
		build: func(current *types.DocumentRecord, now time.Time) (types.DocumentEnvelope, error) {
			env := req.Envelope.WithContent(content)
			if env.SchemaID == "" && env.SchemaVersion == "" {
				env.SchemaID, env.SchemaVersion = b.SchemaID, b.SchemaVersion
			}
			if current != nil {
				env.DocID = current.Envelope.DocID
				env.CreatedAt = current.Envelope.CreatedAt
				return env, nil
			}
			if env.DocID == "" {
				env.DocID = uuid.NewString()
			}
			env.CreatedAt = now
			return env, nil
		},
	})
}

// resolveWrite runs the checks shared by every write before any I/O.
func (c *Coordinator) resolveWrite(key types.DocumentKey, policyID, bindingID, projectID, expected, actor string, replace bool) (*types.DocumentBinding, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if expected == "" {
		return nil, types.Invalid(types.CodeETagRequired, "an expected etag is required; use %q to create", types.AnyETag)
	}
	if actor == "" {
		return nil, types.Invalid(types.CodeInvalidRequest, "actor is required")
	}
	b, err := c.policies.Resolve(policyID, bindingID)
	if err != nil {
		return nil, err
	}
	if err := policy.CheckWriteMode(b, replace); err != nil {
		return nil, err
	}
	if err := policy.CheckKey(b, key, projectID); err != nil {
		return nil, err
	}
	return b, nil
}

func newEnvelope(b *types.DocumentBinding, now time.Time) types.DocumentEnvelope {
	return types.DocumentEnvelope{
		DocID:         uuid.NewString(),
		SchemaID:      b.SchemaID,
		SchemaVersion: b.SchemaVersion,
		CreatedAt:     now,
		Content:       map[string]any{},
	}
}

// writeOp describes one validated mutation of a single document.
type writeOp struct {
	operation      string
	event          string
	key            types.DocumentKey
	binding        *types.DocumentBinding
	actor          string
	reason         string
	evidence       types.Evidence
	expected       string
	idempotencyKey string
	request        any
	ops            []any

	// build produces the new envelope from the current record (nil when
	// absent). Metadata stamping happens afterwards.
	build func(current *types.DocumentRecord, now time.Time) (types.DocumentEnvelope, error)
}

// write runs the shared mutation pipeline: replay check, read, build,
// stamp, validate, conditional upsert, audit, notify.
func (c *Coordinator) write(ctx context.Context, w writeOp) (*types.DocumentRecord, error) {
	var replayID, fingerprint string
	if w.idempotencyKey != "" && c.replay != nil {
		var err error
		fingerprint, err = requestFingerprint(w.operation, w.key, w.request)
		if err != nil {
			return nil, err
		}
		replayID = replayKey(w.key.TenantID, w.key.UserID, w.idempotencyKey)
		unlock, err := c.replay.acquire(ctx, replayID)
		if err != nil {
			return nil, err
		}
		defer unlock()
		rec, err := c.replay.lookup(replayID, fingerprint)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			c.logger.Info("replayed idempotent write",
				"tenant", w.key.TenantID, "user", w.key.UserID,
				"namespace", w.key.Namespace, "path", w.key.Path,
				"etag", rec.ETag)
			return rec, nil
		}
	}

	current, err := c.stores.Documents.Get(ctx, w.key)
	if err != nil {
		c.logFailure(w.operation, err, "key", w.key.String())
		return nil, err
	}
	if err := storage.CheckPrecondition(current, w.expected); err != nil {
		return nil, err
	}

	now := c.nextUpdatedAt(current)
	env, err := w.build(current, now)
	if err != nil {
		return nil, err
	}
	env = env.Touched(w.actor, now)
	if err := policy.CheckEnvelope(w.binding, env); err != nil {
		return nil, err
	}

	rec, err := c.stores.Documents.Upsert(ctx, w.key, env, w.expected)
	if err != nil {
		c.logFailure(w.operation, err, "key", w.key.String())
		return nil, err
	}

	previous := ""
	if current != nil {
		previous = current.ETag
	}
	if err := c.writeAudit(ctx, w, previous, rec.ETag, now); err != nil {
		return nil, err
	}

	if replayID != "" {
		c.replay.remember(replayID, fingerprint, rec)
	}
	c.logger.Info("document written",
		"operation", w.operation,
		"tenant", w.key.TenantID, "user", w.key.UserID,
		"namespace", w.key.Namespace, "path", w.key.Path,
		"etag", rec.ETag)
	c.notify(ctx, types.MutationEvent{
		Type:      w.event,
		TenantID:  w.key.TenantID,
		UserID:    w.key.UserID,
		Namespace: w.key.Namespace,
		Path:      w.key.Path,
		ETag:      rec.ETag,
		Actor:     w.actor,
		Time:      now,
	})
	return rec, nil
}

// writeAudit records a successful mutation. The document is already
// written, so a failure carries the new token for the caller.
func (c *Coordinator) writeAudit(ctx context.Context, w writeOp, previous, next string, now time.Time) error {
	rec := types.AuditRecord{
		ChangeID:           uuid.NewString(),
		Actor:              w.actor,
		TenantID:           w.key.TenantID,
		UserID:             w.key.UserID,
		Namespace:          w.key.Namespace,
		Path:               w.key.Path,
		BindingID:          w.binding.BindingID,
		Operation:          w.operation,
		PreviousETag:       previous,
		NewETag:            next,
		Reason:             w.reason,
		Ops:                w.ops,
		Timestamp:          now,
		EvidenceMessageIDs: w.evidence.MessageIDs,
	}
	if err := c.stores.Audit.Write(ctx, rec); err != nil {
		c.logger.Error("audit write failed after document write",
			"key", w.key.String(), "etag", next, "error", err)
		return types.Internal(types.CodeAuditWriteFailed, "document was written but its audit record was not", err).
			WithDetail("new_etag", next)
	}
	return nil
}

// nextUpdatedAt returns the write timestamp, forced strictly after the
// predecessor's so every write changes the token.
func (c *Coordinator) nextUpdatedAt(current *types.DocumentRecord) time.Time {
	now := c.now()
	if current != nil && !now.After(current.Envelope.UpdatedAt) {
		now = current.Envelope.UpdatedAt.UTC().Add(time.Nanosecond)
	}
	return now
}
