package engine

import (
	"context"
	"strconv"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/internal/policy"
	"github.com/scrypster/docmem/pkg/types"
)

// Compaction outcomes reported in CompactionResult.Reason.
const (
	compactNoRules   = "no_compaction_rules"
	compactUnchanged = "within_limits"
)

// Compact trims the array fields named by the binding's compaction rules to
// their most recent max_items entries. The document is written back, with
// its current token, only if something changed and the result still passes
// the binding's checks; otherwise the pass is abandoned.
func (c *Coordinator) Compact(ctx context.Context, key types.DocumentKey, policyID, bindingID string) (*CompactionResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	b, err := c.policies.Resolve(policyID, bindingID)
	if err != nil {
		return nil, err
	}
	if err := policy.CheckKey(b, key, ""); err != nil {
		return nil, err
	}
	if len(b.Compaction) == 0 {
		return &CompactionResult{Reason: compactNoRules}, nil
	}

	current, err := c.GetDocument(ctx, key)
	if err != nil {
		return nil, err
	}

	content := docjson.DeepCopy(current.Envelope.Content)
	trimmed := make(map[string]int)
	var ops []any
	for _, rule := range b.Compaction {
		segments := docjson.SplitPath(rule.Field)
		arr, ok := docjson.Lookup(content, segments)
		if !ok {
			continue
		}
		items, ok := arr.([]any)
		if !ok || len(items) <= rule.MaxItems {
			continue
		}
		removed := len(items) - rule.MaxItems
		kept := append([]any(nil), items[removed:]...)
		if !replaceAt(content, segments, kept) {
			continue
		}
		trimmed[rule.Field] = removed
		ops = append(ops, map[string]any{
			"field":     rule.Field,
			"max_items": rule.MaxItems,
			"removed":   removed,
		})
	}
	if len(trimmed) == 0 {
		return &CompactionResult{Reason: compactUnchanged, ETag: current.ETag}, nil
	}

	now := c.nextUpdatedAt(current)
	env := current.Envelope.WithContent(content).Touched(CompactionActor, now)
	if err := policy.CheckEnvelope(b, env); err != nil {
		if types.KindOf(err) == types.KindInternal {
			return nil, err
		}
		c.logger.Info("compaction abandoned",
			"tenant", key.TenantID, "user", key.UserID,
			"namespace", key.Namespace, "path", key.Path,
			"code", types.CodeOf(err))
		return &CompactionResult{Abandoned: true, Reason: types.CodeOf(err), ETag: current.ETag}, nil
	}

	rec, err := c.stores.Documents.Upsert(ctx, key, env, current.ETag)
	if err != nil {
		c.logFailure("compact", err, "key", key.String())
		return nil, err
	}
	w := writeOp{
		operation: types.AuditOpCompact,
		key:       key,
		binding:   b,
		actor:     CompactionActor,
		reason:    "compaction",
		ops:       ops,
	}
	if err := c.writeAudit(ctx, w, current.ETag, rec.ETag, now); err != nil {
		return nil, err
	}

	c.logger.Info("document compacted",
		"tenant", key.TenantID, "user", key.UserID,
		"namespace", key.Namespace, "path", key.Path,
		"etag", rec.ETag)
	c.notify(ctx, types.MutationEvent{
		Type:      types.EventDocumentCompacted,
		TenantID:  key.TenantID,
		UserID:    key.UserID,
		Namespace: key.Namespace,
		Path:      key.Path,
		ETag:      rec.ETag,
		Actor:     CompactionActor,
		Time:      now,
		Counts:    trimmed,
	})
	return &CompactionResult{Changed: true, ETag: rec.ETag, Trimmed: trimmed}, nil
}

// replaceAt sets the node at segments inside root, which must already
// exist. root is modified in place.
func replaceAt(root any, segments []string, value any) bool {
	if len(segments) == 0 {
		return false
	}
	parent, ok := docjson.Lookup(root, segments[:len(segments)-1])
	if !ok {
		return false
	}
	last := segments[len(segments)-1]
	switch node := parent.(type) {
	case map[string]any:
		node[last] = value
		return true
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(node) {
			return false
		}
		node[i] = value
		return true
	}
	return false
}
