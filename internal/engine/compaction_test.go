package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/pkg/types"
)

func TestCompactTrimsToNewestItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key("projects", "apollo/notes")
	before := f.mustPatch(t, k, "project_notes", types.AnyETag,
		add("/decisions", []any{"d1", "d2", "d3", "d4", "d5"}))

	res, err := f.c.Compact(ctx, k, "assistant", "project_notes")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.False(t, res.Abandoned)
	assert.Equal(t, map[string]int{"decisions": 2}, res.Trimmed)
	assert.NotEqual(t, before.ETag, res.ETag)

	got, err := f.c.GetDocument(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, res.ETag, got.ETag)
	assert.Equal(t, []any{"d3", "d4", "d5"}, got.Envelope.Content.(map[string]any)["decisions"])
	assert.Equal(t, CompactionActor, got.Envelope.UpdatedBy)
	assert.Equal(t, before.Envelope.DocID, got.Envelope.DocID)

	audit, err := f.c.ListAudit(ctx, "t1", "u1", 1)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, types.AuditOpCompact, audit[0].Operation)
	assert.Equal(t, CompactionActor, audit[0].Actor)
	assert.Equal(t, before.ETag, audit[0].PreviousETag)
	assert.Contains(t, f.notes.kinds(), types.EventDocumentCompacted)

	again, err := f.c.Compact(ctx, k, "assistant", "project_notes")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, compactUnchanged, again.Reason)
	assert.Equal(t, res.ETag, again.ETag)
}

func TestCompactWithoutRules(t *testing.T) {
	f := newFixture(t)
	f.mustPatch(t, key("user", "profile"), "profile", types.AnyETag, add("/preferences", []any{}))

	res, err := f.c.Compact(context.Background(), key("user", "profile"), "assistant", "profile")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, compactNoRules, res.Reason)
}

func TestCompactMissingDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.Compact(context.Background(), key("projects", "apollo/notes"), "assistant", "project_notes")
	requireCode(t, err, types.ErrNotFound, types.CodeDocumentNotFound)

	_, err = f.c.Compact(context.Background(), key("user", "profile"), "assistant", "project_notes")
	requireCode(t, err, types.ErrValidation, types.CodeBindingMismatch)
}

func TestCompactAbandonsWhenStillInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key("projects", "apollo/notes")

	// Written below the coordinator, so no binding limit applied.
	env := types.DocumentEnvelope{
		DocID: "d", SchemaID: "project.notes", SchemaVersion: "1",
		CreatedAt: base, UpdatedAt: base, UpdatedBy: "import",
		Content: map[string]any{
			"summary":   strings.Repeat("x", 9000),
			"decisions": []any{"a", "b", "c", "d"},
		},
	}
	stored, err := f.stores.Documents.Upsert(ctx, k, env, types.AnyETag)
	require.NoError(t, err)

	res, err := f.c.Compact(ctx, k, "assistant", "project_notes")
	require.NoError(t, err)
	assert.True(t, res.Abandoned)
	assert.False(t, res.Changed)
	assert.Equal(t, types.CodeDocumentSizeExceeded, res.Reason)
	assert.Equal(t, stored.ETag, res.ETag)

	got, err := f.c.GetDocument(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, stored.ETag, got.ETag, "an abandoned pass writes nothing")
}

func TestReplaceAt(t *testing.T) {
	root := map[string]any{"a": []any{map[string]any{"b": 1}}}
	assert.True(t, replaceAt(root, []string{"a", "0", "b"}, 2))
	assert.Equal(t, 2, root["a"].([]any)[0].(map[string]any)["b"])
	assert.False(t, replaceAt(root, []string{"a", "3"}, 1))
	assert.False(t, replaceAt(root, []string{"missing", "x"}, 1))
	assert.False(t, replaceAt(root, nil, 1))
}
