package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/internal/storage/storagetest"
	"github.com/scrypster/docmem/pkg/types"
)

func TestDocumentStoreContract(t *testing.T) {
	storagetest.RunDocumentStore(t, func(t *testing.T) storage.DocumentStore {
		s, err := NewDocumentStore(t.TempDir(), storage.NewKeyLocks(), nil)
		require.NoError(t, err)
		return s
	})
}

func TestEventStoreContract(t *testing.T) {
	storagetest.RunEventStore(t, func(t *testing.T) storage.EventStore {
		s, err := NewEventStore(t.TempDir(), nil)
		require.NoError(t, err)
		return s
	})
}

func TestAuditStoreContract(t *testing.T) {
	storagetest.RunAuditStore(t, func(t *testing.T) storage.AuditStore {
		s, err := NewAuditStore(t.TempDir(), nil)
		require.NoError(t, err)
		return s
	})
}

func TestDocumentLayoutOnDisk(t *testing.T) {
	root := t.TempDir()
	s, err := NewDocumentStore(root, nil, nil)
	require.NoError(t, err)

	key := storagetest.Key("projects", "alpha/notes")
	_, err = s.Upsert(context.Background(), key, storagetest.Envelope(t, `{}`, storagetest.Base), types.AnyETag)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "documents", "t1", "u1", "projects", "alpha", "notes.json"))
	assert.NoError(t, err)

	// A leftover temp file from a crashed writer is not a document.
	stray := filepath.Join(root, "documents", "t1", "u1", "projects", tempFilePrefix+"123")
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o644))
	items, err := s.List(context.Background(), "t1", "u1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCorruptDocumentIsInternal(t *testing.T) {
	root := t.TempDir()
	s, err := NewDocumentStore(root, nil, nil)
	require.NoError(t, err)

	path := filepath.Join(root, "documents", "t1", "u1", "user", "profile.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"doc_id":`), 0o644))

	_, err = s.Get(context.Background(), storagetest.Key("user", "profile"))
	assert.ErrorIs(t, err, types.ErrInternal)
	assert.Equal(t, types.CodeCorruptState, types.CodeOf(err))
	assert.NotErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteScopeLeavesNoTrash(t *testing.T) {
	root := t.TempDir()
	s, err := NewDocumentStore(root, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Upsert(ctx, storagetest.Key("user", "profile"), storagetest.Envelope(t, `{}`, storagetest.Base), types.AnyETag)
	require.NoError(t, err)

	scopes, err := s.Scopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.Scope{{TenantID: "t1", UserID: "u1"}}, scopes)

	n, err := s.DeleteScope(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := os.ReadDir(filepath.Join(root, trashDir))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(filepath.Join(root, "documents", "t1", "u1"))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, s.PurgeTrash())
}

func testSnapshot(id, conversation string) types.Snapshot {
	return types.Snapshot{
		SnapshotID:     id,
		TenantID:       "t1",
		UserID:         "u1",
		ConversationID: conversation,
		CreatedAt:      storagetest.Base,
		Messages: []types.SnapshotMessage{
			{MessageID: "m1", Role: "user", Text: "hello", Timestamp: storagetest.Base},
			{MessageID: "m2", Role: "assistant", Text: "hi there", Timestamp: storagetest.Base.Add(time.Second)},
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := NewSnapshotStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	snap := testSnapshot("s1", "conv-1")
	info, err := s.Write(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, "s1", info.SnapshotID)
	assert.Positive(t, info.Size)

	_, err = os.Stat(filepath.Join(root, "snapshots", "t1", "u1", "conv-1", "s1.cbor.zst"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "t1", "u1", "conv-1", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.Messages[1].Text, got.Messages[1].Text)
	assert.True(t, got.Messages[1].Timestamp.Equal(snap.Messages[1].Timestamp))

	missing, err := s.Get(ctx, "t1", "u1", "conv-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.Write(ctx, testSnapshot("s2", "../up"))
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSnapshotRetentionUsesModTime(t *testing.T) {
	root := t.TempDir()
	s, err := NewSnapshotStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Write(ctx, testSnapshot("old", "conv-1"))
	require.NoError(t, err)
	_, err = s.Write(ctx, testSnapshot("new", "conv-2"))
	require.NoError(t, err)

	cutoff := time.Now().Add(-24 * time.Hour)
	oldPath := filepath.Join(root, "snapshots", "t1", "u1", "conv-1", "old.cbor.zst")
	require.NoError(t, os.Chtimes(oldPath, cutoff.Add(-time.Hour), cutoff.Add(-time.Hour)))

	list, err := s.List(ctx, "t1", "u1", "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].SnapshotID)

	n, err := s.DeleteBefore(ctx, "t1", "u1", cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err = s.List(ctx, "t1", "u1", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err = s.DeleteScope(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteBeforeStopsOnCancel(t *testing.T) {
	s, err := NewEventStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Write(ctx, types.EventDigest{EventID: "e1", TenantID: "t1", UserID: "u1", Timestamp: storagetest.Base}))
	cancel()

	_, err = s.DeleteBefore(ctx, "t1", "u1", storagetest.Base.Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)

	n, err := s.DeleteBefore(context.Background(), "t1", "u1", storagetest.Base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a rerun finishes the sweep")
}
