// Package storagetest holds the behavioural contract every storage provider
// must satisfy. Provider packages call these helpers from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// Base is a fixed instant used by the contract fixtures.
var Base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Envelope builds an envelope holding content decoded from JSON.
func Envelope(t *testing.T, content string, updatedAt time.Time) types.DocumentEnvelope {
	t.Helper()
	v, err := docjson.Decode([]byte(content))
	require.NoError(t, err)
	return types.DocumentEnvelope{
		DocID:         "doc-1",
		SchemaID:      "test.doc",
		SchemaVersion: "1",
		CreatedAt:     Base,
		UpdatedAt:     updatedAt,
		UpdatedBy:     "tester",
		Content:       v,
	}
}

// Key builds a document key in scope t1/u1.
func Key(namespace, path string) types.DocumentKey {
	return types.DocumentKey{TenantID: "t1", UserID: "u1", Namespace: namespace, Path: path}
}

func latestETag(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrPreconditionFailed)
	e, ok := types.AsError(err)
	require.True(t, ok)
	tag, _ := e.Detail("latest_etag").(string)
	return tag
}

// RunDocumentStore exercises a DocumentStore built fresh by newStore.
func RunDocumentStore(t *testing.T, newStore func(t *testing.T) storage.DocumentStore) {
	ctx := context.Background()

	t.Run("get missing returns nil", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.Get(ctx, Key("user", "profile"))
		require.NoError(t, err)
		assert.Nil(t, rec)

		ok, err := s.Exists(ctx, Key("user", "profile"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("get after upsert round trips", func(t *testing.T) {
		s := newStore(t)
		key := Key("user", "profile")
		written, err := s.Upsert(ctx, key, Envelope(t, `{"name":"ann","n":1.50,"tags":["a"]}`, Base), types.AnyETag)
		require.NoError(t, err)
		require.NotEmpty(t, written.ETag)

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, written.ETag, got.ETag)
		assert.Equal(t, written.Envelope, got.Envelope)

		want, err := docjson.Marshal(Envelope(t, `{"name":"ann","n":1.50,"tags":["a"]}`, Base))
		require.NoError(t, err)
		have, err := docjson.Marshal(got.Envelope)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(have))

		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("precondition failures report the latest etag", func(t *testing.T) {
		s := newStore(t)
		key := Key("user", "profile")

		_, err := s.Upsert(ctx, key, Envelope(t, `{}`, Base), "bogus")
		assert.Equal(t, "", latestETag(t, err))
		assert.Equal(t, types.CodeETagMismatch, types.CodeOf(err))

		first, err := s.Upsert(ctx, key, Envelope(t, `{}`, Base), types.AnyETag)
		require.NoError(t, err)

		_, err = s.Upsert(ctx, key, Envelope(t, `{"a":1}`, Base.Add(time.Second)), types.AnyETag)
		assert.Equal(t, first.ETag, latestETag(t, err))

		_, err = s.Upsert(ctx, key, Envelope(t, `{"a":1}`, Base.Add(time.Second)), "stale")
		assert.Equal(t, first.ETag, latestETag(t, err))

		second, err := s.Upsert(ctx, key, Envelope(t, `{"a":1}`, Base.Add(time.Second)), first.ETag)
		require.NoError(t, err)
		assert.NotEqual(t, first.ETag, second.ETag)
	})

	t.Run("identical envelopes have identical etags", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Upsert(ctx, Key("ns", "a"), Envelope(t, `{"x":[1,2]}`, Base), types.AnyETag)
		require.NoError(t, err)
		b, err := s.Upsert(ctx, Key("ns", "b"), Envelope(t, `{"x":[1,2]}`, Base), types.AnyETag)
		require.NoError(t, err)
		assert.Equal(t, a.ETag, b.ETag)
	})

	t.Run("concurrent writers with the same token", func(t *testing.T) {
		s := newStore(t)
		key := Key("user", "profile")
		base, err := s.Upsert(ctx, key, Envelope(t, `{}`, Base), types.AnyETag)
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make([]*types.DocumentRecord, writers)
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				env := Envelope(t, fmt.Sprintf(`{"writer":%d}`, i), Base.Add(time.Duration(i+1)*time.Second))
				results[i], errs[i] = s.Upsert(ctx, key, env, base.ETag)
			}(i)
		}
		wg.Wait()

		winners := 0
		var winner string
		for i := range errs {
			if errs[i] == nil {
				winners++
				winner = results[i].ETag
			}
		}
		require.Equal(t, 1, winners)
		for i := range errs {
			if errs[i] != nil {
				assert.Equal(t, winner, latestETag(t, errs[i]))
			}
		}
	})

	t.Run("invalid keys are rejected", func(t *testing.T) {
		s := newStore(t)
		for _, key := range []types.DocumentKey{
			{TenantID: "t1", UserID: "u1", Namespace: "ns", Path: "../escape"},
			{TenantID: "t1", UserID: "", Namespace: "ns", Path: "a"},
			{TenantID: "t1", UserID: "u1", Namespace: "a/b", Path: "a"},
		} {
			_, err := s.Get(ctx, key)
			assert.ErrorIs(t, err, types.ErrValidation, key.String())
			_, err = s.Upsert(ctx, key, Envelope(t, `{}`, Base), types.AnyETag)
			assert.ErrorIs(t, err, types.ErrValidation, key.String())
		}
	})

	t.Run("list filters sorts and limits", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []types.DocumentKey{
			Key("user", "profile"),
			Key("projects", "beta/notes"),
			Key("projects", "alpha/notes"),
			Key("projects", "alpha/log"),
			{TenantID: "t1", UserID: "u2", Namespace: "user", Path: "profile"},
		} {
			_, err := s.Upsert(ctx, k, Envelope(t, `{}`, Base), types.AnyETag)
			require.NoError(t, err)
		}

		items, err := s.List(ctx, "t1", "u1", storage.ListOptions{})
		require.NoError(t, err)
		refs := make([]string, len(items))
		for i, it := range items {
			refs[i] = it.Namespace + "/" + it.Path
			assert.NotEmpty(t, it.ETag)
			assert.Equal(t, "test.doc", it.SchemaID)
		}
		assert.Equal(t, []string{"projects/alpha/log", "projects/alpha/notes", "projects/beta/notes", "user/profile"}, refs)

		items, err = s.List(ctx, "t1", "u1", storage.ListOptions{Pattern: "projects/*/notes"})
		require.NoError(t, err)
		assert.Len(t, items, 2)

		items, err = s.List(ctx, "t1", "u1", storage.ListOptions{Prefix: "projects/alpha"})
		require.NoError(t, err)
		assert.Len(t, items, 2)

		items, err = s.List(ctx, "t1", "u1", storage.ListOptions{Namespace: "user"})
		require.NoError(t, err)
		assert.Len(t, items, 1)

		items, err = s.List(ctx, "t1", "u1", storage.ListOptions{Limit: 1})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "alpha/log", items[0].Path)

		items, err = s.List(ctx, "t9", "u9", storage.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("delete scope", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []types.DocumentKey{Key("user", "profile"), Key("projects", "alpha/notes")} {
			_, err := s.Upsert(ctx, k, Envelope(t, `{}`, Base), types.AnyETag)
			require.NoError(t, err)
		}
		other := types.DocumentKey{TenantID: "t1", UserID: "u2", Namespace: "user", Path: "profile"}
		_, err := s.Upsert(ctx, other, Envelope(t, `{}`, Base), types.AnyETag)
		require.NoError(t, err)

		n, err := s.DeleteScope(ctx, "t1", "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rec, err := s.Get(ctx, Key("user", "profile"))
		require.NoError(t, err)
		assert.Nil(t, rec)

		n, err = s.DeleteScope(ctx, "t1", "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		rec, err = s.Get(ctx, other)
		require.NoError(t, err)
		assert.NotNil(t, rec, "other scopes are untouched")
	})
}

func digest(id string, ts time.Time, text string, keywords ...string) types.EventDigest {
	return types.EventDigest{
		EventID: id, TenantID: "t1", UserID: "u1", ServiceID: "chat", SourceType: "conversation",
		Timestamp: ts, Digest: text, Keywords: keywords, ProjectIDs: []string{"p1"},
	}
}

// RunEventStore exercises an EventStore built fresh by newStore.
func RunEventStore(t *testing.T, newStore func(t *testing.T) storage.EventStore) {
	ctx := context.Background()

	t.Run("write query and overwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Write(ctx, digest("e1", Base, "renamed the billing service", "billing")))
		require.NoError(t, s.Write(ctx, digest("e2", Base.Add(time.Minute), "lunch plans")))

		hits, err := s.Query(ctx, "t1", "u1", storage.EventQuery{Text: "billing"})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "e1", hits[0].Event.EventID)
		assert.Equal(t, 3.0, hits[0].Score)
		assert.True(t, hits[0].Event.Timestamp.Equal(Base))

		require.NoError(t, s.Write(ctx, digest("e1", Base, "rewritten digest")))
		hits, err = s.Query(ctx, "t1", "u1", storage.EventQuery{Text: "billing"})
		require.NoError(t, err)
		assert.Empty(t, hits)

		hits, err = s.Query(ctx, "t1", "u1", storage.EventQuery{})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "e2", hits[0].Event.EventID, "recency orders unscored results")

		hits, err = s.Query(ctx, "t1", "u2", storage.EventQuery{})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("delete before is strict", func(t *testing.T) {
		s := newStore(t)
		cutoff := Base
		require.NoError(t, s.Write(ctx, digest("old", cutoff.Add(-time.Nanosecond), "old")))
		require.NoError(t, s.Write(ctx, digest("edge", cutoff, "edge")))
		require.NoError(t, s.Write(ctx, digest("new", cutoff.Add(time.Hour), "new")))

		n, err := s.DeleteBefore(ctx, "t1", "u1", cutoff)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		hits, err := s.Query(ctx, "t1", "u1", storage.EventQuery{})
		require.NoError(t, err)
		assert.Len(t, hits, 2)

		n, err = s.DeleteBefore(ctx, "t1", "u1", cutoff)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("delete scope", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Write(ctx, digest("e1", Base, "a")))
		require.NoError(t, s.Write(ctx, digest("e2", Base, "b")))

		requireScopes(t, s, []storage.Scope{{TenantID: "t1", UserID: "u1"}})

		n, err := s.DeleteScope(ctx, "t1", "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.DeleteScope(ctx, "t1", "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		requireScopes(t, s, nil)
	})
}

// requireScopes asserts the scopes a store reports.
func requireScopes(t *testing.T, store any, want []storage.Scope) {
	t.Helper()
	lister, ok := store.(storage.ScopeLister)
	require.True(t, ok, "%T does not list scopes", store)
	got, err := lister.Scopes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func auditRecord(id string, ts time.Time) types.AuditRecord {
	return types.AuditRecord{
		ChangeID: id, Actor: "agent", TenantID: "t1", UserID: "u1",
		Namespace: "user", Path: "profile", Operation: types.AuditOpPatch,
		PreviousETag: "a", NewETag: "b", Reason: "test", Timestamp: ts,
		Ops: []any{map[string]any{"op": "add", "path": "/x"}},
	}
}

// RunAuditStore exercises an AuditStore built fresh by newStore.
func RunAuditStore(t *testing.T, newStore func(t *testing.T) storage.AuditStore) {
	ctx := context.Background()

	t.Run("list newest first with limit", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Write(ctx, auditRecord(fmt.Sprintf("c%d", i), Base.Add(time.Duration(i)*time.Minute))))
		}
		recs, err := s.List(ctx, "t1", "u1", 3)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "c4", recs[0].ChangeID)
		assert.Equal(t, "c2", recs[2].ChangeID)
		assert.Equal(t, "test", recs[0].Reason)
		assert.Len(t, recs[0].Ops, 1)
	})

	t.Run("delete before and scope", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Write(ctx, auditRecord("old", Base.Add(-time.Hour))))
		require.NoError(t, s.Write(ctx, auditRecord("edge", Base)))

		n, err := s.DeleteBefore(ctx, "t1", "u1", Base)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		requireScopes(t, s, []storage.Scope{{TenantID: "t1", UserID: "u1"}})

		n, err = s.DeleteScope(ctx, "t1", "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		requireScopes(t, s, nil)

		recs, err := s.List(ctx, "t1", "u1", 0)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}
