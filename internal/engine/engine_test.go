package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/internal/patch"
	"github.com/scrypster/docmem/internal/policy"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/internal/storage/filestore"
	"github.com/scrypster/docmem/pkg/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.MutationEvent
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, e types.MutationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

// failingAudit rejects every write.
type failingAudit struct {
	storage.AuditStore
}

func (failingAudit) Write(context.Context, types.AuditRecord) error {
	return types.Internal(types.CodeStorage, "disk full", errors.New("ENOSPC"))
}

func testPolicies(t *testing.T) *policy.Registry {
	t.Helper()
	reg, err := policy.New([]types.Policy{{
		PolicyID:  "assistant",
		Retention: types.RetentionRules{EventsDays: 365, AuditDays: 730, SnapshotsDays: 30},
		Bindings: []types.DocumentBinding{
			{
				BindingID: "profile", Namespace: "user", Path: "profile",
				SchemaID: "user.profile", SchemaVersion: "1",
				MaxChars: 4000, MaxArrayItems: 50,
				AllowedPaths: []string{"/preferences"}, ReadPriority: 1,
			},
			{
				BindingID: "projects", Namespace: "user", Path: "projects",
				SchemaID: "projects.index", SchemaVersion: "1",
				MaxChars: 8000, AllowedPaths: []string{"/"}, ReadPriority: 2,
			},
			{
				BindingID: "project_notes", Namespace: "projects", PathTemplate: "{project_id}/notes",
				SchemaID: "project.notes", SchemaVersion: "1",
				MaxChars: 8000, AllowedPaths: []string{"/"}, ReadPriority: 3,
				Compaction: []types.CompactionRule{{Field: "decisions", MaxItems: 3}},
			},
			{
				BindingID: "journal", Namespace: "user", Path: "journal",
				SchemaID: "journal", SchemaVersion: "1",
				MaxChars: 16000, MaxContentChars: 12000,
				AllowedPaths: []string{"/body"}, ReadPriority: 4,
			},
			{
				BindingID: "settings", Namespace: "user", Path: "settings",
				SchemaID: "settings", SchemaVersion: "1",
				MaxChars: 2000, AllowedPaths: []string{"/"}, ReadPriority: 5,
				WriteMode: types.WriteModeReplace,
			},
		},
	}})
	require.NoError(t, err)
	return reg
}

type fixture struct {
	c      *Coordinator
	stores Stores
	clock  *fakeClock
	notes  *recordingNotifier
}

func newFixture(t *testing.T, modify ...func(*Stores)) *fixture {
	t.Helper()
	root := t.TempDir()
	docs, err := filestore.NewDocumentStore(root, storage.NewKeyLocks(), nil)
	require.NoError(t, err)
	events, err := filestore.NewEventStore(root, nil)
	require.NoError(t, err)
	audit, err := filestore.NewAuditStore(root, nil)
	require.NoError(t, err)
	snaps, err := filestore.NewSnapshotStore(root, nil)
	require.NoError(t, err)

	stores := Stores{Documents: docs, Events: events, Audit: audit, Snapshots: snaps}
	for _, m := range modify {
		m(&stores)
	}

	f := &fixture{stores: stores, clock: &fakeClock{now: base}, notes: &recordingNotifier{}}
	cfg := DefaultConfig()
	cfg.IdempotencyCacheSize = 100
	cfg.Clock = f.clock.Now
	cfg.Notifier = f.notes
	f.c, err = NewCoordinator(stores, testPolicies(t), cfg)
	require.NoError(t, err)
	t.Cleanup(f.c.Close)
	return f
}

func key(namespace, path string) types.DocumentKey {
	return types.DocumentKey{TenantID: "t1", UserID: "u1", Namespace: namespace, Path: path}
}

func patchReq(bindingID, expected string, ops ...patch.Op) PatchRequest {
	return PatchRequest{
		PolicyID:     "assistant",
		BindingID:    bindingID,
		Ops:          ops,
		Reason:       "test",
		ExpectedETag: expected,
		Actor:        "agent:test",
	}
}

func add(path string, value any) patch.Op {
	return patch.Op{Op: patch.OpAdd, Path: path, Value: value}
}

// mustPatch applies ops through binding and returns the new record.
func (f *fixture) mustPatch(t *testing.T, k types.DocumentKey, bindingID, expected string, ops ...patch.Op) *types.DocumentRecord {
	t.Helper()
	rec, err := f.c.PatchDocument(context.Background(), k, patchReq(bindingID, expected, ops...))
	require.NoError(t, err)
	return rec
}

func requireCode(t *testing.T, err error, kind error, code string) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	require.Equal(t, code, types.CodeOf(err), err.Error())
}
