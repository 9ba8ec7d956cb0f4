package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/pkg/types"
)

// seedProjects writes a projects index plus notes for two projects.
func seedProjects(t *testing.T, f *fixture) {
	t.Helper()
	f.mustPatch(t, key("user", "projects"), "projects", types.AnyETag,
		add("/projects_index", []any{
			map[string]any{"project_id": "apollo", "aliases": []any{"Apollo", "moonshot"}, "keywords": []any{"rocket", "launch"}},
			map[string]any{"project_id": "zeus", "aliases": []any{"zeus"}, "keywords": []any{"billing"}},
		}))
	f.mustPatch(t, key("projects", "apollo/notes"), "project_notes", types.AnyETag, add("/decisions", []any{"use kerosene"}))
	f.mustPatch(t, key("projects", "zeus/notes"), "project_notes", types.AnyETag, add("/decisions", []any{"monthly invoices"}))
}

func bindingIDs(docs []ContextDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.BindingID
	}
	return out
}

func TestContextRoutesHintToProject(t *testing.T) {
	f := newFixture(t)
	seedProjects(t, f)

	res, err := f.c.AssembleContext(context.Background(), ContextRequest{
		TenantID: "t1", UserID: "u1", PolicyID: "assistant",
		Hint: "how is the apollo rocket doing",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Routing)
	assert.Equal(t, "apollo", res.Routing.ProjectID)
	assert.Equal(t, RouteAliasMatch, res.Routing.Reason)
	assert.InDelta(t, 2.0/3.0, res.Routing.Score, 1e-9)

	assert.Equal(t, []string{"projects", "project_notes"}, bindingIDs(res.Documents))
	assert.Equal(t, "apollo/notes", res.Documents[1].Path)
	assert.Empty(t, res.Dropped)
}

func TestContextRoutingOutcomes(t *testing.T) {
	f := newFixture(t)
	seedProjects(t, f)

	tests := []struct {
		name    string
		req     ContextRequest
		reason  string
		project string
	}{
		{"no hint", ContextRequest{}, RouteNoHint, ""},
		{"no match", ContextRequest{Hint: "weather tomorrow"}, RouteNoMatch, ""},
		{"explicit wins over hint", ContextRequest{Hint: "apollo rocket", ProjectID: "zeus"}, RouteExplicit, "zeus"},
		{"case insensitive alias", ContextRequest{Hint: "ZEUS"}, RouteAliasMatch, "zeus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.TenantID, req.UserID, req.PolicyID = "t1", "u1", "assistant"
			res, err := f.c.AssembleContext(context.Background(), req)
			require.NoError(t, err)
			require.NotNil(t, res.Routing)
			assert.Equal(t, tt.reason, res.Routing.Reason)
			assert.Equal(t, tt.project, res.Routing.ProjectID)
			if tt.project == "" {
				assert.NotContains(t, bindingIDs(res.Documents), "project_notes")
			} else {
				assert.Contains(t, bindingIDs(res.Documents), "project_notes")
			}
		})
	}
}

func TestContextRespectsCharBudget(t *testing.T) {
	f := newFixture(t)
	profile := f.mustPatch(t, key("user", "profile"), "profile", types.AnyETag, add("/preferences", []any{"short answers"}))
	f.mustPatch(t, key("user", "projects"), "projects", types.AnyETag, add("/projects_index", []any{}))
	f.mustPatch(t, key("user", "journal"), "journal", types.AnyETag, add("/body", "a long day"))

	size, err := docjson.Chars(profile.Envelope)
	require.NoError(t, err)

	req := ContextRequest{TenantID: "t1", UserID: "u1", PolicyID: "assistant", MaxCharsTotal: size + 10}
	res, err := f.c.AssembleContext(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"profile"}, bindingIDs(res.Documents))
	assert.NotEmpty(t, res.Dropped)
	assert.Contains(t, res.Dropped, "projects")
	assert.Contains(t, res.Dropped, "journal")
	assert.LessOrEqual(t, res.TotalChars, req.MaxCharsTotal)
	assert.Equal(t, size, res.TotalChars)

	again, err := f.c.AssembleContext(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, res, again, "assembly is deterministic")
}

func TestContextRespectsDocBudget(t *testing.T) {
	f := newFixture(t)
	f.mustPatch(t, key("user", "profile"), "profile", types.AnyETag, add("/preferences", []any{}))
	f.mustPatch(t, key("user", "journal"), "journal", types.AnyETag, add("/body", "x"))

	res, err := f.c.AssembleContext(context.Background(), ContextRequest{
		TenantID: "t1", UserID: "u1", PolicyID: "assistant", MaxDocs: 1,
	})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)
	assert.Equal(t, 1, res.MaxDocs)
	assert.Equal(t, DefaultMaxCharsTotal, res.MaxCharsTotal)
	assert.Contains(t, res.Dropped, "journal")
}

func TestContextExplicitRefs(t *testing.T) {
	f := newFixture(t)
	f.mustPatch(t, key("user", "profile"), "profile", types.AnyETag, add("/preferences", []any{}))
	f.mustPatch(t, key("user", "journal"), "journal", types.AnyETag, add("/body", "x"))

	res, err := f.c.AssembleContext(context.Background(), ContextRequest{
		TenantID: "t1", UserID: "u1", PolicyID: "assistant",
		Refs: []string{"user/journal", "user/nothing-here", "user/profile"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Routing)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "journal", res.Documents[0].Path)
	assert.Equal(t, "profile", res.Documents[1].Path)
	assert.Empty(t, res.Documents[0].BindingID)

	res, err = f.c.AssembleContext(context.Background(), ContextRequest{
		TenantID: "t1", UserID: "u1", PolicyID: "assistant",
		Refs: []string{"user/journal", "user/profile"}, MaxDocs: 1,
	})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)
	assert.Equal(t, []string{"user/profile"}, res.Dropped)
}

func TestContextRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.AssembleContext(ctx, ContextRequest{TenantID: "t1", UserID: "u1", PolicyID: "assistant", Refs: []string{"profile"}})
	requireCode(t, err, types.ErrValidation, types.CodeInvalidRequest)

	_, err = f.c.AssembleContext(ctx, ContextRequest{TenantID: "t1", UserID: "u1", PolicyID: "missing"})
	requireCode(t, err, types.ErrNotFound, types.CodePolicyNotFound)

	_, err = f.c.AssembleContext(ctx, ContextRequest{TenantID: "../t1", UserID: "u1", PolicyID: "assistant"})
	requireCode(t, err, types.ErrValidation, types.CodeInvalidKey)
}

func TestContextEmptyScope(t *testing.T) {
	f := newFixture(t)
	res, err := f.c.AssembleContext(context.Background(), ContextRequest{TenantID: "t1", UserID: "u1", PolicyID: "assistant"})
	require.NoError(t, err)
	assert.NotNil(t, res.Documents)
	assert.Empty(t, res.Documents)
	assert.Empty(t, res.Dropped)
	assert.Zero(t, res.TotalChars)
}
