package engine

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// routeScoreScale is the raw score that maps to a routing confidence of 1.
const routeScoreScale = 3.0

// AssembleContext selects the documents to show for a conversation turn
// under a document-count and character budget. With explicit refs the refs
// are read in order; otherwise the policy's bindings are walked by read
// priority after routing the hint to a project. Identical input always
// yields the same result.
func (c *Coordinator) AssembleContext(ctx context.Context, req ContextRequest) (*ContextResult, error) {
	if err := types.ValidateScope(req.TenantID, req.UserID); err != nil {
		return nil, err
	}
	pol, err := c.policies.Policy(req.PolicyID)
	if err != nil {
		return nil, err
	}

	b := newBudget(req, pol)
	res := &ContextResult{
		Documents:     []ContextDocument{},
		Dropped:       []string{},
		MaxDocs:       b.maxDocs,
		MaxCharsTotal: b.maxChars,
	}

	if len(req.Refs) > 0 {
		err = c.assembleRefs(ctx, req, b, res)
	} else {
		err = c.assembleBindings(ctx, req, pol, b, res)
	}
	if err != nil {
		c.logFailure("assemble context", err, "tenant", req.TenantID, "user", req.UserID)
		return nil, err
	}
	res.TotalChars = b.used
	return res, nil
}

// budget tracks the greedy selection. Once exhausted it stays exhausted.
type budget struct {
	maxDocs   int
	maxChars  int
	docs      int
	used      int
	exhausted bool
}

func newBudget(req ContextRequest, pol *types.Policy) *budget {
	b := &budget{maxDocs: DefaultMaxDocs, maxChars: DefaultMaxCharsTotal}
	switch {
	case req.MaxDocs > 0:
		b.maxDocs = req.MaxDocs
	case pol.Context.MaxDocs > 0:
		b.maxDocs = pol.Context.MaxDocs
	}
	switch {
	case req.MaxCharsTotal > 0:
		b.maxChars = req.MaxCharsTotal
	case pol.Context.MaxCharsTotal > 0:
		b.maxChars = pol.Context.MaxCharsTotal
	}
	return b
}

// admit reports whether a document of size chars fits, and takes it if so.
func (b *budget) admit(chars int) bool {
	if b.exhausted || b.docs >= b.maxDocs || b.used+chars > b.maxChars {
		b.exhausted = true
		return false
	}
	b.docs++
	b.used += chars
	if b.docs == b.maxDocs {
		b.exhausted = true
	}
	return true
}

func contextDocument(bindingID string, key types.DocumentKey, rec *types.DocumentRecord) (ContextDocument, error) {
	chars, err := docjson.Chars(rec.Envelope)
	if err != nil {
		return ContextDocument{}, types.Internal(types.CodeSerialization, "measure envelope", err)
	}
	return ContextDocument{
		BindingID: bindingID,
		Namespace: key.Namespace,
		Path:      key.Path,
		ETag:      rec.ETag,
		Chars:     chars,
		Envelope:  rec.Envelope,
	}, nil
}

func (c *Coordinator) assembleRefs(ctx context.Context, req ContextRequest, b *budget, res *ContextResult) error {
	for _, ref := range req.Refs {
		namespace, path, _ := strings.Cut(ref, "/")
		key := types.DocumentKey{TenantID: req.TenantID, UserID: req.UserID, Namespace: namespace, Path: path}
		if err := key.Validate(); err != nil {
			return types.Invalid(types.CodeInvalidRequest, "invalid ref %q", ref).WithDetail("ref", ref)
		}
		if b.exhausted {
			res.Dropped = append(res.Dropped, ref)
			continue
		}
		rec, err := c.stores.Documents.Get(ctx, key)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		doc, err := contextDocument("", key, rec)
		if err != nil {
			return err
		}
		if !b.admit(doc.Chars) {
			res.Dropped = append(res.Dropped, ref)
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	return nil
}

func (c *Coordinator) assembleBindings(ctx context.Context, req ContextRequest, pol *types.Policy, b *budget, res *ContextResult) error {
	routing, err := c.route(ctx, req, pol)
	if err != nil {
		return err
	}
	res.Routing = routing

	bindings := make([]*types.DocumentBinding, len(pol.Bindings))
	for i := range pol.Bindings {
		bindings[i] = &pol.Bindings[i]
	}
	sort.SliceStable(bindings, func(i, j int) bool {
		return bindings[i].ReadPriority < bindings[j].ReadPriority
	})

	for _, bnd := range bindings {
		path, ok := bnd.ResolvePath(routing.ProjectID)
		if !ok {
			continue
		}
		if b.exhausted {
			res.Dropped = append(res.Dropped, bnd.BindingID)
			continue
		}
		key := types.DocumentKey{TenantID: req.TenantID, UserID: req.UserID, Namespace: bnd.Namespace, Path: path}
		rec, err := c.stores.Documents.Get(ctx, key)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		doc, err := contextDocument(bnd.BindingID, key, rec)
		if err != nil {
			return err
		}
		if !b.admit(doc.Chars) {
			res.Dropped = append(res.Dropped, bnd.BindingID)
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	return nil
}

// route picks the project for templated bindings. An explicit project id
// wins; otherwise the hint is matched against the projects_index arrays of
// the fixed-path documents.
func (c *Coordinator) route(ctx context.Context, req ContextRequest, pol *types.Policy) (*Routing, error) {
	if req.ProjectID != "" {
		if !types.ValidSegment(req.ProjectID) {
			return nil, types.Invalid(types.CodeInvalidRequest, "invalid project id %q", req.ProjectID)
		}
		return &Routing{ProjectID: req.ProjectID, Score: 1, Reason: RouteExplicit}, nil
	}
	tokens := storage.Tokenize(req.Hint)
	if len(tokens) == 0 {
		return &Routing{Reason: RouteNoHint}, nil
	}
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	best, bestScore := "", 0
	for i := range pol.Bindings {
		bnd := &pol.Bindings[i]
		if !bnd.HasFixedPath() {
			continue
		}
		key := types.DocumentKey{TenantID: req.TenantID, UserID: req.UserID, Namespace: bnd.Namespace, Path: bnd.Path}
		rec, err := c.stores.Documents.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		for _, entry := range projectsIndex(rec.Envelope.Content) {
			score := countHits(tokenSet, entry.aliases) + countHits(tokenSet, entry.keywords)
			if score > bestScore && types.ValidSegment(entry.projectID) {
				best, bestScore = entry.projectID, score
			}
		}
	}
	if bestScore == 0 {
		return &Routing{Reason: RouteNoMatch}, nil
	}
	return &Routing{
		ProjectID: best,
		Score:     math.Min(float64(bestScore)/routeScoreScale, 1),
		Reason:    RouteAliasMatch,
	}, nil
}

type projectEntry struct {
	projectID string
	aliases   []string
	keywords  []string
}

// projectsIndex reads content.projects_index. Malformed entries are
// ignored; the content is opaque and only this shape is meaningful here.
func projectsIndex(content any) []projectEntry {
	root, ok := content.(map[string]any)
	if !ok {
		return nil
	}
	items, ok := root["projects_index"].([]any)
	if !ok {
		return nil
	}
	out := make([]projectEntry, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := obj["project_id"].(string)
		if id == "" {
			continue
		}
		out = append(out, projectEntry{
			projectID: id,
			aliases:   stringList(obj["aliases"]),
			keywords:  stringList(obj["keywords"]),
		})
	}
	return out
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func countHits(tokens map[string]bool, terms []string) int {
	n := 0
	for _, t := range terms {
		if tokens[strings.ToLower(t)] {
			n++
		}
	}
	return n
}
