// Package patch applies edits to opaque JSON document content.
//
// Two edit styles are supported and never mixed in one request: structural
// operations (add, replace, remove) addressed by JSON pointers, and text
// edits that replace an exact occurrence of a substring inside one string
// field. Apply is a pure function: it never mutates its input and performs
// no I/O.
package patch

import (
	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/pkg/types"
)

// Structural operation names.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// Op is one structural operation.
type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// TextEdit replaces one occurrence of OldText with NewText in the string at
// Target (a JSON pointer, empty for the content root). Occurrence is
// 1-based; zero means "the only occurrence".
type TextEdit struct {
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	Occurrence int    `json:"occurrence,omitempty"`
	Target     string `json:"target,omitempty"`
}

// Request is a list of operations or a list of text edits.
type Request struct {
	Ops   []Op       `json:"ops,omitempty"`
	Edits []TextEdit `json:"edits,omitempty"`
}

// Paths returns every content path the request writes to, in order.
func (r Request) Paths() []string {
	paths := make([]string, 0, len(r.Ops)+len(r.Edits))
	for _, op := range r.Ops {
		paths = append(paths, op.Path)
	}
	for _, e := range r.Edits {
		paths = append(paths, e.Target)
	}
	return paths
}

// Validate checks the request shape without touching any document.
func (r Request) Validate() error {
	switch {
	case len(r.Ops) > 0 && len(r.Edits) > 0:
		return types.Invalid(types.CodeInvalidPatchMixed, "structural ops and text edits cannot be combined")
	case len(r.Ops) == 0 && len(r.Edits) == 0:
		return types.Invalid(types.CodeInvalidPatchEmpty, "request contains no ops or edits")
	}
	for i, op := range r.Ops {
		switch op.Op {
		case OpAdd, OpReplace, OpRemove:
		default:
			return opError(types.CodeInvalidPatchOp, i, op.Path, "unsupported op %q", op.Op)
		}
		if _, err := parsePointer(op.Path); err != nil {
			return opError(types.CodeInvalidPatchPath, i, op.Path, "%v", err)
		}
	}
	for i, e := range r.Edits {
		if e.OldText == "" {
			return editError(types.CodeInvalidPatchText, i, e.Target, "old_text must not be empty")
		}
		if e.Occurrence < 0 {
			return editError(types.CodeInvalidPatchOccurrence, i, e.Target, "occurrence must be positive")
		}
		if _, err := parsePointer(e.Target); err != nil {
			return editError(types.CodeInvalidPatchPath, i, e.Target, "%v", err)
		}
	}
	return nil
}

// Apply returns the result of applying req to content. content is not
// modified; on error nothing is returned.
func Apply(content any, req Request) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Ops) > 0 {
		return ApplyOps(content, req.Ops)
	}
	return ApplyEdits(content, req.Edits)
}

func opError(code string, index int, path, format string, args ...any) error {
	return types.Invalid(code, format, args...).
		WithDetail("path", path).
		WithDetail("op_index", index)
}

func editError(code string, index int, target, format string, args ...any) error {
	return types.Invalid(code, format, args...).
		WithDetail("path", target).
		WithDetail("edit_index", index)
}

func cloneValue(v any) any {
	return docjson.DeepCopy(v)
}
