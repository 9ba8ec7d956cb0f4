package patch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/pkg/types"
)

// parsePointer splits a JSON pointer into unescaped reference tokens. The
// empty pointer addresses the root.
func parsePointer(p string) ([]string, error) {
	if p == "" {
		return nil, nil
	}
	if !strings.HasPrefix(p, "/") {
		return nil, errors.New("pointer must start with '/'")
	}
	raw := strings.Split(p[1:], "/")
	tokens := make([]string, len(raw))
	for i, tok := range raw {
		for j := 0; j < len(tok); j++ {
			if tok[j] == '~' && (j+1 >= len(tok) || (tok[j+1] != '0' && tok[j+1] != '1')) {
				return nil, fmt.Errorf("invalid escape in token %q", tok)
			}
		}
		tokens[i] = docjson.UnescapePointerToken(tok)
	}
	return tokens, nil
}

// parseIndex parses an array index token. Leading zeros are rejected.
func parseIndex(tok string) (int, bool) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, false
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ApplyOps applies structural operations in order to a deep copy of content.
func ApplyOps(content any, ops []Op) (any, error) {
	doc := cloneValue(content)
	for i, op := range ops {
		tokens, err := parsePointer(op.Path)
		if err != nil {
			return nil, opError(types.CodeInvalidPatchPath, i, op.Path, "%v", err)
		}
		switch op.Op {
		case OpAdd, OpReplace, OpRemove:
		default:
			return nil, opError(types.CodeInvalidPatchOp, i, op.Path, "unsupported op %q", op.Op)
		}
		doc, err = applyAt(doc, tokens, op, 0)
		if err != nil {
			var reason *pathError
			if errors.As(err, &reason) {
				return nil, opError(types.CodeInvalidPatchPath, i, op.Path, "%s", reason.msg)
			}
			return nil, err
		}
	}
	return doc, nil
}

type pathError struct{ msg string }

func (e *pathError) Error() string { return e.msg }

func pathErrorf(format string, args ...any) error {
	return &pathError{msg: fmt.Sprintf(format, args...)}
}

// applyAt applies op at tokens[depth:] below node and returns the new node.
func applyAt(node any, tokens []string, op Op, depth int) (any, error) {
	if depth == len(tokens) {
		switch op.Op {
		case OpAdd, OpReplace:
			return cloneValue(op.Value), nil
		default:
			return nil, pathErrorf("cannot remove the document root")
		}
	}

	tok := tokens[depth]
	last := depth == len(tokens)-1
	at := "/" + strings.Join(tokens[:depth+1], "/")

	switch container := node.(type) {
	case map[string]any:
		child, exists := container[tok]
		if last {
			switch op.Op {
			case OpAdd:
				container[tok] = cloneValue(op.Value)
			case OpReplace:
				if !exists {
					return nil, pathErrorf("replace target %s does not exist", at)
				}
				container[tok] = cloneValue(op.Value)
			case OpRemove:
				if !exists {
					return nil, pathErrorf("remove target %s does not exist", at)
				}
				delete(container, tok)
			}
			return container, nil
		}
		if !exists {
			return nil, pathErrorf("path %s does not exist", at)
		}
		updated, err := applyAt(child, tokens, op, depth+1)
		if err != nil {
			return nil, err
		}
		container[tok] = updated
		return container, nil

	case []any:
		if last && op.Op == OpAdd && tok == "-" {
			return append(container, cloneValue(op.Value)), nil
		}
		idx, ok := parseIndex(tok)
		if !ok {
			return nil, pathErrorf("invalid array index %q at %s", tok, at)
		}
		if last {
			switch op.Op {
			case OpAdd:
				if idx > len(container) {
					return nil, pathErrorf("index %d out of range at %s", idx, at)
				}
				out := make([]any, 0, len(container)+1)
				out = append(out, container[:idx]...)
				out = append(out, cloneValue(op.Value))
				return append(out, container[idx:]...), nil
			case OpReplace:
				if idx >= len(container) {
					return nil, pathErrorf("index %d out of range at %s", idx, at)
				}
				container[idx] = cloneValue(op.Value)
				return container, nil
			case OpRemove:
				if idx >= len(container) {
					return nil, pathErrorf("index %d out of range at %s", idx, at)
				}
				out := make([]any, 0, len(container)-1)
				out = append(out, container[:idx]...)
				return append(out, container[idx+1:]...), nil
			}
		}
		if idx >= len(container) {
			return nil, pathErrorf("index %d out of range at %s", idx, at)
		}
		updated, err := applyAt(container[idx], tokens, op, depth+1)
		if err != nil {
			return nil, err
		}
		container[idx] = updated
		return container, nil

	default:
		return nil, pathErrorf("cannot traverse into non-container value at %s", "/"+strings.Join(tokens[:depth], "/"))
	}
}
