package patch

import (
	"errors"
	"strings"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/pkg/types"
)

// ApplyEdits applies text edits in order. Any failing edit aborts the whole
// request.
func ApplyEdits(content any, edits []TextEdit) (any, error) {
	doc := cloneValue(content)
	for i, e := range edits {
		if e.OldText == "" {
			return nil, editError(types.CodeInvalidPatchText, i, e.Target, "old_text must not be empty")
		}
		tokens, err := parsePointer(e.Target)
		if err != nil {
			return nil, editError(types.CodeInvalidPatchPath, i, e.Target, "%v", err)
		}
		current, ok := docjson.Lookup(doc, tokens)
		if !ok {
			return nil, editError(types.CodeInvalidPatchPath, i, e.Target, "edit target does not exist")
		}
		text, ok := current.(string)
		if !ok {
			return nil, editError(types.CodeInvalidPatchPath, i, e.Target, "edit target is not a string")
		}

		updated, err := replaceOccurrence(text, e)
		if err != nil {
			var te *textError
			if errors.As(err, &te) {
				return nil, editError(te.code, i, e.Target, "%s", te.msg)
			}
			return nil, err
		}

		doc, err = applyAt(doc, tokens, Op{Op: OpReplace, Path: e.Target, Value: updated}, 0)
		if err != nil {
			return nil, editError(types.CodeInvalidPatchPath, i, e.Target, "%v", err)
		}
	}
	return doc, nil
}

type textError struct {
	code string
	msg  string
}

func (e *textError) Error() string { return e.msg }

// replaceOccurrence replaces exactly one non-overlapping occurrence of
// e.OldText in text.
func replaceOccurrence(text string, e TextEdit) (string, error) {
	count := strings.Count(text, e.OldText)
	switch {
	case count == 0:
		return "", &textError{code: types.CodeInvalidPatchNoMatch, msg: "old_text has no match"}
	case e.Occurrence == 0 && count > 1:
		return "", &textError{code: types.CodeInvalidPatchAmbiguous, msg: "old_text matches more than once; specify occurrence"}
	case e.Occurrence > count:
		return "", &textError{code: types.CodeInvalidPatchOccurrence, msg: "occurrence is out of range"}
	}

	nth := e.Occurrence
	if nth == 0 {
		nth = 1
	}
	offset := 0
	for n := 1; ; n++ {
		idx := strings.Index(text[offset:], e.OldText)
		start := offset + idx
		if n == nth {
			return text[:start] + e.NewText + text[start+len(e.OldText):], nil
		}
		offset = start + len(e.OldText)
	}
}
