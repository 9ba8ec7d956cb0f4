// Package docjson holds the helpers every layer uses to handle opaque JSON
// document content: decoding with numbers preserved, deep copies, canonical
// serialization and path traversal.
//
// Content values are the types produced by encoding/json with UseNumber:
// nil, bool, json.Number, string, []any and map[string]any.
package docjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decode parses exactly one JSON value from data.
func Decode(data []byte) (any, error) {
	var v any
	if err := Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Unmarshal decodes exactly one JSON value from data into dst, keeping
// numbers held in interface values as json.Number.
func Unmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// Normalize converts an arbitrary Go value (for example one decoded from
// YAML, or built in code) into the canonical content representation.
func Normalize(v any) (any, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Marshal serializes v deterministically: object keys sorted, no HTML
// escaping, no trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Chars returns the size of v's canonical serialization in characters.
func Chars(v any) (int, error) {
	data, err := Marshal(v)
	if err != nil {
		return 0, err
	}
	return utf8.RuneCount(data), nil
}

// DeepCopy returns a copy of v that shares no maps or slices with it.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = DeepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = DeepCopy(child)
		}
		return out
	default:
		return v
	}
}

// SplitPath splits a dotted ("a.b.0") or slash ("/a/b/0") path into
// segments. Slash paths are JSON pointers and are unescaped.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "/") {
		parts := strings.Split(path[1:], "/")
		for i, p := range parts {
			parts[i] = UnescapePointerToken(p)
		}
		return parts
	}
	return strings.Split(path, ".")
}

// UnescapePointerToken applies the JSON pointer unescaping rules.
func UnescapePointerToken(tok string) string {
	if !strings.Contains(tok, "~") {
		return tok
	}
	return strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
}

// Lookup walks segments through objects and numeric array indices.
func Lookup(v any, segments []string) (any, bool) {
	cur := v
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// LongestArray finds the longest array anywhere in v. It returns the
// pointer path of that array and its length; length is -1 when v holds no
// arrays.
func LongestArray(v any) (string, int) {
	bestPath, best := "", -1
	var walk func(node any, path string)
	walk = func(node any, path string) {
		switch t := node.(type) {
		case map[string]any:
			for k, child := range t {
				walk(child, path+"/"+escapePointerToken(k))
			}
		case []any:
			if len(t) > best || (len(t) == best && path < bestPath) {
				bestPath, best = path, len(t)
			}
			for i, child := range t {
				walk(child, path+"/"+strconv.Itoa(i))
			}
		}
	}
	walk(v, "")
	return bestPath, best
}

func escapePointerToken(tok string) string {
	return strings.ReplaceAll(strings.ReplaceAll(tok, "~", "~0"), "/", "~1")
}
