package policy

import (
	"strings"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/pkg/types"
)

// CheckKey verifies that key is the document the binding addresses. For a
// templated binding the key path must be the template with projectID
// substituted, or any valid project segment when projectID is empty.
func CheckKey(b *types.DocumentBinding, key types.DocumentKey, projectID string) error {
	if key.Namespace != b.Namespace {
		return mismatch(b, key, "namespace %q does not match binding namespace %q", key.Namespace, b.Namespace)
	}
	if b.HasFixedPath() {
		if key.Path != b.Path {
			return mismatch(b, key, "path %q does not match binding path %q", key.Path, b.Path)
		}
		return nil
	}
	if projectID != "" {
		want, ok := b.ResolvePath(projectID)
		if !ok || key.Path != want {
			return mismatch(b, key, "path %q does not match template %q for project %q", key.Path, b.PathTemplate, projectID)
		}
		return nil
	}
	if _, ok := MatchTemplate(b.PathTemplate, key.Path); !ok {
		return mismatch(b, key, "path %q does not match template %q", key.Path, b.PathTemplate)
	}
	return nil
}

// MatchTemplate extracts the project id from path when it matches template.
func MatchTemplate(template, path string) (string, bool) {
	i := strings.Index(template, types.ProjectPlaceholder)
	if i < 0 {
		return "", false
	}
	prefix, suffix := template[:i], template[i+len(types.ProjectPlaceholder):]
	if len(path) <= len(prefix)+len(suffix) || !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	project := path[len(prefix) : len(path)-len(suffix)]
	if !types.ValidSegment(project) {
		return "", false
	}
	return project, true
}

func mismatch(b *types.DocumentBinding, key types.DocumentKey, format string, args ...any) error {
	return types.Invalid(types.CodeBindingMismatch, format, args...).
		WithDetail("binding_id", b.BindingID).
		WithDetail("key", key.String())
}

// CheckWritable verifies that every path falls under one of the binding's
// allowed paths. An allowed path matches itself and anything below it; "/"
// allows the whole document.
func CheckWritable(b *types.DocumentBinding, paths []string) error {
	for _, p := range paths {
		if !writable(b.AllowedPaths, p) {
			return types.Invalid(types.CodePathNotWritable, "path %q is not writable through binding %q", p, b.BindingID).
				WithDetail("path", p).
				WithDetail("allowed_paths", b.AllowedPaths)
		}
	}
	return nil
}

func writable(allowed []string, path string) bool {
	for _, a := range allowed {
		if a == "/" {
			return true
		}
		if path == a || strings.HasPrefix(path, a+"/") {
			return true
		}
	}
	return false
}

// CheckWriteMode rejects a patch or replace the binding does not permit.
func CheckWriteMode(b *types.DocumentBinding, replace bool) error {
	if replace && !b.WriteMode.AllowsReplace() {
		return types.Invalid(types.CodeReplaceNotAllowed, "binding %q does not allow replace", b.BindingID)
	}
	if !replace && !b.WriteMode.AllowsPatch() {
		return types.Invalid(types.CodePatchNotAllowed, "binding %q does not allow patch", b.BindingID)
	}
	return nil
}

// CheckEnvelope validates a resulting envelope against the binding's schema
// and limits. Sizes are runes of the canonical serialization.
func CheckEnvelope(b *types.DocumentBinding, env types.DocumentEnvelope) error {
	if env.SchemaID != b.SchemaID || env.SchemaVersion != b.SchemaVersion {
		return types.Invalid(types.CodeSchemaMismatch, "schema %s@%s does not match binding schema %s@%s",
			env.SchemaID, env.SchemaVersion, b.SchemaID, b.SchemaVersion).
			WithDetail("expected_schema_id", b.SchemaID).
			WithDetail("expected_schema_version", b.SchemaVersion)
	}

	size, err := docjson.Chars(env)
	if err != nil {
		return types.Internal(types.CodeSerialization, "serialize envelope", err)
	}
	if size > b.MaxChars {
		return types.Invalid(types.CodeDocumentSizeExceeded, "document is %d chars, limit is %d", size, b.MaxChars).
			WithDetail("size", size).
			WithDetail("limit", b.MaxChars)
	}

	if b.MaxContentChars > 0 {
		n, err := docjson.Chars(env.Content)
		if err != nil {
			return types.Internal(types.CodeSerialization, "serialize content", err)
		}
		if n > b.MaxContentChars {
			return types.Invalid(types.CodeContentSizeExceeded, "content is %d chars, limit is %d", n, b.MaxContentChars).
				WithDetail("size", n).
				WithDetail("limit", b.MaxContentChars)
		}
	}

	for _, p := range b.RequiredContentPaths {
		if _, ok := docjson.Lookup(env.Content, docjson.SplitPath(p)); !ok {
			return types.Invalid(types.CodeRequiredPathMissing, "required content path %q is missing", p).
				WithDetail("path", p)
		}
	}

	if b.MaxArrayItems > 0 {
		if path, n := docjson.LongestArray(env.Content); n > b.MaxArrayItems {
			return types.Invalid(types.CodeArrayLimitExceeded, "array at %q has %d items, limit is %d", path, n, b.MaxArrayItems).
				WithDetail("path", path).
				WithDetail("limit", b.MaxArrayItems)
		}
	}
	return nil
}
