package docjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePreservesNumbers(t *testing.T) {
	v, err := Decode([]byte(`{"n": 12345678901234567890, "f": 1.50}`))
	require.NoError(t, err)

	obj := v.(map[string]any)
	assert.Equal(t, json.Number("12345678901234567890"), obj["n"])
	assert.Equal(t, json.Number("1.50"), obj["f"])
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestMarshalIsCanonical(t *testing.T) {
	a, err := Marshal(map[string]any{"b": 1, "a": "<x>"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1}`, string(a))
}

func TestDeepCopyIsIndependent(t *testing.T) {
	orig := map[string]any{"list": []any{"a", map[string]any{"k": "v"}}}
	cp := DeepCopy(orig).(map[string]any)

	cp["list"].([]any)[1].(map[string]any)["k"] = "changed"
	cp["list"] = append(cp["list"].([]any), "b")

	assert.Equal(t, "v", orig["list"].([]any)[1].(map[string]any)["k"])
	assert.Len(t, orig["list"], 2)
}

func TestLookup(t *testing.T) {
	v, err := Decode([]byte(`{"profile":{"names":["ann","bob"]},"a/b":{"~c":true}}`))
	require.NoError(t, err)

	got, ok := Lookup(v, SplitPath("profile.names.1"))
	require.True(t, ok)
	assert.Equal(t, "bob", got)

	got, ok = Lookup(v, SplitPath("/a~1b/~0c"))
	require.True(t, ok)
	assert.Equal(t, true, got)

	_, ok = Lookup(v, SplitPath("profile.names.2"))
	assert.False(t, ok)
	_, ok = Lookup(v, SplitPath("profile.names.x"))
	assert.False(t, ok)
}

func TestLongestArray(t *testing.T) {
	v, err := Decode([]byte(`{"a":[1,2],"b":{"c":[1,2,[1,2,3,4]]}}`))
	require.NoError(t, err)

	path, n := LongestArray(v)
	assert.Equal(t, "/b/c/2", path)
	assert.Equal(t, 4, n)

	_, n = LongestArray(map[string]any{"x": "y"})
	assert.Equal(t, -1, n)
}

func TestChars(t *testing.T) {
	n, err := Chars("héllo")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
