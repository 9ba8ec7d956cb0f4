package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/scrypster/docmem/internal/docjson"
)

const jsonExt = ".json"

// record is one decoded JSON file of a flat record directory.
type record[T any] struct {
	path  string
	value T
}

// readRecords decodes every JSON record in dir. A missing directory is an
// empty collection; an undecodable file is corrupt state.
func readRecords[T any](ctx context.Context, dir string) ([]record[T], error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("read directory", err)
	}

	out := make([]record[T], 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || isTempFile(name) || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			// Removed by a concurrent sweep.
			continue
		}
		if err != nil {
			return nil, storageError("read record", err)
		}
		var v T
		if err := docjson.Unmarshal(data, &v); err != nil {
			return nil, corruptError(path, err)
		}
		out = append(out, record[T]{path: path, value: v})
	}
	return out, nil
}

// writeRecord stores v as dir/id.json.
func writeRecord(dir, id string, v any) error {
	data, err := docjson.Marshal(v)
	if err != nil {
		return serializationError(err)
	}
	if err := writeFileAtomic(filepath.Join(dir, id+jsonExt), data); err != nil {
		return storageError("write record", err)
	}
	return nil
}

// deleteRecords removes every record in dir for which match returns true.
// The scan stops at the first context error; files already removed stay
// removed, so a rerun continues where this one stopped.
func deleteRecords[T any](ctx context.Context, dir string, match func(T) bool) (int, error) {
	records, err := readRecords[T](ctx, dir)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !match(r.value) {
			continue
		}
		if err := os.Remove(r.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return deleted, storageError("delete record", err)
		}
		deleted++
	}
	return deleted, nil
}
