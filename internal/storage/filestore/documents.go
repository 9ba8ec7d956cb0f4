package filestore

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// DocumentStore implements storage.DocumentStore with one JSON file per
// document.
type DocumentStore struct {
	layout layout
	locks  storage.KeyLocker
}

// NewDocumentStore creates a document store rooted at root. Writers to the
// same key are serialized through locks.
func NewDocumentStore(root string, locks storage.KeyLocker, logger *slog.Logger) (*DocumentStore, error) {
	l, err := newLayout(root, logger)
	if err != nil {
		return nil, err
	}
	if locks == nil {
		locks = storage.NewKeyLocks()
	}
	return &DocumentStore{layout: l, locks: locks}, nil
}

func (s *DocumentStore) file(key types.DocumentKey) string {
	return filepath.Join(s.layout.scopeDir(documentsDir, key.TenantID, key.UserID),
		key.Namespace, filepath.FromSlash(key.Path)+jsonExt)
}

// readDocument loads the record stored at path, or nil when there is none.
func readDocument(path string) (*types.DocumentRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("read document", err)
	}
	env, err := storage.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return &types.DocumentRecord{Envelope: env, ETag: storage.ETag(data)}, nil
}

// Get implements storage.DocumentStore.
func (s *DocumentStore) Get(ctx context.Context, key types.DocumentKey) (*types.DocumentRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readDocument(s.file(key))
}

// Upsert implements storage.DocumentStore.
func (s *DocumentStore) Upsert(ctx context.Context, key types.DocumentKey, env types.DocumentEnvelope, expectedETag string) (*types.DocumentRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	path := s.file(key)

	release, err := s.locks.Lock(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	if err := storage.CheckPrecondition(current, expectedETag); err != nil {
		return nil, err
	}

	data, err := storage.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	stored, err := storage.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return nil, storageError("write document", err)
	}
	return &types.DocumentRecord{Envelope: stored, ETag: storage.ETag(data)}, nil
}

// Exists implements storage.DocumentStore.
func (s *DocumentStore) Exists(ctx context.Context, key types.DocumentKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.file(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storageError("stat document", err)
	}
}

// List implements storage.DocumentStore.
func (s *DocumentStore) List(ctx context.Context, tenantID, userID string, opts storage.ListOptions) ([]types.DocumentListItem, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Normalize()

	root := s.layout.scopeDir(documentsDir, tenantID, userID)
	var items []types.DocumentListItem
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || isTempFile(d.Name()) || !strings.HasSuffix(d.Name(), jsonExt) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		namespace, docPath, ok := strings.Cut(filepath.ToSlash(strings.TrimSuffix(rel, jsonExt)), "/")
		if !ok || !opts.Matches(namespace, docPath) {
			return nil
		}
		rec, err := readDocument(path)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, types.DocumentListItem{
			Namespace: namespace,
			Path:      docPath,
			ETag:      rec.ETag,
			SchemaID:  rec.Envelope.SchemaID,
			UpdatedAt: rec.Envelope.UpdatedAt,
			Size:      int(info.Size()),
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if _, ok := types.AsError(err); ok {
			return nil, err
		}
		return nil, storageError("list documents", err)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Namespace != items[j].Namespace {
			return items[i].Namespace < items[j].Namespace
		}
		return items[i].Path < items[j].Path
	})
	if len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

// DeleteScope implements storage.DocumentStore.
func (s *DocumentStore) DeleteScope(ctx context.Context, tenantID, userID string) (int, error) {
	return s.layout.detachScope(ctx, documentsDir, tenantID, userID, hasSuffix(jsonExt))
}

// Scopes implements storage.ScopeLister.
func (s *DocumentStore) Scopes(ctx context.Context) ([]storage.Scope, error) {
	return s.layout.scopes(documentsDir)
}

// PurgeTrash removes scopes left in the trash by interrupted deletions.
func (s *DocumentStore) PurgeTrash() error {
	return s.layout.purgeTrash()
}
