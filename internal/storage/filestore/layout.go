// Package filestore implements the docmem storage interfaces on a plain
// directory tree, one file per record:
//
//	<root>/documents/<tenant>/<user>/<namespace>/<path>.json
//	<root>/events/<tenant>/<user>/<event_id>.json
//	<root>/audit/<tenant>/<user>/<change_id>.json
//	<root>/snapshots/<tenant>/<user>/<conversation_id>/<snapshot_id>.cbor.zst
//	<root>/.trash/
//
// Every write goes through a temp file and a rename. Deleting a whole scope
// first renames the scope directory into .trash, which detaches it in one
// step, and only then removes the files.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

var (
	_ storage.DocumentStore = (*DocumentStore)(nil)
	_ storage.ScopeLister   = (*DocumentStore)(nil)
	_ storage.EventStore    = (*EventStore)(nil)
	_ storage.AuditStore    = (*AuditStore)(nil)
	_ storage.SnapshotStore = (*SnapshotStore)(nil)
)

// Collection directory names.
const (
	documentsDir = "documents"
	eventsDir    = "events"
	auditDir     = "audit"
	snapshotsDir = "snapshots"
	trashDir     = ".trash"
)

// layout resolves record locations under a data root.
type layout struct {
	root   string
	logger *slog.Logger
}

func newLayout(root string, logger *slog.Logger) (layout, error) {
	if root == "" {
		return layout{}, fmt.Errorf("filestore: data root is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return layout{}, fmt.Errorf("filestore: resolve data root: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return layout{}, fmt.Errorf("filestore: create data root: %w", err)
	}
	return layout{root: abs, logger: logger}, nil
}

func (l layout) collection(name string) string {
	return filepath.Join(l.root, name)
}

func (l layout) scopeDir(collection, tenantID, userID string) string {
	return filepath.Join(l.root, collection, tenantID, userID)
}

// detachScope moves a scope directory into the trash and deletes it. It
// returns the number of regular record files that were removed. Once the
// rename succeeds no reader can observe part of the scope.
func (l layout) detachScope(ctx context.Context, collection, tenantID, userID string, isRecord func(string) bool) (int, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return 0, err
	}
	src := l.scopeDir(collection, tenantID, userID)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, storageError("stat scope", err)
	}

	trash := filepath.Join(l.root, trashDir)
	if err := os.MkdirAll(trash, dirPerm); err != nil {
		return 0, storageError("create trash", err)
	}
	dst := filepath.Join(trash, fmt.Sprintf("%s-%s-%s-%s", collection, tenantID, userID, uuid.NewString()))
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, storageError("detach scope", err)
	}

	n, err := countFiles(ctx, dst, isRecord)
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(dst); err != nil {
		// The scope is already detached; leftovers in the trash are
		// invisible to every reader and can be purged later.
		l.logger.Warn("failed to purge detached scope", "path", dst, "error", err)
	}
	return n, nil
}

// purgeTrash removes anything left behind in the trash directory.
func (l layout) purgeTrash() error {
	return os.RemoveAll(filepath.Join(l.root, trashDir))
}

func countFiles(ctx context.Context, dir string, isRecord func(string) bool) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && !isTempFile(d.Name()) && isRecord(d.Name()) {
			n++
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, storageError("walk detached scope", err)
	}
	return n, nil
}

// scopes returns every tenant/user pair that has a directory in the
// collection.
func (l layout) scopes(collection string) ([]storage.Scope, error) {
	tenants, err := os.ReadDir(l.collection(collection))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("list tenants", err)
	}
	var scopes []storage.Scope
	for _, t := range tenants {
		if !t.IsDir() {
			continue
		}
		users, err := os.ReadDir(filepath.Join(l.collection(collection), t.Name()))
		if err != nil {
			return nil, storageError("list users", err)
		}
		for _, u := range users {
			if u.IsDir() {
				scopes = append(scopes, storage.Scope{TenantID: t.Name(), UserID: u.Name()})
			}
		}
	}
	return scopes, nil
}

func hasSuffix(suffix string) func(string) bool {
	return func(name string) bool { return strings.HasSuffix(name, suffix) }
}

func storageError(op string, err error) error {
	return types.Internal(types.CodeStorage, op, err)
}

func corruptError(path string, err error) error {
	return types.Internal(types.CodeCorruptState, "corrupt record "+path, err)
}

func serializationError(err error) error {
	return types.Internal(types.CodeSerialization, "serialize record", err)
}
