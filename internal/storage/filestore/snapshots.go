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
	"time"

	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

const snapshotExt = ".cbor.zst"

// SnapshotStore implements storage.SnapshotStore. Artifacts are grouped in
// one directory per conversation; retention uses file modification times.
type SnapshotStore struct {
	layout layout
}

// NewSnapshotStore creates a snapshot store rooted at root.
func NewSnapshotStore(root string, logger *slog.Logger) (*SnapshotStore, error) {
	l, err := newLayout(root, logger)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{layout: l}, nil
}

func (s *SnapshotStore) file(tenantID, userID, conversationID, snapshotID string) string {
	return filepath.Join(s.layout.scopeDir(snapshotsDir, tenantID, userID), conversationID, snapshotID+snapshotExt)
}

func validateSnapshotIDs(tenantID, userID, conversationID, snapshotID string) error {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return err
	}
	if !types.ValidSegment(conversationID) {
		return types.Invalid(types.CodeInvalidSnapshot, "invalid conversation id %q", conversationID)
	}
	if !types.ValidSegment(snapshotID) {
		return types.Invalid(types.CodeInvalidSnapshot, "invalid snapshot id %q", snapshotID)
	}
	return nil
}

// Write implements storage.SnapshotStore.
func (s *SnapshotStore) Write(ctx context.Context, snap types.Snapshot) (*types.SnapshotInfo, error) {
	if err := validateSnapshotIDs(snap.TenantID, snap.UserID, snap.ConversationID, snap.SnapshotID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := encodeArtifact(snap)
	if err != nil {
		return nil, serializationError(err)
	}
	path := s.file(snap.TenantID, snap.UserID, snap.ConversationID, snap.SnapshotID)
	if err := writeFileAtomic(path, data); err != nil {
		return nil, storageError("write snapshot", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, storageError("stat snapshot", err)
	}
	return &types.SnapshotInfo{
		SnapshotID:     snap.SnapshotID,
		ConversationID: snap.ConversationID,
		ModifiedAt:     info.ModTime().UTC(),
		Size:           info.Size(),
	}, nil
}

// Get implements storage.SnapshotStore.
func (s *SnapshotStore) Get(ctx context.Context, tenantID, userID, conversationID, snapshotID string) (*types.Snapshot, error) {
	if err := validateSnapshotIDs(tenantID, userID, conversationID, snapshotID); err != nil {
		return nil, err
	}
	path := s.file(tenantID, userID, conversationID, snapshotID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("read snapshot", err)
	}
	var snap types.Snapshot
	if err := decodeArtifact(data, &snap); err != nil {
		return nil, corruptError(path, err)
	}
	return &snap, nil
}

type snapshotFile struct {
	path string
	info types.SnapshotInfo
}

// scan walks the artifacts of a scope, optionally one conversation only.
func (s *SnapshotStore) scan(ctx context.Context, tenantID, userID, conversationID string) ([]snapshotFile, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	root := s.layout.scopeDir(snapshotsDir, tenantID, userID)
	if conversationID != "" {
		if !types.ValidSegment(conversationID) {
			return nil, types.Invalid(types.CodeInvalidSnapshot, "invalid conversation id %q", conversationID)
		}
		root = filepath.Join(root, conversationID)
	}

	var files []snapshotFile
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
		name := d.Name()
		if d.IsDir() || isTempFile(name) || !strings.HasSuffix(name, snapshotExt) {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		files = append(files, snapshotFile{
			path: path,
			info: types.SnapshotInfo{
				SnapshotID:     strings.TrimSuffix(name, snapshotExt),
				ConversationID: filepath.Base(filepath.Dir(path)),
				ModifiedAt:     info.ModTime().UTC(),
				Size:           info.Size(),
			},
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, storageError("scan snapshots", err)
	}
	return files, nil
}

// List implements storage.SnapshotStore.
func (s *SnapshotStore) List(ctx context.Context, tenantID, userID, conversationID string) ([]types.SnapshotInfo, error) {
	files, err := s.scan(ctx, tenantID, userID, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]types.SnapshotInfo, len(files))
	for i, f := range files {
		out[i] = f.info
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].SnapshotID < out[j].SnapshotID
	})
	return out, nil
}

// DeleteBefore implements storage.SnapshotStore.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (int, error) {
	files, err := s.scan(ctx, tenantID, userID, "")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !f.info.ModifiedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return deleted, storageError("delete snapshot", err)
		}
		deleted++
	}
	return deleted, nil
}

// DeleteScope implements storage.SnapshotStore.
func (s *SnapshotStore) DeleteScope(ctx context.Context, tenantID, userID string) (int, error) {
	return s.layout.detachScope(ctx, snapshotsDir, tenantID, userID, hasSuffix(snapshotExt))
}

// Scopes implements storage.ScopeLister.
func (s *SnapshotStore) Scopes(ctx context.Context) ([]storage.Scope, error) {
	return s.layout.scopes(snapshotsDir)
}
