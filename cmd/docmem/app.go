package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scrypster/docmem/internal/config"
	"github.com/scrypster/docmem/internal/engine"
	"github.com/scrypster/docmem/internal/notify"
	"github.com/scrypster/docmem/internal/policy"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/internal/storage/filestore"
	"github.com/scrypster/docmem/internal/storage/sqlite"
)

// sqliteFile is the database file name under the data path.
const sqliteFile = "docmem.db"

// app holds the opened stores and the coordinator built on them.
type app struct {
	coord  *engine.Coordinator
	scopes []storage.ScopeLister
	close  []func() error
}

// openApp loads the policy registry and opens the configured storage
// engine under the data path.
func openApp(ctx context.Context, c *config.Config, logger *slog.Logger) (*app, error) {
	policies, err := policy.Load(c.Storage.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	root := c.Storage.DataPath
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	locks := storage.NewKeyLocks()
	a := &app{}

	var stores engine.Stores
	switch c.Storage.StorageEngine {
	case config.EngineSQLite:
		db, err := sqlite.Open(ctx, filepath.Join(root, sqliteFile), logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.close = append(a.close, db.Close)
		docs, events, audit := db.Documents(locks), db.Events(), db.Audit()
		stores = engine.Stores{Documents: docs, Events: events, Audit: audit}
		a.scopes = append(a.scopes, docs, events, audit)

	default:
		docs, err := filestore.NewDocumentStore(root, locks, logger)
		if err != nil {
			return nil, err
		}
		events, err := filestore.NewEventStore(root, logger)
		if err != nil {
			return nil, err
		}
		audit, err := filestore.NewAuditStore(root, logger)
		if err != nil {
			return nil, err
		}
		stores = engine.Stores{Documents: docs, Events: events, Audit: audit}
		a.scopes = append(a.scopes, docs, events, audit)
	}

	// Snapshots are compressed artifacts and always live on the filesystem.
	snaps, err := filestore.NewSnapshotStore(root, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	stores.Snapshots = snaps
	a.scopes = append(a.scopes, snaps)

	if c.Storage.BreakerEnabled {
		stores.Documents = storage.NewBreakerDocumentStore(stores.Documents, storage.BreakerConfig{}, logger)
	}

	ecfg := engine.DefaultConfig()
	ecfg.IdempotencyCacheSize = c.Engine.IdempotencyCacheSize
	ecfg.Logger = logger
	ecfg.Notifier = notify.NewEventWriter(root)

	a.coord, err = engine.NewCoordinator(stores, policies, ecfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	logger.Debug("storage opened",
		"engine", c.Storage.StorageEngine, "data_path", root, "policies", policies.PolicyIDs())
	return a, nil
}

// Close releases the coordinator and every opened store.
func (a *app) Close() error {
	if a.coord != nil {
		a.coord.Close()
	}
	var errs []error
	for i := len(a.close) - 1; i >= 0; i-- {
		errs = append(errs, a.close[i]())
	}
	return errors.Join(errs...)
}
