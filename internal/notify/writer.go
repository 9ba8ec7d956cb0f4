// Package notify carries mutation events between processes sharing a data
// directory. EventWriter drops one JSON file per event; EventWatcher picks
// them up with fsnotify and hands them to a callback.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/docmem/pkg/types"
)

const (
	eventExt = ".event"
	tmpExt   = ".tmp"
)

// Dir returns the notification directory under dataPath.
func Dir(dataPath string) string {
	return filepath.Join(dataPath, "notifications")
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/notifications/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: Dir(dataPath)}
}

// Notify writes one event file. The file appears under its final name in a
// single rename, so a watcher never reads a partial event.
// Safe to call concurrently.
func (w *EventWriter) Notify(ctx context.Context, event types.MutationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", event.Type, err)
	}

	name := fmt.Sprintf("%d-%s-%s", event.Time.UnixNano(), sanitize(event.Type), uuid.NewString()[:8])
	tmp := filepath.Join(w.dir, name+tmpExt)
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+eventExt)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: publish %s: %w", name, err)
	}
	return nil
}

// sanitize replaces characters unsafe for filenames.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '\\', ' ':
			return '_'
		}
		return r
	}, s)
}
