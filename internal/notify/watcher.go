package notify

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/docmem/pkg/types"
)

// EventWatcher watches the notification directory and dispatches callbacks.
// Each event file is consumed (removed) once it has been read.
type EventWatcher struct {
	dir      string
	callback func(types.MutationEvent)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewEventWatcher creates a watcher for {dataPath}/notifications/. A nil
// logger discards log output.
func NewEventWatcher(dataPath string, callback func(types.MutationEvent), logger *slog.Logger) *EventWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EventWatcher{
		dir:      Dir(dataPath),
		callback: callback,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins watching. It drains any existing event files first,
// then watches for new ones. Call Stop() to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return err
	}
	ew.watcher = w

	// Files published between Add and here are seen by both paths; whoever
	// reads first removes the file and the other skips it.
	ew.drainExisting()

	go ew.loop()
	ew.logger.Info("watching for mutation events", "dir", ew.dir)
	return nil
}

// Stop shuts down the watcher.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(evt.Name, eventExt) {
				ew.processFile(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			ew.logger.Warn("notification watcher error", "error", err)
		}
	}
}

func (ew *EventWatcher) drainExisting() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), eventExt) {
			ew.processFile(filepath.Join(ew.dir, entry.Name()))
		}
	}
}

func (ew *EventWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed
	}
	if err := os.Remove(path); err != nil {
		return // another reader got there first
	}

	var event types.MutationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		ew.logger.Warn("invalid notification file", "file", filepath.Base(path), "error", err)
		return
	}
	if event.Type != "" && ew.callback != nil {
		ew.callback(event)
	}
}
