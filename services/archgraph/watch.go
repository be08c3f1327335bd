// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archgraph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/archgraph/services/archgraph/location"
)

// DefaultWatchDebounce is how long the watcher waits after the last change
// before it fires.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher fires a callback when class files or archives change under a set
// of local directories. Bursts of events within the debounce window fire
// once.
//
// fsnotify watches are not recursive, so each directory tree is walked at
// start and directories created later are added as they appear.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func(context.Context) error
	logger   *slog.Logger
}

// NewWatcher starts watching dirs and every directory below them.
// Directories that do not exist are skipped with a warning.
func NewWatcher(dirs []string, debounce time.Duration, onChange func(context.Context) error, logger *slog.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange must not be nil")
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &Watcher{fsw: fsw, debounce: debounce, onChange: onChange, logger: logger}
	for _, d := range dirs {
		if err := w.addTree(d); err != nil {
			logger.Warn("not watching directory",
				slog.String("dir", d),
				slog.String("error", err.Error()),
			)
		}
	}
	return w, nil
}

// WatchList returns the directories currently watched.
func (w *Watcher) WatchList() []string {
	list := w.fsw.WatchList()
	sort.Strings(list)
	return list
}

// Run delivers debounced changes to the callback until ctx is done.
// Callback errors are logged; they do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("watched path changed",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			if err := w.onChange(ctx); err != nil {
				w.logger.Error("re-import after change failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// relevant reports whether ev can change an import. Created directories are
// added to the watch as a side effect.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("not watching new directory",
					slog.String("dir", ev.Name),
					slog.String("error", err.Error()),
				)
			}
			return true
		}
	}
	switch strings.ToLower(filepath.Ext(ev.Name)) {
	case ".class", ".jar", ".zip", ".war", ".jmod":
		return true
	case "":
		// A removed or renamed directory.
		return ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
	default:
		return false
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

// WatchDirs returns the distinct local directories behind a set of
// locations, see location.Location.LocalDir.
func WatchDirs(locs location.Set) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range locs {
		d, ok := l.LocalDir()
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
