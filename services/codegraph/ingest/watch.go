// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last change before a
// re-ingestion fires.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc is invoked once per settled batch of changes with the
// repository-relative paths that changed.
type ChangeFunc func(ctx context.Context, changed []string) error

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger sets the logger used for diagnostics.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets the quiet period. Non-positive values are ignored.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchExcludeDirs adds directory names the watcher never descends into.
func WithWatchExcludeDirs(dirs ...string) WatchOption {
	return func(w *Watcher) {
		for _, d := range dirs {
			w.skip[d] = true
		}
	}
}

// Watcher re-runs a callback when Python files under a root change.
//
// Description:
//
//	Watches every non-excluded directory under root, adding directories as
//	they are created. Write, create, remove and rename events on .py files
//	are collected until no event arrives for the debounce period, then the
//	callback runs once with the batch. Callback errors are logged and do
//	not stop the watch.
//
// Thread Safety:
//
//	Run must be called at most once.
type Watcher struct {
	root     string
	onChange ChangeFunc
	logger   *slog.Logger
	debounce time.Duration
	skip     map[string]bool
}

// NewWatcher creates a Watcher for root.
func NewWatcher(root string, onChange ChangeFunc, opts ...WatchOption) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("change callback must not be nil")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	w := &Watcher{
		root:     abs,
		onChange: onChange,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		skip:     make(map[string]bool, len(defaultExcludeDirs)),
	}
	for _, d := range defaultExcludeDirs {
		w.skip[d] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching for changes", slog.String("root", w.root), slog.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("could not watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
					}
					continue
				}
			}
			if !w.relevant(ev) {
				continue
			}
			pending[relSlash(w.root, ev.Name)] = true
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", slog.Any("error", err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			pending = make(map[string]bool)
			sort.Strings(changed)

			watchTriggers.Inc()
			w.logger.Info("changes detected, re-ingesting", slog.Int("files", len(changed)))
			if err := w.onChange(ctx, changed); err != nil {
				w.logger.Error("re-ingestion failed", slog.Any("error", err))
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !strings.HasSuffix(ev.Name, ".py") {
		return false
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	for _, seg := range strings.Split(relSlash(w.root, filepath.Dir(ev.Name)), "/") {
		if w.skip[seg] || (seg != "." && strings.HasPrefix(seg, ".")) {
			return false
		}
	}
	return true
}

// addTree registers dir and its non-excluded subdirectories.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && (w.skip[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
