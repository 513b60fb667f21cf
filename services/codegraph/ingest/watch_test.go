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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startWatcher runs a watcher on root and returns the channel of batches
// it reports.
func startWatcher(t *testing.T, root string) <-chan []string {
	t.Helper()
	batches := make(chan []string, 8)
	w, err := NewWatcher(root, func(_ context.Context, changed []string) error {
		batches <- changed
		return nil
	}, WithDebounce(100*time.Millisecond), WithWatchLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	// Give the watcher time to register directories.
	time.Sleep(200 * time.Millisecond)
	return batches
}

func nextBatch(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch reported")
		return nil
	}
}

func TestWatcher_DebouncesPythonChanges(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"app/core.py": "x = 1\n"})
	batches := startWatcher(t, root)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "app", "core.py"), []byte("x = 2\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "util.py"), []byte("y = 1\n"), 0o644))

	assert.Equal(t, []string{"app/core.py", "app/util.py"}, nextBatch(t, batches))

	select {
	case extra := <-batches:
		t.Fatalf("unexpected second batch: %v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_NewDirectoriesAndExclusions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"app/core.py": ""})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "venv"), 0o755))
	batches := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "venv", "site.py"), []byte(""), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "app", "sub"), 0o755))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "sub", "mod.py"), []byte("z = 1\n"), 0o644))

	assert.Equal(t, []string{"app/sub/mod.py"}, nextBatch(t, batches))
}

func TestWatcher_Relevant(t *testing.T) {
	w, err := NewWatcher("/repo", func(context.Context, []string) error { return nil })
	require.NoError(t, err)

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"write py", fsnotify.Event{Name: "/repo/a/b.py", Op: fsnotify.Write}, true},
		{"remove py", fsnotify.Event{Name: "/repo/b.py", Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: "/repo/b.py", Op: fsnotify.Chmod}, false},
		{"not python", fsnotify.Event{Name: "/repo/b.txt", Op: fsnotify.Write}, false},
		{"excluded dir", fsnotify.Event{Name: "/repo/build/b.py", Op: fsnotify.Create}, false},
		{"hidden dir", fsnotify.Event{Name: "/repo/.tox/b.py", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(tt.ev))
		})
	}
}

func TestNewWatcher_RequiresCallback(t *testing.T) {
	_, err := NewWatcher(t.TempDir(), nil)
	assert.Error(t, err)
}
