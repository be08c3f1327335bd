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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/archgraph/services/archgraph/location"
)

func startWatcher(t *testing.T, dirs []string) (*Watcher, chan struct{}) {
	t.Helper()
	fired := make(chan struct{}, 16)
	w, err := NewWatcher(dirs, 50*time.Millisecond, func(context.Context) error {
		fired <- struct{}{}
		return nil
	}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return w, fired
}

func waitFired(t *testing.T, fired <-chan struct{}) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire")
	}
}

func assertQuiet(t *testing.T, fired <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-fired:
		t.Fatal("watcher fired unexpectedly")
	case <-time.After(d):
	}
}

func TestWatcher(t *testing.T) {
	t.Run("class file change fires once per burst", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "com", "acme"), 0o755))
		_, fired := startWatcher(t, []string{dir})

		for range 5 {
			writeClass(t, dir, "com/acme/A", caller("com/acme/A"))
		}
		waitFired(t, fired)
		assertQuiet(t, fired, 300*time.Millisecond)
	})

	t.Run("new subdirectory is watched", func(t *testing.T) {
		dir := t.TempDir()
		w, fired := startWatcher(t, []string{dir})

		sub := filepath.Join(dir, "org", "x")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		waitFired(t, fired)
		assert.Eventually(t, func() bool {
			for _, d := range w.WatchList() {
				if d == sub {
					return true
				}
			}
			return false
		}, 5*time.Second, 20*time.Millisecond)

		writeClass(t, dir, "org/x/Y", caller("org/x/Y"))
		waitFired(t, fired)
	})

	t.Run("unrelated files are ignored", func(t *testing.T) {
		dir := t.TempDir()
		_, fired := startWatcher(t, []string{dir})
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
		assertQuiet(t, fired, 300*time.Millisecond)
	})

	t.Run("callback errors do not stop the watcher", func(t *testing.T) {
		dir := t.TempDir()
		var calls atomic.Int32
		w, err := NewWatcher([]string{dir}, 20*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return assert.AnError
		}, discardLogger())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = w.Run(ctx)
		}()
		defer func() {
			cancel()
			<-done
			w.Close()
		}()

		writeClass(t, dir, "A", caller("A"))
		require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		writeClass(t, dir, "B", caller("B"))
		require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("missing directory is skipped", func(t *testing.T) {
		w, err := NewWatcher([]string{filepath.Join(t.TempDir(), "gone")}, 0, func(context.Context) error { return nil }, discardLogger())
		require.NoError(t, err)
		defer w.Close()
		assert.Empty(t, w.WatchList())
	})

	t.Run("nil callback", func(t *testing.T) {
		_, err := NewWatcher(nil, 0, nil, nil)
		assert.Error(t, err)
	})
}

func TestWatchDirs(t *testing.T) {
	r, err := location.NewResolver(location.WithLogger(discardLogger()))
	require.NoError(t, err)
	dir := t.TempDir()
	res := r.Of(context.Background(), dir, "jar:file:/libs/a.jar!/", "jar:file:/libs/b.jar!/com/")

	assert.Equal(t, []string{"/libs", dir}, WatchDirs(res.Locations))
}
