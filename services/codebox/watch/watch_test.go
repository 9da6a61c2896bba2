// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
)

type recordingScanner struct {
	mu      sync.Mutex
	parents []string
	failOn  map[string]bool
}

func (r *recordingScanner) ScanOneLevel(_ context.Context, _ int64, parent string) (*indexer.ScanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parents = append(r.parents, parent)
	if r.failOn[parent] {
		return nil, errors.New("boom")
	}
	return &indexer.ScanResult{Touched: 1}, nil
}

func (r *recordingScanner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.parents...)
}

func mkdirs(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(rel)), 0o755))
	}
}

func newTestWatcher(t *testing.T, sc Rescanner, root string, opts Options) *Watcher {
	t.Helper()
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	w, err := New(sc, root, 1, opts, nil)
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_WatchListRespectsIgnoreAndDepth(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "a/b/c", "node_modules/pkg", "d")

	w := newTestWatcher(t, &recordingScanner{}, root, Options{
		IgnoreDirs: []string{"node_modules"},
		MaxDepth:   2,
	})
	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, []string{"", "a", "a/b", "d"}, w.WatchList())
}

func TestWatcher_DirtyParent(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, &recordingScanner{}, root, Options{
		IgnoreDirs: []string{".git"},
		MaxDepth:   1,
	})

	tests := []struct {
		rel    string
		parent string
		ok     bool
	}{
		{rel: "file.py", parent: "", ok: true},
		{rel: "src/file.py", parent: "src", ok: true},
		{rel: "src/deep/file.py", ok: false},
		{rel: ".git", ok: false},
		{rel: ".git/HEAD", ok: false},
		{rel: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			parent, ok := w.dirtyParent(filepath.Join(root, filepath.FromSlash(tt.rel)))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.parent, parent)
		})
	}

	_, ok := w.dirtyParent(filepath.Join(filepath.Dir(root), "elsewhere.py"))
	assert.False(t, ok)
}

func TestWatcher_RescansDirtyParents(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src")

	sc := &recordingScanner{}
	batches := make(chan Batch, 16)
	w := newTestWatcher(t, sc, root, Options{
		MaxDepth: 4,
		OnBatch:  func(b Batch) { batches <- b },
	})
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(root, "top.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "inner.py"), []byte("y"), 0o644))

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !seen[""] || !seen["src"] {
		select {
		case b := <-batches:
			for _, p := range b.Parents {
				seen[p] = true
			}
			assert.Empty(t, b.Errors)
		case <-deadline:
			t.Fatalf("rescans not observed, got %v", sc.seen())
		}
	}
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	sc := &recordingScanner{}
	w := newTestWatcher(t, sc, root, Options{MaxDepth: 4})
	require.NoError(t, w.Start(context.Background()))

	mkdirs(t, root, "fresh")
	require.Eventually(t, func() bool {
		for _, p := range w.WatchList() {
			if p == "fresh" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "fresh", "f.ts"), []byte("z"), 0o644))
	require.Eventually(t, func() bool {
		for _, p := range sc.seen() {
			if p == "fresh" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_RescanErrorsReported(t *testing.T) {
	root := t.TempDir()
	sc := &recordingScanner{failOn: map[string]bool{"": true}}
	batches := make(chan Batch, 16)
	w := newTestWatcher(t, sc, root, Options{OnBatch: func(b Batch) { batches <- b }})

	w.rescan(context.Background(), []string{"", "ok"})
	b := <-batches
	assert.Equal(t, []string{"", "ok"}, b.Parents)
	assert.Equal(t, 1, b.Touched)
	assert.Len(t, b.Errors, 1)
}

func TestWatcher_PartialErrorCountsAsSuccess(t *testing.T) {
	root := t.TempDir()
	batches := make(chan Batch, 1)
	w := newTestWatcher(t, partialScanner{}, root, Options{OnBatch: func(b Batch) { batches <- b }})

	w.rescan(context.Background(), []string{"x"})
	b := <-batches
	assert.Empty(t, b.Errors)
	assert.Equal(t, 2, b.Touched)
}

func TestWatcher_RescanRate(t *testing.T) {
	root := t.TempDir()
	sc := &recordingScanner{}
	batches := make(chan Batch, 2)
	w := newTestWatcher(t, sc, root, Options{RescanRate: 1000, OnBatch: func(b Batch) { batches <- b }})

	w.rescan(context.Background(), []string{"a", "b", "c"})
	b := <-batches
	assert.Empty(t, b.Errors)
	assert.Equal(t, []string{"a", "b", "c"}, sc.seen())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.rescan(ctx, []string{"d"})
	b = <-batches
	require.Len(t, b.Errors, 1)
	assert.ErrorIs(t, b.Errors[0], context.Canceled)
	assert.Equal(t, []string{"a", "b", "c"}, sc.seen())
}

type partialScanner struct{}

func (partialScanner) ScanOneLevel(context.Context, int64, string) (*indexer.ScanResult, error) {
	return &indexer.ScanResult{Touched: 2}, &indexer.PartialError{}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := newTestWatcher(t, &recordingScanner{}, t.TempDir(), Options{})
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestWatcher_RunReturnsOnCancel(t *testing.T) {
	w := newTestWatcher(t, &recordingScanner{}, t.TempDir(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestWatcher_MissingRoot(t *testing.T) {
	w := newTestWatcher(t, &recordingScanner{}, filepath.Join(t.TempDir(), "gone"), Options{})
	assert.Error(t, w.Start(context.Background()))
}
