// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch keeps the index fresh by rescanning directories whose
// entries change on disk.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
)

var watchRescansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codebox_watch_rescans_total",
	Help: "Single-level rescans triggered by filesystem events",
}, []string{"status"})

// Rescanner refreshes one directory level of the index.
type Rescanner interface {
	ScanOneLevel(ctx context.Context, projectID int64, parent string) (*indexer.ScanResult, error)
}

// Batch reports one debounced round of rescans.
type Batch struct {
	// Parents are the rescanned directories, workspace-relative, sorted.
	// The workspace root is "".
	Parents []string

	// Touched sums records touched over all rescans.
	Touched int

	// Errors holds failed rescans.
	Errors []error
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before dirty directories are rescanned.
	// Default: 200ms
	Debounce time.Duration

	// BufferSize bounds pending events. Default: 1024
	BufferSize int

	// IgnoreDirs are directory names that are not watched.
	IgnoreDirs []string

	// MaxDepth is the deepest directory watched (root = 0).
	MaxDepth int

	// RescanRate caps single-level rescans per second across batches.
	// Zero means unlimited.
	RescanRate float64

	// OnBatch is called after each round of rescans. Optional.
	OnBatch func(Batch)
}

// Watcher maps filesystem events to single-level rescans of the directory
// containing each changed entry.
//
// # Thread Safety
//
// Safe for concurrent use. Rescans run on a single goroutine.
type Watcher struct {
	root      string
	projectID int64
	scanner   Rescanner
	fsw       *fsnotify.Watcher
	ignore    map[string]struct{}
	maxDepth  int
	debounce  time.Duration
	onBatch   func(Batch)
	limiter   *rate.Limiter
	logger    *slog.Logger

	dirty    chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	watching bool
}

// New creates a Watcher for the workspace at root. Call Start to begin.
func New(scanner Rescanner, root string, projectID int64, opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ignore := make(map[string]struct{}, len(opts.IgnoreDirs))
	for _, name := range opts.IgnoreDirs {
		ignore[name] = struct{}{}
	}
	var limiter *rate.Limiter
	if opts.RescanRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RescanRate), 1)
	}
	return &Watcher{
		root:      abs,
		projectID: projectID,
		scanner:   scanner,
		fsw:       fsw,
		ignore:    ignore,
		maxDepth:  opts.MaxDepth,
		debounce:  opts.Debounce,
		onBatch:   opts.OnBatch,
		limiter:   limiter,
		logger:    logger.With(slog.String("component", "watch")),
		dirty:     make(chan string, opts.BufferSize),
		done:      make(chan struct{}),
	}, nil
}

// Start watches every eligible directory and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stop ends watching and waits for in-flight rescans.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// WatchList returns watched directories, workspace-relative and sorted.
func (w *Watcher) WatchList() []string {
	var out []string
	for _, abs := range w.fsw.WatchList() {
		if rel, ok := w.rel(abs); ok {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

// addTree watches dir and its eligible descendants.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, ok := w.rel(p)
		if !ok || !w.eligible(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Debug("watch failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		return nil
	})
}

func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", true
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// eligible reports whether the directory rel is listed by a full scan.
func (w *Watcher) eligible(rel string) bool {
	if rel == "" {
		return true
	}
	segments := strings.Split(rel, "/")
	if len(segments) > w.maxDepth {
		return false
	}
	for _, s := range segments {
		if _, ok := w.ignore[s]; ok {
			return false
		}
	}
	return true
}

// dirtyParent returns the directory whose listing an event on abs changes.
func (w *Watcher) dirtyParent(abs string) (string, bool) {
	rel, ok := w.rel(abs)
	if !ok || rel == "" {
		return "", false
	}
	parent := ""
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		parent = rel[:i]
	}
	if !w.eligible(parent) {
		return "", false
	}
	if base := rel[strings.LastIndex(rel, "/")+1:]; w.isIgnoredName(base) {
		return "", false
	}
	return parent, true
}

func (w *Watcher) isIgnoredName(name string) bool {
	_, ok := w.ignore[name]
	return ok
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			parent, ok := w.dirtyParent(event.Name)
			if !ok {
				continue
			}
			select {
			case w.dirty <- parent:
			default:
				w.logger.Warn("event buffer full, dropping", slog.String("parent", parent))
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Debug("watch new directory", slog.String("error", err.Error()))
					}
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		if len(pending) == 0 {
			return
		}
		parents := make([]string, 0, len(pending))
		for p := range pending {
			parents = append(parents, p)
		}
		clear(pending)
		sort.Strings(parents)
		w.rescan(ctx, parents)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			flush()
			return
		case parent := <-w.dirty:
			pending[parent] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			flush()
		}
	}
}

func (w *Watcher) rescan(ctx context.Context, parents []string) {
	batch := Batch{Parents: parents}
	for _, parent := range parents {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				batch.Errors = append(batch.Errors, err)
				break
			}
		}
		res, err := w.scanner.ScanOneLevel(ctx, w.projectID, parent)
		var partial *indexer.PartialError
		if err != nil && !errors.As(err, &partial) {
			watchRescansTotal.WithLabelValues("error").Inc()
			w.logger.Error("rescan failed", slog.String("parent", parent), slog.String("error", err.Error()))
			batch.Errors = append(batch.Errors, err)
			continue
		}
		watchRescansTotal.WithLabelValues("ok").Inc()
		if res != nil {
			batch.Touched += res.Touched
		}
	}
	w.logger.Info("rescanned",
		slog.Int("directories", len(parents)),
		slog.Int("touched", batch.Touched),
	)
	if w.onBatch != nil {
		w.onBatch(batch)
	}
}
