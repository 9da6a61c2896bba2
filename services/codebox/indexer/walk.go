// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"
)

// observation is what the filesystem told us about one entry.
type observation struct {
	path   string
	isDir  bool
	parent *string
	size   *int64
	mtime  *time.Time
	lang   string
}

// pass accumulates observations and recovered errors for one scan.
type pass struct {
	ix       *Indexer
	root     *os.Root
	logger   *slog.Logger
	began    time.Time
	observed []observation
	errs     []*ScanError

	// unlisted holds directories whose listing failed. Their prior
	// descendants are never pruned by this pass.
	unlisted map[string]struct{}
}

func (ix *Indexer) newPass(root *os.Root, logger *slog.Logger) *pass {
	return &pass{ix: ix, root: root, logger: logger, began: time.Now(), unlisted: map[string]struct{}{}}
}

func (p *pass) fail(rel, op string, err error) {
	if rel == "" {
		rel = "."
	}
	se := &ScanError{Path: rel, Op: op, Err: err}
	p.errs = append(p.errs, se)
	p.logger.Debug("entry degraded", slog.String("path", rel), slog.String("op", op), slog.String("error", err.Error()))
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func parentOf(dir string) *string {
	if dir == "" {
		return nil
	}
	d := dir
	return &d
}

// readDir lists rel and remembers it as unlisted on failure.
func (p *pass) readDir(rel string) ([]fs.DirEntry, error) {
	entries, err := p.ix.readDir(p.root, rel)
	if err != nil {
		p.fail(rel, "readdir", err)
		p.unlisted[rel] = struct{}{}
	}
	return entries, err
}

// underUnlisted reports whether rel lies below a directory this pass could
// not list.
func (p *pass) underUnlisted(rel string) bool {
	if len(p.unlisted) == 0 {
		return false
	}
	if _, ok := p.unlisted[""]; ok {
		return true
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if _, ok := p.unlisted[dir]; ok {
			return true
		}
	}
	return false
}

// readRootDir lists rel through root, sorted by name. Entries read before
// an error are still returned.
func readRootDir(root *os.Root, rel string) ([]fs.DirEntry, error) {
	name := "."
	if rel != "" {
		name = filepath.FromSlash(rel)
	}
	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, err
}

// walk records the children of rel, which sits at depth, and recurses into
// child directories while depth is below MaxDepth.
func (p *pass) walk(ctx context.Context, rel string, depth int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan cancelled: %w", err)
	}
	entries, _ := p.readDir(rel)

	var subdirs []string
	for _, e := range entries {
		child := joinRel(rel, e.Name())
		isDir, o, ok := p.inspect(child, rel, e)
		if !ok {
			continue
		}
		if !isDir {
			p.observed = append(p.observed, o)
			continue
		}
		if p.ix.Ignored(e.Name()) || depth >= p.ix.policy.MaxDepth {
			continue
		}
		p.observed = append(p.observed, o)
		subdirs = append(subdirs, child)
	}

	for _, sub := range subdirs {
		if err := p.walk(ctx, sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// level records the direct children of rel without recursing.
func (p *pass) level(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan cancelled: %w", err)
	}
	entries, _ := p.readDir(rel)
	for _, e := range entries {
		isDir, o, ok := p.inspect(joinRel(rel, e.Name()), rel, e)
		if !ok || (isDir && p.ix.Ignored(e.Name())) {
			continue
		}
		p.observed = append(p.observed, o)
	}
	return nil
}

// inspect classifies one directory entry. Symlinks are resolved inside the
// root; links to directories are skipped (ok=false) and are never followed.
func (p *pass) inspect(child, dir string, e fs.DirEntry) (isDir bool, o observation, ok bool) {
	o = observation{path: child, parent: parentOf(dir)}

	var info fs.FileInfo
	var err error
	switch {
	case e.Type()&fs.ModeSymlink != 0:
		info, err = p.root.Stat(filepath.FromSlash(child))
		if err == nil && info.IsDir() {
			return true, o, false
		}
	case e.IsDir():
		o.isDir = true
		return true, o, true
	default:
		info, err = e.Info()
	}

	o.lang = LangForPath(child)
	if err != nil {
		p.fail(child, "stat", err)
		return false, o, true
	}
	size := info.Size()
	mtime := info.ModTime()
	o.size = &size
	o.mtime = &mtime
	return false, o, true
}
