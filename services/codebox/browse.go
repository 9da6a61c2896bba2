// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codebox

import (
	"context"
	"fmt"
	"path"

	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
	"github.com/shuxueshuxue/Codebox/services/codebox/model"
	"github.com/shuxueshuxue/Codebox/services/codebox/store"
)

// Listing limits.
const (
	DefaultListLimit = 200
	MaxListLimit     = 5000
)

// ListOptions selects one page of a directory listing.
type ListOptions struct {
	// Parent is the directory to list. Empty means the workspace root.
	Parent string

	// OnlyDirs drops files from the listing.
	OnlyDirs bool

	// Limit caps the page size. Zero means DefaultListLimit.
	Limit int

	// Offset skips entries.
	Offset int

	// Refresh rescans Parent before listing.
	Refresh bool
}

// ListFiles returns live direct children of opts.Parent, directories first
// and then by path.
//
// Description:
//
//	With Refresh the parent is rescanned first, so a browser can list a
//	directory that no full scan has reached. Unsafe parents are rejected
//	with indexer.ErrPathTraversal.
func (s *Service) ListFiles(ctx context.Context, projectID int64, opts ListOptions) ([]model.FileRecord, error) {
	parent, err := indexer.NormalizeParent(opts.Parent)
	if err != nil {
		return nil, err
	}
	if opts.Refresh {
		if _, err := s.indexer.ScanOneLevel(ctx, projectID, parent); err != nil && !isPartial(err) {
			return nil, fmt.Errorf("refresh %q: %w", parent, err)
		}
	}

	q := store.FileQuery{ParentSet: true, Parent: parent}
	if opts.OnlyDirs {
		q.Kind = store.KindDir
	}
	recs, err := s.store.ListFiles(ctx, projectID, q)
	if err != nil {
		return nil, err
	}
	return page(recs, opts.Offset, opts.Limit), nil
}

func page(recs []model.FileRecord, offset, limit int) []model.FileRecord {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)
	if offset >= len(recs) {
		return []model.FileRecord{}
	}
	end := min(offset+limit, len(recs))
	return recs[offset:end]
}

// TreeNode is one entry of FileTree.
type TreeNode struct {
	// ID is the workspace-relative path.
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	IsDir    bool        `json:"is_dir"`
	Children []*TreeNode `json:"children,omitempty"`
}

// FileTree nests every live record under its parent. Siblings list
// directories first, then by path. Records whose parent directory has no
// live record are not reachable and are left out.
func (s *Service) FileTree(ctx context.Context, projectID int64) ([]*TreeNode, error) {
	recs, err := s.store.ListFiles(ctx, projectID, store.FileQuery{})
	if err != nil {
		return nil, err
	}

	dirs := make(map[string]*TreeNode)
	for _, rec := range recs {
		if rec.IsDir {
			dirs[rec.Path] = &TreeNode{ID: rec.Path, Name: path.Base(rec.Path), IsDir: true}
		}
	}

	roots := []*TreeNode{}
	for _, rec := range recs {
		node := dirs[rec.Path]
		if !rec.IsDir {
			node = &TreeNode{ID: rec.Path, Name: path.Base(rec.Path)}
		}
		if rec.ParentPath == nil {
			roots = append(roots, node)
			continue
		}
		if parent, ok := dirs[*rec.ParentPath]; ok {
			parent.Children = append(parent.Children, node)
		}
	}
	return roots, nil
}
