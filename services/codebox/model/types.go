// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the records shared by the indexer, the dependency
// inferrer and the hex layout engine.
//
// FileRecord and Feature are persisted by the store package. Dependency is a
// transient output and is never written by the core.
package model

import (
	"fmt"
	"time"
)

// FileRecord is one file or directory observed inside a workspace.
//
// Identity is (ProjectID, Path, IsDir). Path is workspace-relative and uses
// forward slashes. ParentPath is nil only for top-level entries.
type FileRecord struct {
	ID              int64      `json:"id"`
	ProjectID       int64      `json:"project_id"`
	Path            string     `json:"path"`
	IsDir           bool       `json:"is_dir"`
	SizeBytes       *int64     `json:"size_bytes"`
	Hash            *string    `json:"hash_sha256"`
	Lang            *string    `json:"lang"`
	ParentPath      *string    `json:"parent_path"`
	LastScannedTime *time.Time `json:"last_scanned_time"`
	IsDeleted       bool       `json:"is_deleted"`
}

// Key returns the composite identity of the record within its project.
func (r FileRecord) Key() FileKey {
	return FileKey{Path: r.Path, IsDir: r.IsDir}
}

// FileKey is the (path, is_dir) part of a FileRecord identity.
type FileKey struct {
	Path  string
	IsDir bool
}

// String implements fmt.Stringer.
func (k FileKey) String() string {
	if k.IsDir {
		return k.Path + "/"
	}
	return k.Path
}

// Dependency types and resolution methods emitted by the inferrer.
const (
	DepTypeImport    = "import"
	InferredByStatic = "static"
)

// Dependency is a directed source dependency between two indexed files.
type Dependency struct {
	Src        string  `json:"src"`
	Dst        string  `json:"dst"`
	DepType    string  `json:"dep_type"`
	InferredBy string  `json:"inferred_by"`
	Confidence float64 `json:"confidence"`
}

// Axial is a cell of a hexagonal grid in axial coordinates.
type Axial struct {
	Q int `json:"q" yaml:"q"`
	R int `json:"r" yaml:"r"`
}

// String implements fmt.Stringer.
func (a Axial) String() string {
	return fmt.Sprintf("(%d,%d)", a.Q, a.R)
}

// Feature is a node of the feature graph placed on the hex grid.
//
// HexQ and HexR are either both set or both nil. Locked features keep their
// coordinate across layout runs.
type Feature struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	HexQ        *int   `json:"hex_q"`
	HexR        *int   `json:"hex_r"`
	Locked      bool   `json:"layout_locked"`
	IsDeleted   bool   `json:"is_deleted"`
}

// Coord returns the stored coordinate, or false when none is set.
func (f Feature) Coord() (Axial, bool) {
	if f.HexQ == nil || f.HexR == nil {
		return Axial{}, false
	}
	return Axial{Q: *f.HexQ, R: *f.HexR}, true
}

// SetCoord stores c as the feature coordinate.
func (f *Feature) SetCoord(c Axial) {
	q, r := c.Q, c.R
	f.HexQ = &q
	f.HexR = &r
}

// FeatureEdge is a directed edge of the feature graph.
type FeatureEdge struct {
	ID            int64    `json:"id"`
	ProjectID     int64    `json:"project_id"`
	FromFeatureID int64    `json:"from_feature_id"`
	ToFeatureID   int64    `json:"to_feature_id"`
	Kind          string   `json:"kind"`
	Description   string   `json:"description,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	IsDeleted     bool     `json:"is_deleted"`
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string { return &s }

// Int64Ptr returns a pointer to a copy of v.
func Int64Ptr(v int64) *int64 { return &v }

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time { return &t }

// Deref returns the pointed-to value or the zero value when p is nil.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
