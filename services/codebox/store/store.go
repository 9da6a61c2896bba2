// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the record store consumed by the indexer, the
// dependency inferrer and the layout engine, and a BadgerDB implementation.
//
// # Atomicity
//
// Every mutating call is all-or-nothing: either all records of the call
// become visible or none do. BadgerStore commits a file upsert that
// outgrows one transaction as staged chunks published by a final marker.
package store

import (
	"context"
	"errors"

	"github.com/shuxueshuxue/Codebox/services/codebox/model"
)

// ErrInvalidRecord is returned when a record cannot be keyed.
var ErrInvalidRecord = errors.New("store: invalid record")

// Kind filters file records by type.
type Kind int

const (
	KindAny Kind = iota
	KindDir
	KindFile
)

// FileQuery selects file records of one project.
type FileQuery struct {
	// IncludeDeleted also returns soft-deleted records.
	IncludeDeleted bool

	// Kind restricts results to directories or files.
	Kind Kind

	// ParentSet restricts results to direct children of Parent.
	// An empty Parent with ParentSet selects top-level entries.
	ParentSet bool
	Parent    string

	// Under restricts results to Under itself and its descendants.
	// Empty means the whole project.
	Under string

	// Paths restricts results to the listed paths. Empty means no restriction.
	Paths []string
}

// FileStore persists FileRecords keyed by (project, path, is_dir).
type FileStore interface {
	// ListFiles returns matching records, directories first, then by path.
	ListFiles(ctx context.Context, projectID int64, q FileQuery) ([]model.FileRecord, error)

	// UpsertFiles inserts or replaces records by key in one transaction.
	UpsertFiles(ctx context.Context, projectID int64, records []model.FileRecord) error
}

// FeatureStore persists the feature graph.
type FeatureStore interface {
	// ListFeatures returns features in ascending id order.
	ListFeatures(ctx context.Context, projectID int64, includeDeleted bool) ([]model.Feature, error)

	// ListFeatureEdges returns edges in ascending id order.
	ListFeatureEdges(ctx context.Context, projectID int64, includeDeleted bool) ([]model.FeatureEdge, error)

	// UpdateFeatureCoords writes coordinates for the given live features in
	// one transaction and returns how many were updated. Unknown and deleted
	// ids are ignored.
	UpdateFeatureCoords(ctx context.Context, projectID int64, coords map[int64]model.Axial) (int, error)

	// PutGraph inserts or replaces features and edges in one transaction.
	PutGraph(ctx context.Context, projectID int64, features []model.Feature, edges []model.FeatureEdge) error
}

// Store is the full record store.
type Store interface {
	FileStore
	FeatureStore
}
