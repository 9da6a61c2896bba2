// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codebox wires the workspace indexer, dependency inferrer and hex
// layout engine over one record store.
//
// # Operations
//
//	ScanWorkspace   full reconcile of the workspace tree
//	ScanOneLevel    reconcile direct children of one directory
//	InferDeps       import edges between indexed files
//	PlanLayout      hex coordinates for the feature graph (not persisted)
//	ApplyLayout     persist coordinates
//	AutoLayout      plan then apply
//	ListFiles       paged directory listing, optionally refreshed first
//	FileTree        nested view of every live record
//	GraphSnapshot   live features and edges
//	ImportGraph     load a feature graph from YAML
//	Watch           rescan directories as they change
package codebox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shuxueshuxue/Codebox/services/codebox/config"
	"github.com/shuxueshuxue/Codebox/services/codebox/deps"
	"github.com/shuxueshuxue/Codebox/services/codebox/idgen"
	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
	"github.com/shuxueshuxue/Codebox/services/codebox/layout"
	"github.com/shuxueshuxue/Codebox/services/codebox/model"
	cbbadger "github.com/shuxueshuxue/Codebox/services/codebox/storage/badger"
	"github.com/shuxueshuxue/Codebox/services/codebox/store"
	"github.com/shuxueshuxue/Codebox/services/codebox/watch"
)

// Service is the codebox facade.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg     config.Config
	db      *cbbadger.DB
	store   store.Store
	ids     idgen.Source
	indexer *indexer.Indexer
	deps    *deps.Inferrer
	layout  *layout.Engine
	logger  *slog.Logger
}

// Open opens the on-disk store named by cfg and builds a Service over it.
// Close releases the store.
func Open(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	ids, err := idgen.NewSnowflake(cfg.IDs.DatacenterID, cfg.IDs.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("id source: %w", err)
	}
	dbCfg := cbbadger.DefaultConfig(cfg.StorePath)
	dbCfg.Logger = logger
	dbCfg.MemTableSize = cfg.StoreMemTableMB << 20
	db, err := cbbadger.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	svc := New(store.NewBadgerStore(db), ids, cfg, logger)
	svc.db = db
	return svc, nil
}

// New builds a Service over an existing store.
func New(st store.Store, ids idgen.Source, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     *cfg,
		store:   st,
		ids:     ids,
		indexer: indexer.New(st, ids, cfg.Scan.Policy(), cfg.WorkspaceRoot, logger),
		deps:    deps.New(st, cfg.WorkspaceRoot, cfg.Infer.Options(), logger),
		layout:  layout.New(st, logger),
		logger:  logger,
	}
}

// Close releases the store opened by Open. Services built with New hold
// nothing to release.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Config returns the configuration the service was built with.
func (s *Service) Config() config.Config {
	return s.cfg
}

// ScanWorkspace reconciles the whole workspace, or rootOverride when set.
func (s *Service) ScanWorkspace(ctx context.Context, projectID int64, rootOverride string) (*indexer.ScanResult, error) {
	return s.indexer.ScanWorkspace(ctx, projectID, rootOverride)
}

// ScanOneLevel reconciles the direct children of parent ("" = root).
func (s *Service) ScanOneLevel(ctx context.Context, projectID int64, parent string) (*indexer.ScanResult, error) {
	return s.indexer.ScanOneLevel(ctx, projectID, parent)
}

// InferDeps returns import edges for the given files, or all indexed files
// when paths is empty.
func (s *Service) InferDeps(ctx context.Context, projectID int64, paths []string) ([]model.Dependency, error) {
	return s.deps.InferDeps(ctx, projectID, paths)
}

// PlanLayout computes hex coordinates for the project's feature graph.
func (s *Service) PlanLayout(ctx context.Context, projectID int64) (map[int64]model.Axial, error) {
	return s.layout.PlanLayoutSimple(ctx, projectID)
}

// ApplyLayout persists coordinates and returns the number of features
// updated.
func (s *Service) ApplyLayout(ctx context.Context, projectID int64, coords map[int64]model.Axial) (int, error) {
	return s.layout.ApplyLayout(ctx, projectID, coords)
}

// AutoLayout plans and applies the project's layout.
func (s *Service) AutoLayout(ctx context.Context, projectID int64) (int, error) {
	return s.layout.AutoLayout(ctx, projectID)
}

// Watch rescans changed directories until ctx is done. Unset IgnoreDirs and
// MaxDepth fall back to the scan policy.
func (s *Service) Watch(ctx context.Context, projectID int64, opts watch.Options) error {
	policy := s.indexer.Policy()
	if opts.IgnoreDirs == nil {
		opts.IgnoreDirs = policy.IgnoreDirs
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = policy.MaxDepth
	}
	w, err := watch.New(s.indexer, s.indexer.Root(), projectID, opts, s.logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	return w.Run(ctx)
}
