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
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
	"github.com/shuxueshuxue/Codebox/services/codebox/model"
)

// ErrInvalidGraph is returned by ImportGraph for malformed documents.
var ErrInvalidGraph = errors.New("codebox: invalid graph document")

// Graph is a snapshot of a project's live feature graph.
type Graph struct {
	Features []model.Feature     `json:"features"`
	Edges    []model.FeatureEdge `json:"edges"`
}

// GraphSnapshot returns live features and the live edges between them, in
// ascending id order.
func (s *Service) GraphSnapshot(ctx context.Context, projectID int64) (*Graph, error) {
	features, err := s.store.ListFeatures(ctx, projectID, false)
	if err != nil {
		return nil, err
	}
	edges, err := s.store.ListFeatureEdges(ctx, projectID, false)
	if err != nil {
		return nil, err
	}
	live := make(map[int64]struct{}, len(features))
	for _, f := range features {
		live[f.ID] = struct{}{}
	}
	g := &Graph{Features: features, Edges: []model.FeatureEdge{}}
	if g.Features == nil {
		g.Features = []model.Feature{}
	}
	for _, e := range edges {
		_, from := live[e.FromFeatureID]
		_, to := live[e.ToFeatureID]
		if from && to {
			g.Edges = append(g.Edges, e)
		}
	}
	return g, nil
}

// GraphDoc is the YAML form accepted by ImportGraph.
//
//	features:
//	  - name: api
//	    category: backend
//	    q: 0
//	    r: 0
//	    locked: true
//	  - name: ui
//	edges:
//	  - from: ui
//	    to: api
//	    kind: calls
type GraphDoc struct {
	Features []FeatureDoc `yaml:"features" validate:"dive"`
	Edges    []EdgeDoc    `yaml:"edges" validate:"dive"`
}

// FeatureDoc is one feature of a GraphDoc. Q and R are set together or not
// at all.
type FeatureDoc struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Q           *int   `yaml:"q" validate:"required_with=R"`
	R           *int   `yaml:"r" validate:"required_with=Q"`
	Locked      bool   `yaml:"locked"`
}

// EdgeDoc is one edge of a GraphDoc, naming its endpoints.
type EdgeDoc struct {
	From        string   `yaml:"from" validate:"required"`
	To          string   `yaml:"to" validate:"required"`
	Kind        string   `yaml:"kind"`
	Description string   `yaml:"description"`
	Confidence  *float64 `yaml:"confidence" validate:"omitempty,gte=0,lte=1"`
}

// ImportResult counts what ImportGraph wrote.
type ImportResult struct {
	Features int `json:"features"`
	Edges    int `json:"edges"`
	Removed  int `json:"removed"`
}

var docValidate = validator.New()

const defaultEdgeKind = "depends_on"

// ImportGraph replaces the project's feature graph with the one in data.
//
// Description:
//
//	Features are matched to existing live features by name and keep their
//	id; edges are matched by (from, to, kind). New records get ids from the
//	service's ID source. Live features and edges missing from the document
//	are soft-deleted. Everything is written in one transaction.
//
// Outputs:
//
//	ImportResult - Features and edges written, records soft-deleted.
//	error - ErrInvalidGraph for malformed documents, else store failures.
func (s *Service) ImportGraph(ctx context.Context, projectID int64, data []byte) (ImportResult, error) {
	var doc GraphDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}
	if err := docValidate.Struct(&doc); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	existing, err := s.store.ListFeatures(ctx, projectID, false)
	if err != nil {
		return ImportResult{}, err
	}
	existingEdges, err := s.store.ListFeatureEdges(ctx, projectID, false)
	if err != nil {
		return ImportResult{}, err
	}

	byName := make(map[string]model.Feature, len(existing))
	for _, f := range existing {
		byName[f.Name] = f
	}

	ids := make(map[string]int64, len(doc.Features))
	features := make([]model.Feature, 0, len(doc.Features))
	for _, fd := range doc.Features {
		if _, dup := ids[fd.Name]; dup {
			return ImportResult{}, fmt.Errorf("%w: duplicate feature %q", ErrInvalidGraph, fd.Name)
		}
		f, ok := byName[fd.Name]
		if !ok {
			f = model.Feature{ID: s.ids.NextID(), Name: fd.Name}
		}
		f.ProjectID = projectID
		f.Description = fd.Description
		f.Category = fd.Category
		f.Locked = fd.Locked
		if fd.Q != nil {
			f.SetCoord(model.Axial{Q: *fd.Q, R: *fd.R})
		}
		ids[fd.Name] = f.ID
		features = append(features, f)
	}

	type edgeKey struct {
		from, to int64
		kind     string
	}
	prior := make(map[edgeKey]model.FeatureEdge, len(existingEdges))
	for _, e := range existingEdges {
		prior[edgeKey{e.FromFeatureID, e.ToFeatureID, e.Kind}] = e
	}

	seen := make(map[edgeKey]struct{}, len(doc.Edges))
	edges := make([]model.FeatureEdge, 0, len(doc.Edges))
	for _, ed := range doc.Edges {
		from, ok := ids[ed.From]
		if !ok {
			return ImportResult{}, fmt.Errorf("%w: edge from unknown feature %q", ErrInvalidGraph, ed.From)
		}
		to, ok := ids[ed.To]
		if !ok {
			return ImportResult{}, fmt.Errorf("%w: edge to unknown feature %q", ErrInvalidGraph, ed.To)
		}
		kind := ed.Kind
		if kind == "" {
			kind = defaultEdgeKind
		}
		key := edgeKey{from, to, kind}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		e, ok := prior[key]
		if !ok {
			e = model.FeatureEdge{ID: s.ids.NextID(), FromFeatureID: from, ToFeatureID: to, Kind: kind}
		}
		e.ProjectID = projectID
		e.Description = ed.Description
		e.Confidence = ed.Confidence
		edges = append(edges, e)
	}

	res := ImportResult{Features: len(features), Edges: len(edges)}
	for _, f := range existing {
		if _, keep := ids[f.Name]; !keep {
			f.IsDeleted = true
			features = append(features, f)
			res.Removed++
		}
	}
	for key, e := range prior {
		if _, keep := seen[key]; !keep {
			e.IsDeleted = true
			edges = append(edges, e)
			res.Removed++
		}
	}

	if err := s.store.PutGraph(ctx, projectID, features, edges); err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("feature graph imported",
		slog.Int64("project_id", projectID),
		slog.Int("features", res.Features),
		slog.Int("edges", res.Edges),
		slog.Int("removed", res.Removed),
	)
	return res, nil
}

func isPartial(err error) bool {
	var partial *indexer.PartialError
	return errors.As(err, &partial)
}
