// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout places feature graphs on an axial hex grid.
//
// Compute is the pure placement algorithm. Engine loads graphs from a
// FeatureStore, plans them and persists coordinates.
package layout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shuxueshuxue/Codebox/services/codebox/model"
	"github.com/shuxueshuxue/Codebox/services/codebox/store"
)

var tracer = otel.Tracer("codebox.layout")

var (
	layoutProbeSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codebox_layout_probe_steps",
		Help:    "Collision probe moves needed to place one unlocked feature",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	layoutAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebox_layout_applied_total",
		Help: "Feature coordinates persisted by layout apply",
	})
)

// Engine plans and applies layouts for stored feature graphs.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	features store.FeatureStore
	logger   *slog.Logger
}

// New creates an Engine. A nil logger uses slog.Default().
func New(features store.FeatureStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		features: features,
		logger:   logger.With(slog.String("component", "layout")),
	}
}

// PlanLayoutSimple computes coordinates for every live feature of the
// project. Nothing is persisted.
func (e *Engine) PlanLayoutSimple(ctx context.Context, projectID int64) (_ map[int64]model.Axial, err error) {
	ctx, span := tracer.Start(ctx, "layout.PlanLayoutSimple",
		trace.WithAttributes(attribute.Int64("project_id", projectID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "plan failed")
		}
		span.End()
	}()

	features, err := e.features.ListFeatures(ctx, projectID, false)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	edges, err := e.features.ListFeatureEdges(ctx, projectID, false)
	if err != nil {
		return nil, fmt.Errorf("list feature edges: %w", err)
	}

	plan := Compute(features, edges)
	for _, steps := range plan.ProbeSteps {
		layoutProbeSteps.Observe(float64(steps))
	}

	span.SetAttributes(
		attribute.Int("features", len(plan.Coords)),
		attribute.Int("layers", len(plan.Layers)),
		attribute.Int("cyclic", plan.Cyclic),
	)
	if plan.Cyclic > 0 {
		e.logger.Debug("features placed in fallback layer",
			slog.Int64("project_id", projectID),
			slog.Int("count", plan.Cyclic),
		)
	}
	return plan.Coords, nil
}

// ApplyLayout persists coords and returns how many live features of the
// project were updated. Locked features are written too; unknown ids are
// ignored.
func (e *Engine) ApplyLayout(ctx context.Context, projectID int64, coords map[int64]model.Axial) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "layout.ApplyLayout",
		trace.WithAttributes(
			attribute.Int64("project_id", projectID),
			attribute.Int("requested", len(coords)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "apply failed")
		}
		span.End()
	}()

	if len(coords) == 0 {
		return 0, nil
	}
	updated, err := e.features.UpdateFeatureCoords(ctx, projectID, coords)
	if err != nil {
		return 0, err
	}
	layoutAppliedTotal.Add(float64(updated))
	span.SetAttributes(attribute.Int("updated", updated))
	e.logger.Info("layout applied",
		slog.Int64("project_id", projectID),
		slog.Int("requested", len(coords)),
		slog.Int("updated", updated),
	)
	return updated, nil
}

// AutoLayout plans the project layout and applies it.
func (e *Engine) AutoLayout(ctx context.Context, projectID int64) (int, error) {
	coords, err := e.PlanLayoutSimple(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return e.ApplyLayout(ctx, projectID, coords)
}
