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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("codebox.indexer")

// Scan modes used as the "mode" label.
const (
	modeFull  = "full"
	modeLevel = "level"
)

var (
	scanRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codebox_scan_records_total",
		Help: "File and directory records upserted by scans",
	}, []string{"mode"})

	scanEntryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codebox_scan_entry_errors_total",
		Help: "Per-entry filesystem errors recovered during scans",
	}, []string{"mode"})

	scanHashedFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codebox_scan_hashed_files_total",
		Help: "Files whose content digest was recomputed",
	})

	scanPrunedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codebox_scan_pruned_total",
		Help: "Stale records soft-deleted by scans",
	}, []string{"mode"})
)

func startScanSpan(ctx context.Context, name string, projectID int64, scanID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("codebox.project_id", projectID),
		attribute.String("codebox.scan_id", scanID),
	))
}

func endScanSpan(span trace.Span, res *ScanResult, err error) {
	if res != nil {
		span.SetAttributes(
			attribute.Int("codebox.touched", res.Touched),
			attribute.Int("codebox.pruned", res.Pruned),
			attribute.Int("codebox.entry_errors", len(res.Errors)),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func recordScanMetrics(mode string, res *ScanResult) {
	scanRecordsTotal.WithLabelValues(mode).Add(float64(res.Touched))
	scanEntryErrorsTotal.WithLabelValues(mode).Add(float64(len(res.Errors)))
	scanHashedFilesTotal.Add(float64(res.Hashed))
	scanPrunedTotal.WithLabelValues(mode).Add(float64(res.Pruned))
}
