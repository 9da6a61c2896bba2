// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deps infers file-to-file import edges for indexed sources.
//
// Python sources are parsed with tree-sitter. TypeScript and JavaScript
// sources are scanned with text patterns. Only edges whose target is an
// indexed file are emitted. Unreadable or unparseable sources contribute no
// edges and are never reported as errors.
package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shuxueshuxue/Codebox/services/codebox/model"
	"github.com/shuxueshuxue/Codebox/services/codebox/store"
)

// Options tunes an Inferrer.
type Options struct {
	// Workers bounds concurrent file parsing. Values below 1 mean 1.
	Workers int

	// CacheSize is the number of parsed files kept across calls.
	// Zero disables the cache.
	CacheSize int
}

// importSpec is one import statement as written in a source file.
type importSpec struct {
	// Module is the dotted Python module or the JS module string.
	Module string

	// From marks a Python from-import.
	From bool

	// Level is the number of leading dots of a relative from-import.
	Level int

	// Names are imported names of a from-import.
	Names []string
}

type resolved struct {
	dst        string
	confidence float64
}

// resolver turns source text into edges for one language family.
type resolver interface {
	family() string
	parse(ctx context.Context, content []byte) ([]importSpec, error)
	resolve(src string, spec importSpec, files fileSet) []resolved
}

var resolvers = map[string]resolver{
	"python": pythonResolver{},
	"py":     pythonResolver{},
	"ts":     jsResolver{lang: "ts"},
	"tsx":    jsResolver{lang: "ts"},
	"js":     jsResolver{lang: "js"},
	"jsx":    jsResolver{lang: "js"},
}

// fileSet is the set of indexed, live file paths.
type fileSet map[string]struct{}

func (s fileSet) has(p string) bool {
	_, ok := s[p]
	return ok
}

// firstPython resolves a module path to mod.py or mod/__init__.py.
func (s fileSet) firstPython(mod string) (string, bool) {
	if mod == "" {
		return "", false
	}
	for _, candidate := range []string{mod + ".py", mod + "/__init__.py"} {
		if s.has(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Inferrer extracts dependency edges from indexed source files.
//
// Thread Safety: Safe for concurrent use.
type Inferrer struct {
	files  store.FileStore
	root   string
	opts   Options
	cache  *lru.Cache[string, []importSpec]
	logger *slog.Logger
}

// New creates an Inferrer reading sources below root.
func New(files store.FileStore, root string, opts Options, logger *slog.Logger) *Inferrer {
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	inf := &Inferrer{
		files:  files,
		root:   root,
		opts:   opts,
		logger: logger.With(slog.String("component", "deps")),
	}
	if opts.CacheSize > 0 {
		// Only fails for a non-positive size.
		inf.cache, _ = lru.New[string, []importSpec](opts.CacheSize)
	}
	return inf
}

// InferDeps returns import edges for the given indexed files.
//
// Description:
//
//	Candidates are the live file records named in paths, or every live
//	file record of the project when paths is empty. Each candidate is read
//	and parsed with the resolver for its language; edges are emitted only
//	for targets that are live indexed files. Results follow candidate path
//	order, then statement order within a file. Duplicates are kept.
//
// Inputs:
//
//	ctx - Cancels parsing.
//	projectID - Project whose records are consulted.
//	paths - Optional workspace-relative subset.
//
// Outputs:
//
//	[]model.Dependency - Edges, never nil.
//	error - Store failure or cancellation.
func (inf *Inferrer) InferDeps(ctx context.Context, projectID int64, paths []string) (_ []model.Dependency, err error) {
	ctx, span := tracer.Start(ctx, "deps.InferDeps",
		trace.WithAttributes(
			attribute.Int64("project_id", projectID),
			attribute.Int("requested_paths", len(paths)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "infer failed")
		}
		span.End()
	}()

	indexed, err := inf.files.ListFiles(ctx, projectID, store.FileQuery{Kind: store.KindFile})
	if err != nil {
		return nil, fmt.Errorf("list indexed files: %w", err)
	}
	known := make(fileSet, len(indexed))
	for _, rec := range indexed {
		known[rec.Path] = struct{}{}
	}

	candidates := indexed
	if len(paths) > 0 {
		candidates, err = inf.files.ListFiles(ctx, projectID, store.FileQuery{
			Kind:  store.KindFile,
			Paths: normalizePaths(paths),
		})
		if err != nil {
			return nil, fmt.Errorf("list candidate files: %w", err)
		}
	}

	root, err := os.OpenRoot(inf.root)
	if err != nil {
		inf.logger.Warn("workspace root unreadable", slog.String("root", inf.root), slog.String("error", err.Error()))
		return []model.Dependency{}, nil
	}
	defer root.Close()

	perFile := make([][]model.Dependency, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inf.opts.Workers)
	for i, rec := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perFile[i] = inf.inferFile(gctx, root, rec, known)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("infer dependencies: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("infer dependencies: %w", err)
	}

	out := []model.Dependency{}
	for _, edges := range perFile {
		out = append(out, edges...)
	}
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("edges", len(out)),
	)
	inf.logger.Info("dependencies inferred",
		slog.Int64("project_id", projectID),
		slog.Int("candidates", len(candidates)),
		slog.Int("edges", len(out)),
	)
	return out, nil
}

func (inf *Inferrer) inferFile(ctx context.Context, root *os.Root, rec model.FileRecord, known fileSet) []model.Dependency {
	lang := languageOf(rec)
	r, ok := resolvers[lang]
	if !ok {
		return nil
	}
	family := r.family()

	content, err := readFile(root, rec.Path)
	if err != nil {
		depsParseFailuresTotal.WithLabelValues(family).Inc()
		inf.logger.Debug("source unreadable", slog.String("path", rec.Path), slog.String("error", err.Error()))
		return nil
	}

	specs, err := inf.parse(ctx, r, content)
	if err != nil {
		depsParseFailuresTotal.WithLabelValues(family).Inc()
		inf.logger.Debug("source unparseable", slog.String("path", rec.Path), slog.String("error", err.Error()))
		return nil
	}

	var edges []model.Dependency
	for _, spec := range specs {
		for _, res := range r.resolve(rec.Path, spec, known) {
			edges = append(edges, model.Dependency{
				Src:        rec.Path,
				Dst:        res.dst,
				DepType:    model.DepTypeImport,
				InferredBy: model.InferredByStatic,
				Confidence: res.confidence,
			})
		}
	}
	if len(edges) > 0 {
		depsEdgesTotal.WithLabelValues(family).Add(float64(len(edges)))
	}
	return edges
}

// parse consults the cache, keyed by language family and content digest.
func (inf *Inferrer) parse(ctx context.Context, r resolver, content []byte) ([]importSpec, error) {
	if inf.cache == nil {
		return r.parse(ctx, content)
	}
	sum := sha256.Sum256(content)
	key := r.family() + ":" + hex.EncodeToString(sum[:])
	if specs, ok := inf.cache.Get(key); ok {
		return specs, nil
	}
	specs, err := r.parse(ctx, content)
	if err != nil {
		return nil, err
	}
	inf.cache.Add(key, specs)
	return specs, nil
}

// CacheLen reports the number of cached parse results.
func (inf *Inferrer) CacheLen() int {
	if inf.cache == nil {
		return 0
	}
	return inf.cache.Len()
}

func languageOf(rec model.FileRecord) string {
	if rec.Lang != nil && *rec.Lang != "" {
		return strings.ToLower(*rec.Lang)
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(rec.Path)), ".")
}

func readFile(root *os.Root, rel string) ([]byte, error) {
	f, err := root.Open(filepath.FromSlash(rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
		out = append(out, strings.TrimPrefix(p, "./"))
	}
	return out
}
