// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer reconciles a workspace directory against persisted
// FileRecords.
//
// # Passes
//
// A pass captures the existing records once, walks the filesystem, decides
// per file whether content must be re-hashed, hashes in parallel and then
// commits every upsert in one all-or-nothing store call. Nothing written
// during a pass is read back by the same pass.
//
// # Failure Policy
//
// Per-entry filesystem failures are recovered: the entry keeps whatever
// could be observed (often without size or hash) and the failure is listed
// in ScanResult.Errors. A directory that cannot be listed is never taken
// as evidence that its prior descendants are gone, so PruneStale leaves
// them alone for that pass. Unsafe or missing single-level parents produce an
// empty result with ScanResult.Skipped set. Only store failures and context
// cancellation are returned as errors, in which case nothing is committed.
package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shuxueshuxue/Codebox/services/codebox/idgen"
	"github.com/shuxueshuxue/Codebox/services/codebox/model"
	"github.com/shuxueshuxue/Codebox/services/codebox/store"
)

// DefaultIgnoreDirs are directory names never descended into.
var DefaultIgnoreDirs = []string{
	".git", ".conda", "node_modules", ".venv", ".polycache", ".cache", ".mypy_cache", ".pytest_cache",
}

// Policy controls what a scan records and hashes.
type Policy struct {
	// IgnoreDirs are directory names (not paths) that are neither recorded
	// nor descended into.
	IgnoreDirs []string

	// MaxDepth is the directory depth (root = 0) at which descent stops.
	// The directory at MaxDepth and its files are still recorded.
	MaxDepth int

	// HashEnabled turns on SHA-256 content digests.
	HashEnabled bool

	// HashMaxBytes is the largest file size that is hashed.
	HashMaxBytes int64

	// HashWorkers bounds concurrent hashing. Values below 1 mean 1.
	HashWorkers int

	// PruneStale soft-deletes live records the pass did not observe.
	PruneStale bool

	// ReportErrors makes scans return a *PartialError after committing
	// when any entry failed.
	ReportErrors bool
}

// DefaultPolicy returns the stock policy: default ignore set, depth 12,
// hashing off with a 1 MiB threshold.
func DefaultPolicy() Policy {
	return Policy{
		IgnoreDirs:   append([]string(nil), DefaultIgnoreDirs...),
		MaxDepth:     12,
		HashMaxBytes: 1 << 20,
		HashWorkers:  4,
	}
}

// ScanResult summarises one committed pass.
type ScanResult struct {
	// ScanID correlates log entries of the pass.
	ScanID string

	// StartedAt is written to every touched record as LastScannedTime.
	StartedAt time.Time

	// Touched counts directory and file records inserted or updated.
	Touched int

	// Pruned counts records soft-deleted because they were not observed.
	Pruned int

	// Hashed counts files whose digest was recomputed.
	Hashed int

	// Errors lists recovered per-entry failures.
	Errors []*ScanError

	// Skipped explains a pass that did nothing (ErrPathTraversal,
	// ErrNotDirectory). Nil for passes that ran.
	Skipped error
}

// Indexer runs scans for one workspace root.
//
// Thread Safety: Safe for concurrent use. Concurrent passes over the same
// project race at commit time; the last commit wins per record.
type Indexer struct {
	files  store.FileStore
	ids    idgen.Source
	policy Policy
	ignore map[string]struct{}
	root   string
	logger *slog.Logger
	now    func() time.Time

	readDir func(root *os.Root, rel string) ([]fs.DirEntry, error)
}

// New creates an Indexer for the workspace at root.
//
// Inputs:
//
//	files - Record store. Must not be nil.
//	ids - ID source for newly observed records. Must not be nil.
//	policy - Scan policy.
//	root - Workspace root. Made absolute.
//	logger - Optional; nil uses slog.Default().
func New(files store.FileStore, ids idgen.Source, policy Policy, root string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	ignore := make(map[string]struct{}, len(policy.IgnoreDirs))
	for _, name := range policy.IgnoreDirs {
		ignore[name] = struct{}{}
	}
	return &Indexer{
		files:  files,
		ids:    ids,
		policy: policy,
		ignore: ignore,
		root:   root,
		logger: logger.With(slog.String("component", "indexer")),
		now:    time.Now,

		readDir: readRootDir,
	}
}

// Root returns the absolute workspace root.
func (ix *Indexer) Root() string {
	return ix.root
}

// Policy returns the scan policy.
func (ix *Indexer) Policy() Policy {
	return ix.policy
}

// Ignored reports whether a directory with this name is skipped.
func (ix *Indexer) Ignored(name string) bool {
	_, ok := ix.ignore[name]
	return ok
}

func (ix *Indexer) newResult() *ScanResult {
	return &ScanResult{
		ScanID:    uuid.NewString(),
		StartedAt: ix.now().UTC(),
	}
}

// ScanWorkspace reconciles the whole tree under the workspace root, or
// under rootOverride when it is non-empty.
//
// Description:
//
//	Walks the tree applying the ignore set and depth limit, records every
//	directory except the root and every file, recomputes digests for
//	changed files when hashing is enabled and commits all upserts at once.
//	With PruneStale, live records of the project that were not observed
//	are soft-deleted in the same commit.
//
// Outputs:
//
//	*ScanResult - Counts and recovered entry errors. Skipped is set to
//	              ErrNotDirectory when the root cannot be opened.
//	error - Store failure or cancellation (nothing committed), or a
//	        *PartialError when ReportErrors is set (committed).
func (ix *Indexer) ScanWorkspace(ctx context.Context, projectID int64, rootOverride string) (res *ScanResult, err error) {
	rootDir := ix.root
	if rootOverride != "" {
		if rootDir, err = filepath.Abs(rootOverride); err != nil {
			return nil, fmt.Errorf("resolve root override: %w", err)
		}
	}

	res = ix.newResult()
	logger := ix.logger.With(
		slog.String("scan_id", res.ScanID),
		slog.Int64("project_id", projectID),
		slog.String("mode", modeFull),
	)
	ctx, span := startScanSpan(ctx, "indexer.ScanWorkspace", projectID, res.ScanID)
	defer func() { endScanSpan(span, res, err) }()

	root, err := os.OpenRoot(rootDir)
	if err != nil {
		res.Skipped = fmt.Errorf("%w: %s", ErrNotDirectory, rootDir)
		logger.Warn("workspace root unavailable", slog.String("root", rootDir), slog.String("error", err.Error()))
		return res, nil
	}
	defer root.Close()

	prior, err := ix.snapshot(ctx, projectID, store.FileQuery{IncludeDeleted: true})
	if err != nil {
		return nil, err
	}

	p := ix.newPass(root, logger)
	if err := p.walk(ctx, "", 0); err != nil {
		return nil, err
	}
	return ix.commit(ctx, projectID, modeFull, p, prior, res)
}

// ScanOneLevel reconciles only the direct children of parent. An empty
// parent (or ".") means the workspace root.
//
// Description:
//
//	Parents that are absolute or contain a ".." segment are rejected
//	without touching the filesystem. Missing or non-directory parents also
//	yield an empty result. Otherwise behaves like ScanWorkspace restricted
//	to one directory listing; PruneStale only considers direct children
//	of parent.
//
// Outputs:
//
//	*ScanResult - Counts. Skipped is ErrPathTraversal or ErrNotDirectory
//	              for rejected parents.
//	error - As for ScanWorkspace.
func (ix *Indexer) ScanOneLevel(ctx context.Context, projectID int64, parent string) (res *ScanResult, err error) {
	res = ix.newResult()
	logger := ix.logger.With(
		slog.String("scan_id", res.ScanID),
		slog.Int64("project_id", projectID),
		slog.String("mode", modeLevel),
		slog.String("parent", parent),
	)
	ctx, span := startScanSpan(ctx, "indexer.ScanOneLevel", projectID, res.ScanID)
	defer func() { endScanSpan(span, res, err) }()

	rel, err := NormalizeParent(parent)
	if err != nil {
		res.Skipped = err
		logger.Warn("rejected scan parent", slog.String("error", err.Error()))
		return res, nil
	}

	root, err := os.OpenRoot(ix.root)
	if err != nil {
		res.Skipped = fmt.Errorf("%w: %s", ErrNotDirectory, ix.root)
		return res, nil
	}
	defer root.Close()

	if rel != "" {
		info, statErr := root.Stat(filepath.FromSlash(rel))
		if statErr != nil || !info.IsDir() {
			res.Skipped = fmt.Errorf("%w: %s", ErrNotDirectory, rel)
			logger.Debug("scan parent is not a directory")
			return res, nil
		}
	}

	prior, err := ix.snapshot(ctx, projectID, store.FileQuery{IncludeDeleted: true, ParentSet: true, Parent: rel})
	if err != nil {
		return nil, err
	}

	p := ix.newPass(root, logger)
	if err := p.level(ctx, rel); err != nil {
		return nil, err
	}
	return ix.commit(ctx, projectID, modeLevel, p, prior, res)
}

// NormalizeParent cleans a workspace-relative directory path. It returns
// "" for the root and ErrPathTraversal for absolute paths or paths with a
// ".." segment.
func NormalizeParent(parent string) (string, error) {
	p := strings.ReplaceAll(parent, `\`, "/")
	if p == "" || p == "." {
		return "", nil
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(parent) || filepath.VolumeName(parent) != "" {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, parent)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, parent)
		}
	}
	p = path.Clean(p)
	if p == "." {
		return "", nil
	}
	return p, nil
}

func (ix *Indexer) snapshot(ctx context.Context, projectID int64, q store.FileQuery) (map[model.FileKey]model.FileRecord, error) {
	recs, err := ix.files.ListFiles(ctx, projectID, q)
	if err != nil {
		return nil, fmt.Errorf("load existing records: %w", err)
	}
	prior := make(map[model.FileKey]model.FileRecord, len(recs))
	for _, r := range recs {
		prior[r.Key()] = r
	}
	return prior, nil
}

// commit turns observations into records, hashes what needs hashing and
// writes everything in one store upsert.
func (ix *Indexer) commit(ctx context.Context, projectID int64, mode string, p *pass, prior map[model.FileKey]model.FileRecord, res *ScanResult) (*ScanResult, error) {
	records, jobs := ix.plan(projectID, p.observed, prior, res.StartedAt)

	for i, r := range hashAll(ctx, p.root, jobs, ix.policy.HashWorkers) {
		if r.err != nil {
			p.fail(jobs[i].path, "hash", r.err)
			continue
		}
		records[jobs[i].index].Hash = model.StringPtr(r.digest)
		res.Hashed++
	}
	res.Touched = len(records)

	if ix.policy.PruneStale {
		stale := pruneStale(p, prior)
		if len(p.unlisted) > 0 {
			p.logger.Warn("pruning skipped below unreadable directories", slog.Int("dirs", len(p.unlisted)))
		}
		res.Pruned = len(stale)
		records = append(records, stale...)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan cancelled: %w", err)
	}
	if err := ix.files.UpsertFiles(ctx, projectID, records); err != nil {
		p.logger.Error("scan commit failed", slog.Int("records", len(records)), slog.String("error", err.Error()))
		return nil, fmt.Errorf("commit scan: %w", err)
	}

	res.Errors = p.errs
	recordScanMetrics(mode, res)
	p.logger.Info("scan committed",
		slog.Int("touched", res.Touched),
		slog.Int("hashed", res.Hashed),
		slog.Int("pruned", res.Pruned),
		slog.Int("entry_errors", len(res.Errors)),
		slog.Duration("elapsed", time.Since(p.began)),
	)

	if ix.policy.ReportErrors && len(res.Errors) > 0 {
		return res, &PartialError{Errors: res.Errors}
	}
	return res, nil
}

// plan builds the upsert set and the hash jobs. A file is unchanged when a
// live prior record has the same size and a LastScannedTime no earlier than
// the file's mtime. Unchanged files keep their digest; changed files keep
// it too unless re-hashing succeeds.
func (ix *Indexer) plan(projectID int64, observed []observation, prior map[model.FileKey]model.FileRecord, now time.Time) ([]model.FileRecord, []hashJob) {
	records := make([]model.FileRecord, 0, len(observed))
	var jobs []hashJob

	for _, o := range observed {
		key := model.FileKey{Path: o.path, IsDir: o.isDir}
		old, seen := prior[key]
		live := seen && !old.IsDeleted

		rec := model.FileRecord{
			ProjectID:       projectID,
			Path:            o.path,
			IsDir:           o.isDir,
			ParentPath:      o.parent,
			LastScannedTime: model.TimePtr(now),
		}
		if seen {
			rec.ID = old.ID
		} else {
			rec.ID = ix.ids.NextID()
		}

		if !o.isDir {
			rec.SizeBytes = o.size
			if o.lang != "" {
				rec.Lang = model.StringPtr(o.lang)
			}
			if live {
				rec.Hash = old.Hash
			}
			unchanged := live &&
				o.size != nil && o.mtime != nil &&
				old.SizeBytes != nil && *old.SizeBytes == *o.size &&
				old.LastScannedTime != nil && !o.mtime.After(*old.LastScannedTime)

			if ix.policy.HashEnabled && o.size != nil && *o.size <= ix.policy.HashMaxBytes &&
				(!unchanged || rec.Hash == nil) {
				jobs = append(jobs, hashJob{index: len(records), path: o.path})
			}
		}
		records = append(records, rec)
	}
	return records, jobs
}

// pruneStale soft-deletes prior records the pass did not observe, except
// those below a directory it could not list.
func pruneStale(p *pass, prior map[model.FileKey]model.FileRecord) []model.FileRecord {
	seen := make(map[model.FileKey]struct{}, len(p.observed))
	for _, o := range p.observed {
		seen[model.FileKey{Path: o.path, IsDir: o.isDir}] = struct{}{}
	}
	var stale []model.FileRecord
	for key, rec := range prior {
		if rec.IsDeleted {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		if p.underUnlisted(rec.Path) {
			continue
		}
		rec.IsDeleted = true
		stale = append(stale, rec)
	}
	store.SortFiles(stale)
	return stale
}
