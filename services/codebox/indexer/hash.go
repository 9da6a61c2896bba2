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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// hashChunkSize is the read size used while streaming file content.
const hashChunkSize = 8192

// hashFile returns the hex SHA-256 of rel, opened through root so the read
// cannot leave the workspace.
func hashFile(root *os.Root, rel string) (string, error) {
	f, err := root.Open(filepath.FromSlash(rel))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type hashJob struct {
	index int
	path  string
}

type hashResult struct {
	digest string
	err    error
}

// hashAll hashes jobs with at most workers files open at once. Results are
// indexed like jobs. Individual failures are reported per result and never
// cancel the other jobs.
func hashAll(ctx context.Context, root *os.Root, jobs []hashJob, workers int) []hashResult {
	results := make([]hashResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = hashResult{err: err}
				return nil
			}
			digest, err := hashFile(root, job.path)
			results[i] = hashResult{digest: digest, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
