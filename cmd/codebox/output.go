// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shuxueshuxue/Codebox/services/codebox"
	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
	"github.com/shuxueshuxue/Codebox/services/codebox/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// scanView is the printable form of a scan result.
type scanView struct {
	ScanID    string    `json:"scan_id"`
	StartedAt time.Time `json:"started_at"`
	Touched   int       `json:"touched"`
	Pruned    int       `json:"pruned"`
	Hashed    int       `json:"hashed"`
	Errors    []string  `json:"errors"`
	Skipped   string    `json:"skipped,omitempty"`
}

func newScanView(res *indexer.ScanResult) scanView {
	v := scanView{
		ScanID:    res.ScanID,
		StartedAt: res.StartedAt,
		Touched:   res.Touched,
		Pruned:    res.Pruned,
		Hashed:    res.Hashed,
		Errors:    make([]string, 0, len(res.Errors)),
	}
	for _, e := range res.Errors {
		v.Errors = append(v.Errors, e.Error())
	}
	if res.Skipped != nil {
		v.Skipped = res.Skipped.Error()
	}
	return v
}

func printScan(w io.Writer, asJSON bool, res *indexer.ScanResult) error {
	v := newScanView(res)
	if asJSON {
		return writeJSON(w, v)
	}
	if v.Skipped != "" {
		_, err := fmt.Fprintf(w, "skipped: %s\n", v.Skipped)
		return err
	}
	fmt.Fprintf(w, "touched %d, pruned %d, hashed %d, errors %d\n", v.Touched, v.Pruned, v.Hashed, len(v.Errors))
	for _, e := range v.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}

func printFiles(w io.Writer, recs []model.FileRecord) {
	for _, r := range recs {
		name := r.Path
		if r.IsDir {
			name += "/"
		}
		size := "-"
		if r.SizeBytes != nil {
			size = fmt.Sprintf("%d", *r.SizeBytes)
		}
		lang := model.Deref(r.Lang)
		if lang == "" {
			lang = "-"
		}
		fmt.Fprintf(w, "%-48s %10s  %s\n", name, size, lang)
	}
}

func printDeps(w io.Writer, edges []model.Dependency) {
	for _, d := range edges {
		fmt.Fprintf(w, "%s -> %s (%.2f)\n", d.Src, d.Dst, d.Confidence)
	}
}

// coordView is one row of a printed layout.
type coordView struct {
	ID int64 `json:"id" yaml:"id"`
	Q  int   `json:"q" yaml:"q"`
	R  int   `json:"r" yaml:"r"`
}

func sortedCoords(coords map[int64]model.Axial) []coordView {
	out := make([]coordView, 0, len(coords))
	for id, c := range coords {
		out = append(out, coordView{ID: id, Q: c.Q, R: c.R})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func printCoords(w io.Writer, coords map[int64]model.Axial) {
	for _, c := range sortedCoords(coords) {
		fmt.Fprintf(w, "%d\t(%d,%d)\n", c.ID, c.Q, c.R)
	}
}

func printTree(w io.Writer, nodes []*codebox.TreeNode, depth int) {
	for _, n := range nodes {
		name := n.Name
		if n.IsDir {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
		printTree(w, n.Children, depth+1)
	}
}
