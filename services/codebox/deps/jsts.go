// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deps

import (
	"context"
	"path"
	"regexp"
	"strings"
)

const confidenceJS = 0.85

// Text patterns, not a parser. Confidence is calibrated to this imprecision.
var (
	jsImportPattern  = regexp.MustCompile(`(?m)^\s*import\s+.*?from\s+['"](.*?)['"];?`)
	jsRequirePattern = regexp.MustCompile(`require\(['"](.*?)['"]\)`)
)

// jsSuffixes are tried in order against the normalized module path.
var jsSuffixes = []string{".ts", ".tsx", ".js", ".jsx", ".d.ts", "/index.ts", "/index.js"}

// jsResolver handles TypeScript and JavaScript sources.
type jsResolver struct {
	lang string
}

func (r jsResolver) family() string { return r.lang }

func (jsResolver) parse(_ context.Context, content []byte) ([]importSpec, error) {
	var specs []importSpec
	for _, m := range jsImportPattern.FindAllSubmatch(content, -1) {
		specs = append(specs, importSpec{Module: string(m[1])})
	}
	for _, m := range jsRequirePattern.FindAllSubmatch(content, -1) {
		specs = append(specs, importSpec{Module: string(m[1])})
	}
	return specs, nil
}

func (jsResolver) resolve(src string, spec importSpec, files fileSet) []resolved {
	if !strings.HasPrefix(spec.Module, ".") {
		return nil
	}
	target := path.Clean(path.Join(path.Dir(src), spec.Module))
	if target == ".." || strings.HasPrefix(target, "../") {
		return nil
	}
	for _, suffix := range jsSuffixes {
		candidate := target + suffix
		if target == "." {
			// The workspace root itself can only resolve to an index file.
			if !strings.HasPrefix(suffix, "/") {
				continue
			}
			candidate = suffix[1:]
		}
		if files.has(candidate) {
			return []resolved{{dst: candidate, confidence: confidenceJS}}
		}
	}
	return nil
}
