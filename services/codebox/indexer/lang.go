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
	"path"
	"strings"
)

// Language tags stored on FileRecord.Lang.
const (
	LangPython = "python"
	LangTS     = "ts"
	LangJS     = "js"
	LangMD     = "md"
	LangJSON   = "json"
)

var langByExt = map[string]string{
	".py":   LangPython,
	".ts":   LangTS,
	".tsx":  LangTS,
	".js":   LangJS,
	".jsx":  LangJS,
	".md":   LangMD,
	".json": LangJSON,
}

// LangForPath returns the language tag for p's extension, or "" when the
// extension is not recognised. Matching is case-insensitive.
func LangForPath(p string) string {
	return langByExt[strings.ToLower(path.Ext(p))]
}
