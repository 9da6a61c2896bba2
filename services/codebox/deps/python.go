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
	"errors"
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Python confidences.
const (
	confidencePyImport = 0.9
	confidencePyFrom   = 0.85
)

// ErrSyntax is reported for sources whose syntax tree contains errors.
var ErrSyntax = errors.New("deps: syntax error")

// pythonResolver handles import and from-import statements.
//
// Python AST shapes used:
//
//	import_statement
//	├── dotted_name
//	└── aliased_import
//	    ├── dotted_name
//	    └── identifier (alias)
//	import_from_statement
//	├── relative_import
//	│   ├── import_prefix (dots)
//	│   └── dotted_name (optional)
//	├── dotted_name (module, before "import")
//	├── dotted_name+ (imported names, after "import")
//	├── aliased_import
//	└── wildcard_import
type pythonResolver struct{}

func (pythonResolver) family() string { return "python" }

func (pythonResolver) parse(ctx context.Context, content []byte) ([]importSpec, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, ErrSyntax
	}

	var specs []importSpec
	walkNodes(root, func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			specs = append(specs, pyImportStatement(n, content)...)
		case "import_from_statement":
			if spec, ok := pyImportFrom(n, content); ok {
				specs = append(specs, spec)
			}
		}
	})
	return specs, nil
}

// walkNodes visits n and all descendants in document order.
func walkNodes(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walkNodes(n.Child(i), visit)
	}
}

func nodeText(n *sitter.Node, content []byte) string {
	return string(content[n.StartByte():n.EndByte()])
}

func pyImportStatement(n *sitter.Node, content []byte) []importSpec {
	var specs []importSpec
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "dotted_name":
			specs = append(specs, importSpec{Module: nodeText(child, content)})
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				specs = append(specs, importSpec{Module: nodeText(name, content)})
			}
		}
	}
	return specs
}

func pyImportFrom(n *sitter.Node, content []byte) (importSpec, bool) {
	spec := importSpec{From: true}
	sawModule := false
	sawImport := false

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			sawModule = true
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "import_prefix":
					spec.Level = strings.Count(nodeText(gc, content), ".")
				case "dotted_name":
					spec.Module = nodeText(gc, content)
				}
			}
		case "dotted_name":
			if !sawImport {
				sawModule = true
				spec.Module = nodeText(child, content)
			} else {
				spec.Names = append(spec.Names, nodeText(child, content))
			}
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				spec.Names = append(spec.Names, nodeText(name, content))
			}
		}
	}
	return spec, sawModule
}

func (pythonResolver) resolve(src string, spec importSpec, files fileSet) []resolved {
	if !spec.From {
		if dst, ok := files.firstPython(dottedPath(spec.Module)); ok {
			return []resolved{{dst: dst, confidence: confidencePyImport}}
		}
		return nil
	}

	dir := path.Dir(src)
	if dir == "." {
		dir = ""
	}

	if spec.Level == 0 {
		mod := dottedPath(spec.Module)
		if dst, ok := files.firstPython(mod); ok {
			return []resolved{{dst: dst, confidence: confidencePyFrom}}
		}
		if dir != "" {
			if dst, ok := files.firstPython(dir + "/" + mod); ok {
				return []resolved{{dst: dst, confidence: confidencePyFrom}}
			}
		}
		return nil
	}

	base, ok := climb(dir, spec.Level-1)
	if !ok {
		return nil
	}
	if spec.Module != "" {
		if dst, ok := files.firstPython(joinRel(base, dottedPath(spec.Module))); ok {
			return []resolved{{dst: dst, confidence: confidencePyFrom}}
		}
		return nil
	}

	var out []resolved
	for _, name := range spec.Names {
		if dst, ok := files.firstPython(joinRel(base, dottedPath(name))); ok {
			out = append(out, resolved{dst: dst, confidence: confidencePyFrom})
		}
	}
	return out
}

func dottedPath(mod string) string {
	return strings.ReplaceAll(mod, ".", "/")
}

// climb removes n trailing segments from dir. It fails when that would go
// above the workspace root.
func climb(dir string, n int) (string, bool) {
	for ; n > 0; n-- {
		if dir == "" {
			return "", false
		}
		i := strings.LastIndex(dir, "/")
		if i < 0 {
			dir = ""
		} else {
			dir = dir[:i]
		}
	}
	return dir, true
}

func joinRel(dir, rel string) string {
	if dir == "" {
		return rel
	}
	return dir + "/" + rel
}
