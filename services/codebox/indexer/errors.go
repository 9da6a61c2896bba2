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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPathTraversal marks a single-level scan parent that escapes the
	// workspace. The scan does nothing.
	ErrPathTraversal = errors.New("indexer: path escapes workspace")

	// ErrNotDirectory marks a single-level scan parent that is missing or
	// not a directory. The scan does nothing.
	ErrNotDirectory = errors.New("indexer: not a directory")
)

// ScanError is a recovered per-entry filesystem failure.
type ScanError struct {
	Path string
	Op   string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// PartialError is returned, after a successful commit, by scans whose
// policy has ReportErrors set and which recovered at least one entry error.
type PartialError struct {
	Errors []*ScanError
}

func (e *PartialError) Error() string {
	if len(e.Errors) == 1 {
		return "indexer: 1 entry failed: " + e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "indexer: %d entries failed", len(e.Errors))
	for i, se := range e.Errors {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		b.WriteString("; ")
		b.WriteString(se.Error())
	}
	return b.String()
}

// Unwrap exposes the individual entry errors to errors.Is and errors.As.
func (e *PartialError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, se := range e.Errors {
		out[i] = se
	}
	return out
}
