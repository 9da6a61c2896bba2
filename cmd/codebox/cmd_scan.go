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
	"errors"

	"github.com/spf13/cobra"

	"github.com/shuxueshuxue/Codebox/services/codebox"
	"github.com/shuxueshuxue/Codebox/services/codebox/indexer"
)

func newScanCmd(a *app) *cobra.Command {
	var rootOverride string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Reconcile the whole workspace against the index",
		Long: `Walk the workspace, record every directory and file, hash changed files
when hashing is enabled and commit all changes at once.

Examples:
  codebox scan
  codebox scan --root ./subtree
  SCAN_HASH=true codebox scan --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.ScanWorkspace(cmd.Context(), a.cfg.ProjectID, rootOverride)
			return a.reportScan(cmd, res, err)
		},
	}
	cmd.Flags().StringVar(&rootOverride, "root", "", "scan this directory instead of the workspace root")

	cmd.AddCommand(&cobra.Command{
		Use:   "level [PARENT]",
		Short: "Reconcile the direct children of one directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := ""
			if len(args) == 1 {
				parent = args[0]
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.ScanOneLevel(cmd.Context(), a.cfg.ProjectID, parent)
			return a.reportScan(cmd, res, err)
		},
	})
	return cmd
}

// reportScan prints res when the pass committed and returns err.
func (a *app) reportScan(cmd *cobra.Command, res *indexer.ScanResult, err error) error {
	var partial *indexer.PartialError
	if err != nil && !errors.As(err, &partial) {
		return err
	}
	if perr := printScan(cmd.OutOrStdout(), a.jsonOutput, res); perr != nil {
		return perr
	}
	return err
}

func newListCmd(a *app) *cobra.Command {
	var opts codebox.ListOptions
	cmd := &cobra.Command{
		Use:     "ls [PARENT]",
		Aliases: []string{"list"},
		Short:   "List indexed entries of one directory",
		Long: `List live index records whose parent is PARENT (the workspace root when
omitted), directories first.

Examples:
  codebox ls
  codebox ls src --refresh
  codebox ls --dirs --limit 50 --offset 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Parent = args[0]
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			recs, err := svc.ListFiles(cmd.Context(), a.cfg.ProjectID, opts)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			printFiles(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.OnlyDirs, "dirs", false, "list directories only")
	cmd.Flags().IntVar(&opts.Limit, "limit", codebox.DefaultListLimit, "page size")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "entries to skip")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "rescan the directory before listing")
	return cmd
}

func newTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the indexed tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			tree, err := svc.FileTree(cmd.Context(), a.cfg.ProjectID)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), tree)
			}
			printTree(cmd.OutOrStdout(), tree, 0)
			return nil
		},
	}
}
