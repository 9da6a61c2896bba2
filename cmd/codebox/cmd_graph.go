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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shuxueshuxue/Codebox/services/codebox/model"
)

func newDepsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deps [PATH...]",
		Short: "Infer import dependencies between indexed files",
		Long: `Parse indexed Python, TypeScript and JavaScript files and print the
import edges whose targets are indexed files. With no PATH every indexed
file is considered. Run 'codebox scan' first.

Examples:
  codebox deps
  codebox deps app/main.py web/index.ts --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			edges, err := svc.InferDeps(cmd.Context(), a.cfg.ProjectID, args)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), edges)
			}
			printDeps(cmd.OutOrStdout(), edges)
			return nil
		},
	}
}

func newLayoutCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Place the feature graph on the hex grid",
		Long: `Subcommands:
  plan   - print computed coordinates without saving them
  apply  - save coordinates from a file (the output of 'plan --json')
  auto   - plan and save`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "plan",
		Short: "Print computed coordinates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			coords, err := svc.PlanLayout(cmd.Context(), a.cfg.ProjectID)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), sortedCoords(coords))
			}
			printCoords(cmd.OutOrStdout(), coords)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "apply FILE",
		Short: "Save coordinates from a file ('-' reads stdin)",
		Long: `FILE is a YAML or JSON list of {id, q, r} entries, as printed by
'codebox layout plan --json'. Unknown ids are ignored.

Examples:
  codebox layout plan --json > layout.json && codebox layout apply layout.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var rows []coordView
			if err := yaml.Unmarshal(data, &rows); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			coords := make(map[int64]model.Axial, len(rows))
			for _, row := range rows {
				coords[row.ID] = model.Axial{Q: row.Q, R: row.R}
			}

			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.ApplyLayout(cmd.Context(), a.cfg.ProjectID, coords)
			if err != nil {
				return err
			}
			return printCount(cmd, a.jsonOutput, "updated", n)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "auto",
		Short: "Plan and save coordinates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.AutoLayout(cmd.Context(), a.cfg.ProjectID)
			if err != nil {
				return err
			}
			return printCount(cmd, a.jsonOutput, "updated", n)
		},
	})
	return cmd
}

func newGraphCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Manage the feature graph",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Replace the feature graph with a YAML document ('-' reads stdin)",
		Long: `The document lists features by name and edges by endpoint names:

  features:
    - name: api
      q: 0
      r: 0
      locked: true
    - name: ui
  edges:
    - from: ui
      to: api
      kind: calls

Features keep their id across imports when their name is unchanged.
Features and edges missing from the document are removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.ImportGraph(cmd.Context(), a.cfg.ProjectID, data)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "features %d, edges %d, removed %d\n", res.Features, res.Edges, res.Removed)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print live features and edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()

			g, err := svc.GraphSnapshot(cmd.Context(), a.cfg.ProjectID)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), g)
			}
			out := cmd.OutOrStdout()
			names := make(map[int64]string, len(g.Features))
			for _, f := range g.Features {
				names[f.ID] = f.Name
				coord := "-"
				if c, ok := f.Coord(); ok {
					coord = c.String()
				}
				lock := ""
				if f.Locked {
					lock = " locked"
				}
				fmt.Fprintf(out, "%d\t%s\t%s%s\n", f.ID, f.Name, coord, lock)
			}
			for _, e := range g.Edges {
				fmt.Fprintf(out, "%s -> %s [%s]\n", names[e.FromFeatureID], names[e.ToFeatureID], e.Kind)
			}
			return nil
		},
	})
	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func printCount(cmd *cobra.Command, asJSON bool, label string, n int) error {
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), map[string]int{label: n})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", label, n)
	return err
}
