// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command codebox indexes a workspace, infers file dependencies and lays
// out feature graphs on a hex grid.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shuxueshuxue/Codebox/pkg/logging"
	"github.com/shuxueshuxue/Codebox/pkg/telemetry"
	"github.com/shuxueshuxue/Codebox/services/codebox"
	"github.com/shuxueshuxue/Codebox/services/codebox/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds persistent flag values and the state built from them.
type app struct {
	configFile  string
	envFile     string
	projectID   int64
	workspace   string
	logLevel    string
	traceStdout bool
	jsonOutput  bool
	quiet       bool

	cfg      *config.Config
	logger   *logging.Logger
	shutdown telemetry.ShutdownFunc
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "codebox",
		Short: "Index a workspace and lay out its feature graph",
		Long: `codebox keeps a persistent index of a workspace directory tree,
infers import dependencies between indexed source files and places
feature graphs on an axial hex grid.

Examples:
  codebox scan
  codebox ls src --refresh
  codebox deps src/app.py --json
  codebox graph import features.yaml && codebox layout auto`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a.shutdown != nil {
				if err := a.shutdown(context.WithoutCancel(cmd.Context())); err != nil {
					a.logger.Warn("trace flush failed", slog.String("error", err.Error()))
				}
			}
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.envFile, "env-file", "", `dotenv file (default ".env", "-" disables)`)
	flags.Int64VarP(&a.projectID, "project", "p", -1, "project id (default from configuration)")
	flags.StringVarP(&a.workspace, "workspace", "w", "", "workspace root (default from configuration)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&a.traceStdout, "trace", false, "print OpenTelemetry spans to stderr")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results as JSON")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "suppress log output on stderr")

	root.AddCommand(
		newScanCmd(a),
		newListCmd(a),
		newTreeCmd(a),
		newDepsCmd(a),
		newLayoutCmd(a),
		newGraphCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	opts := config.LoadOptions{File: a.configFile, EnvFile: a.envFile}
	if a.workspace != "" {
		// The flag wins over the environment and moves the default store
		// location with it.
		opts.LookupEnv = func(key string) (string, bool) {
			if key == config.EnvWorkspaceRoot {
				return a.workspace, true
			}
			return os.LookupEnv(key)
		}
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	if a.projectID >= 0 {
		cfg.ProjectID = a.projectID
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.traceStdout {
		cfg.Telemetry.TraceExporter = telemetry.ExporterStdout
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "codebox",
		Format:  logging.Format(cfg.Log.Format),
		Quiet:   a.quiet,
		Output:  cmd.ErrOrStderr(),
	})

	a.shutdown, err = telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:   "codebox",
		TraceExporter: cfg.Telemetry.TraceExporter,
		OTLPEndpoint:  cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:  cfg.Telemetry.OTLPInsecure,
		Output:        cmd.ErrOrStderr(),
	})
	return err
}

// open builds the service for a command. The caller closes it.
func (a *app) open() (*codebox.Service, error) {
	return codebox.Open(a.cfg, a.logger.Slog())
}
