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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shuxueshuxue/Codebox/services/codebox/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		debounce    time.Duration
		rescanRate  float64
		metricsAddr string
		initial     bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rescan directories as their contents change",
		Long: `Watch every indexed directory and rescan the direct children of each
directory that changes. Runs until interrupted.

Examples:
  codebox watch
  codebox watch --initial-scan --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			defer svc.Close()
			logger := a.logger.Slog()
			ctx := cmd.Context()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", slog.String("error", err.Error()))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving metrics", slog.String("addr", metricsAddr))
			}

			if initial {
				res, err := svc.ScanWorkspace(ctx, a.cfg.ProjectID, "")
				if err := a.reportScan(cmd, res, err); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			return svc.Watch(ctx, a.cfg.ProjectID, watch.Options{
				Debounce:   debounce,
				RescanRate: rescanRate,
				OnBatch: func(b watch.Batch) {
					if a.jsonOutput {
						_ = writeJSON(out, b)
						return
					}
					fmt.Fprintf(out, "rescanned %d directories, touched %d\n", len(b.Parents), b.Touched)
				},
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "quiet period before rescanning")
	cmd.Flags().Float64Var(&rescanRate, "rescan-rate", 0, "maximum directory rescans per second (0 = unlimited)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&initial, "initial-scan", false, "run a full scan before watching")
	return cmd
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
