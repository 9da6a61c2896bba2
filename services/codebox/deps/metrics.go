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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("codebox.deps")

var (
	depsEdgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codebox_deps_edges_total",
		Help: "Dependency edges emitted, by source language",
	}, []string{"lang"})

	depsParseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codebox_deps_parse_failures_total",
		Help: "Source files skipped because they could not be read or parsed",
	}, []string{"lang"})
)
