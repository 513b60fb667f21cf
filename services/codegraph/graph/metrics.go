// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// graphTracerName is the OTel tracer name for graph assembly.
const graphTracerName = "codegraph.graph"

var (
	// graphWrites counts store writes.
	//
	// Labels:
	//   - op: "repository", "file", "class", "method", "attribute", "function",
	//     "imports", "branch", "commit"
	//   - status: "success", "error"
	graphWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codegraph",
			Subsystem: "graph",
			Name:      "writes_total",
			Help:      "Total graph store writes by operation and outcome.",
		},
		[]string{"op", "status"},
	)

	teardownDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codegraph",
			Subsystem: "graph",
			Name:      "teardown_deleted_nodes_total",
			Help:      "Total nodes deleted by repository teardown, by step.",
		},
		[]string{"step"},
	)

	assembleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codegraph",
			Subsystem: "graph",
			Name:      "assemble_duration_seconds",
			Help:      "Duration of repository graph assembly in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"status"},
	)
)

func observeWrite(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	graphWrites.WithLabelValues(op, status).Inc()
}

func observeTeardown(stats TeardownStats) {
	teardownDeleted.WithLabelValues(StepMethods).Add(float64(stats.Methods))
	teardownDeleted.WithLabelValues(StepAttributes).Add(float64(stats.Attributes))
	teardownDeleted.WithLabelValues(StepFunctions).Add(float64(stats.Functions))
	teardownDeleted.WithLabelValues(StepClasses).Add(float64(stats.Classes))
	teardownDeleted.WithLabelValues(StepFiles).Add(float64(stats.Files))
	teardownDeleted.WithLabelValues(StepBranches).Add(float64(stats.Branches))
	teardownDeleted.WithLabelValues(StepCommits).Add(float64(stats.Commits))
	teardownDeleted.WithLabelValues(StepRepository).Add(float64(stats.Repository))
}
