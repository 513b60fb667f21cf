// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const ingestTracerName = "codegraph.ingest"

var (
	ingestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codegraph",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of repository ingestion in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"status"},
	)

	// filesProcessed counts discovered files by outcome.
	//
	// Labels:
	//   - status: "analyzed", "failed"
	filesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codegraph",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total discovered files by analysis outcome.",
		},
		[]string{"status"},
	)

	watchTriggers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "codegraph",
			Subsystem: "ingest",
			Name:      "watch_triggers_total",
			Help:      "Total re-ingestions triggered by file changes.",
		},
	)
)
