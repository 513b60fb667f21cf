// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// astTracerName is the OTel tracer name for source analysis.
const astTracerName = "codegraph.ast"

// Package-level Prometheus metrics for source analysis.
var (
	// analyzeDuration measures per-file analysis time.
	//
	// Labels:
	//   - status: "success", "syntax_error", "too_large", "invalid_content", "canceled", "error"
	analyzeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codegraph",
			Subsystem: "ast",
			Name:      "analyze_duration_seconds",
			Help:      "Duration of Python file analysis in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"status"},
	)

	// analyzeTotal counts analyzed files by outcome.
	analyzeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codegraph",
			Subsystem: "ast",
			Name:      "analyze_total",
			Help:      "Total Python files analyzed by outcome.",
		},
		[]string{"status"},
	)

	// recordsExtracted counts extracted records by kind.
	//
	// Labels:
	//   - kind: "class", "method", "function", "attribute", "import"
	recordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codegraph",
			Subsystem: "ast",
			Name:      "records_extracted_total",
			Help:      "Total records extracted from Python sources by kind.",
		},
		[]string{"kind"},
	)
)

func startAnalyzeSpan(ctx context.Context, filePath string, size int) (context.Context, trace.Span) {
	return otel.Tracer(astTracerName).Start(ctx, "ast.AnalyzeFile",
		trace.WithAttributes(
			attribute.String("file.path", filePath),
			attribute.Int("file.size_bytes", size),
		),
	)
}

// analyzeStatus maps an analysis error to a label-safe status.
func analyzeStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSyntax):
		return "syntax_error"
	case errors.Is(err, ErrFileTooLarge):
		return "too_large"
	case errors.Is(err, ErrInvalidContent):
		return "invalid_content"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// finishAnalyze records metrics and closes out the span for one file.
func finishAnalyze(span trace.Span, start time.Time, result *SourceAnalysis, err error) {
	status := analyzeStatus(err)
	analyzeDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	analyzeTotal.WithLabelValues(status).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return
	}

	methods := result.MethodCount()
	attrs := result.AttributeCount()
	recordsExtracted.WithLabelValues("class").Add(float64(len(result.Classes)))
	recordsExtracted.WithLabelValues("method").Add(float64(methods))
	recordsExtracted.WithLabelValues("function").Add(float64(len(result.Functions)))
	recordsExtracted.WithLabelValues("attribute").Add(float64(attrs))
	recordsExtracted.WithLabelValues("import").Add(float64(len(result.Imports)))

	span.SetAttributes(
		attribute.String("module.name", result.ModuleName),
		attribute.Int("classes", len(result.Classes)),
		attribute.Int("methods", methods),
		attribute.Int("functions", len(result.Functions)),
		attribute.Int("attributes", attrs),
		attribute.Int("imports", len(result.Imports)),
	)
}
