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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

// Cloner fetches a remote repository into a local directory.
type Cloner interface {
	Clone(ctx context.Context, url, dest, branch string) error
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger used for progress and diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Ingester) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithWorkers bounds the number of files analyzed concurrently.
// Non-positive values are ignored.
func WithWorkers(n int) Option {
	return func(in *Ingester) {
		if n > 0 {
			in.workers = n
		}
	}
}

// WithReposDir sets the directory remote repositories are cloned under.
func WithReposDir(dir string) Option {
	return func(in *Ingester) {
		if dir != "" {
			in.reposDir = dir
		}
	}
}

// WithDiscoverOptions sets the discovery tuning.
func WithDiscoverOptions(opts DiscoverOptions) Option {
	return func(in *Ingester) {
		in.discover = opts
	}
}

// WithExternalModules adds top-level modules that are always external.
func WithExternalModules(modules ...string) Option {
	return func(in *Ingester) {
		in.extraExternal = append(in.extraExternal, modules...)
	}
}

// WithMetadataSource replaces the git metadata reader.
func WithMetadataSource(src MetadataSource) Option {
	return func(in *Ingester) {
		if src != nil {
			in.metadata = src
		}
	}
}

// WithCloner replaces the git cloner.
func WithCloner(c Cloner) Option {
	return func(in *Ingester) {
		if c != nil {
			in.cloner = c
		}
	}
}

// WithKeepClone leaves cloned repositories on disk after ingestion.
func WithKeepClone() Option {
	return func(in *Ingester) {
		in.keepClone = true
	}
}

// Request names what to ingest.
type Request struct {
	// Source is a clone URL or a local directory.
	Source string

	// Branch is checked out when cloning. Ignored for local directories.
	Branch string

	// Name overrides the repository name derived from Source.
	Name string
}

// FileFailure records one file that could not be analyzed.
type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report summarises one ingestion run.
type Report struct {
	RunID      string `json:"run_id"`
	Repository string `json:"repository"`
	Source     string `json:"source"`
	Root       string `json:"root"`

	ProjectModules  []string      `json:"project_modules"`
	FilesDiscovered int           `json:"files_discovered"`
	FilesAnalyzed   int           `json:"files_analyzed"`
	FilesFailed     int           `json:"files_failed"`
	Failures        []FileFailure `json:"failures,omitempty"`

	Classes    int `json:"classes"`
	Methods    int `json:"methods"`
	Functions  int `json:"functions"`
	Attributes int `json:"attributes"`
	Imports    int `json:"imports"`

	MetadataAvailable bool                 `json:"metadata_available"`
	Assembly          *graph.AssemblyStats `json:"assembly,omitempty"`
	Duration          time.Duration        `json:"duration_ns"`
}

// Ingester runs the end-to-end ingestion of one repository.
//
// Description:
//
//	Locates the repository (cloning remote sources), discovers its Python
//	files, derives the project's top-level modules, analyzes every file on
//	a bounded worker pool, reads git metadata and assembles the graph.
//	Per-file analysis failures are counted and logged, never fatal.
//
// Thread Safety:
//
//	Safe for concurrent use on different repositories.
type Ingester struct {
	analyzer      *ast.Analyzer
	assembler     *graph.Assembler
	metadata      MetadataSource
	cloner        Cloner
	logger        *slog.Logger
	workers       int
	reposDir      string
	discover      DiscoverOptions
	extraExternal []string
	keepClone     bool
}

// NewIngester creates an Ingester.
//
// Inputs:
//
//	analyzer - Source analyzer. Must not be nil.
//	assembler - Graph assembler. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Ingester - The configured ingester.
//	error - Non-nil if a required collaborator is nil.
func NewIngester(analyzer *ast.Analyzer, assembler *graph.Assembler, opts ...Option) (*Ingester, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer must not be nil")
	}
	if assembler == nil {
		return nil, fmt.Errorf("assembler must not be nil")
	}
	in := &Ingester{
		analyzer:  analyzer,
		assembler: assembler,
		logger:    slog.Default(),
		workers:   runtime.NumCPU(),
		reposDir:  filepath.Join(os.TempDir(), "codegraph-repos"),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.metadata == nil || in.cloner == nil {
		git := NewGitClient(WithGitLogger(in.logger))
		if in.metadata == nil {
			in.metadata = git
		}
		if in.cloner == nil {
			in.cloner = git
		}
	}
	return in, nil
}

// Ingest analyzes the requested repository and replaces its graph.
//
// Outputs:
//
//	*Report - The run summary. Non-nil even on error, for partial reporting.
//	error - Non-nil if the repository cannot be located or discovered, the
//	        context is canceled, or assembly fails.
func (in *Ingester) Ingest(ctx context.Context, req Request) (report *Report, err error) {
	start := time.Now()
	report = &Report{RunID: uuid.NewString(), Source: req.Source}

	ctx, span := otel.Tracer(ingestTracerName).Start(ctx, "ingest.Ingest",
		trace.WithAttributes(
			attribute.String("run.id", report.RunID),
			attribute.String("source", req.Source),
		),
	)
	defer func() {
		report.Duration = time.Since(start)
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		ingestDuration.WithLabelValues(status).Observe(report.Duration.Seconds())
		span.End()
	}()

	root, cleanup, err := in.locate(ctx, req, report)
	if err != nil {
		return report, err
	}
	defer cleanup()

	logger := in.logger.With(slog.String("run_id", report.RunID), slog.String("repo", report.Repository))

	files, err := Discover(root, in.discover)
	if err != nil {
		return report, fmt.Errorf("discovering python files in %s: %w", root, err)
	}
	report.FilesDiscovered = len(files)
	logger.Info("found python files to analyze", slog.Int("files", len(files)))

	report.ProjectModules = ProjectModules(files)
	logger.Info("identified project modules", slog.Any("modules", report.ProjectModules))

	repoCtx := ast.NewRepoContext(root, report.ProjectModules, in.extraExternal...)
	analyses, err := in.analyzeAll(ctx, files, repoCtx, report, logger)
	if err != nil {
		return report, err
	}

	meta, err := in.metadata.Metadata(ctx, root)
	if err != nil {
		logger.Warn("could not extract git metadata", slog.Any("error", err))
		meta = &graph.Metadata{}
	} else {
		report.MetadataAvailable = true
	}

	stats, err := in.assembler.Assemble(ctx, report.Repository, analyses, meta)
	report.Assembly = stats
	if err != nil {
		return report, fmt.Errorf("assembling %s: %w", report.Repository, err)
	}

	logger.Info("repository ingested",
		slog.Int("files_analyzed", report.FilesAnalyzed),
		slog.Int("files_failed", report.FilesFailed),
		slog.Int("classes", report.Classes),
		slog.Int("methods", report.Methods),
		slog.Int("functions", report.Functions),
		slog.Int("imports", report.Imports),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// locate resolves the working tree for a request, cloning when the source
// is not a local directory. The returned cleanup is always non-nil.
func (in *Ingester) locate(ctx context.Context, req Request, report *Report) (string, func(), error) {
	noop := func() {}
	if req.Source == "" {
		return "", noop, fmt.Errorf("source must not be empty")
	}

	if info, err := os.Stat(req.Source); err == nil && info.IsDir() {
		root, err := filepath.Abs(req.Source)
		if err != nil {
			return "", noop, fmt.Errorf("resolving %s: %w", req.Source, err)
		}
		report.Root = root
		report.Repository = req.Name
		if report.Repository == "" {
			report.Repository = filepath.Base(root)
		}
		return root, noop, nil
	}

	report.Repository = req.Name
	if report.Repository == "" {
		report.Repository = RepoName(req.Source)
	}
	if report.Repository == "" {
		return "", noop, fmt.Errorf("cannot derive a repository name from %q", req.Source)
	}

	dest := filepath.Join(in.reposDir, report.Repository)
	if err := in.cloner.Clone(ctx, req.Source, dest, req.Branch); err != nil {
		return "", noop, err
	}
	report.Root = dest
	if in.keepClone {
		return dest, noop, nil
	}
	return dest, func() {
		in.logger.Info("cleaning up clone", slog.String("path", dest))
		if err := os.RemoveAll(dest); err != nil {
			in.logger.Warn("cleanup failed, directory may remain",
				slog.String("path", dest),
				slog.Any("error", err),
			)
		}
	}, nil
}

type fileResult struct {
	analysis *ast.SourceAnalysis
	err      error
}

// analyzeAll analyzes files on the worker pool and returns the successful
// analyses in discovery order.
func (in *Ingester) analyzeAll(ctx context.Context, files []SourceFile, repoCtx *ast.RepoContext, report *Report, logger *slog.Logger) ([]*ast.SourceAnalysis, error) {
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(f.Path)
			if err != nil {
				results[i] = fileResult{err: fmt.Errorf("reading: %w", err)}
				return nil
			}
			analysis, err := in.analyzer.AnalyzeFile(gctx, content, f.RelPath, repoCtx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			results[i] = fileResult{analysis: analysis, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyzing files: %w", err)
	}

	analyses := make([]*ast.SourceAnalysis, 0, len(files))
	for i, r := range results {
		if r.err != nil {
			report.FilesFailed++
			report.Failures = append(report.Failures, FileFailure{Path: files[i].RelPath, Error: r.err.Error()})
			filesProcessed.WithLabelValues("failed").Inc()
			logger.Warn("failed to analyze file",
				slog.String("file", files[i].RelPath),
				slog.Any("error", r.err),
			)
			continue
		}
		filesProcessed.WithLabelValues("analyzed").Inc()
		a := r.analysis
		analyses = append(analyses, a)
		report.FilesAnalyzed++
		report.Classes += len(a.Classes)
		report.Methods += a.MethodCount()
		report.Functions += len(a.Functions)
		report.Attributes += a.AttributeCount()
		report.Imports += len(a.Imports)
	}
	return analyses, nil
}
