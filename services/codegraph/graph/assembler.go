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
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
)

// Repository node defaults used when no metadata is available.
const (
	DefaultCurrentBranch = "main"
	DefaultRepoSize      = "unknown"
)

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithAssemblerLogger sets the logger used for progress and diagnostics.
func WithAssemblerLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithBranchLimit caps the number of Branch nodes written. Non-positive
// values are ignored.
func WithBranchLimit(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.branchLimit = n
		}
	}
}

// AssemblyStats summarises one assembly.
type AssemblyStats struct {
	// RepositoryExisted is true when a previous ingestion was torn down.
	RepositoryExisted bool          `json:"repository_existed"`
	Teardown          TeardownStats `json:"teardown"`

	Files       int `json:"files"`
	Classes     int `json:"classes"`
	Methods     int `json:"methods"`
	Attributes  int `json:"attributes"`
	Functions   int `json:"functions"`
	ImportLinks int `json:"import_links"`
	Branches    int `json:"branches"`
	Commits     int `json:"commits"`

	NodesWritten         int `json:"nodes_written"`
	RelationshipsWritten int `json:"relationships_written"`
}

// Assembler writes analyzed files into a graph store.
//
// Description:
//
//	Each Assemble call replaces the repository's previous content: it tears
//	the repository down, recreates the Repository node, writes every file
//	with its classes and functions, links imports once every File node
//	exists, and finally records branches and commits.
//
// Thread Safety:
//
//	Safe for concurrent use on different repositories. Concurrent assembly
//	of the same repository interleaves with its teardown and is not supported.
type Assembler struct {
	store       Writer
	logger      *slog.Logger
	branchLimit int
}

// NewAssembler creates an Assembler over store.
//
// Inputs:
//
//	store - The write side of a graph store. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Assembler - The configured assembler.
//	error - Non-nil if store is nil.
func NewAssembler(store Writer, opts ...AssemblerOption) (*Assembler, error) {
	if store == nil {
		return nil, fmt.Errorf("graph store must not be nil")
	}
	a := &Assembler{
		store:       store,
		logger:      slog.Default(),
		branchLimit: DefaultBranchLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Assemble replaces the repository's graph with the given analyses.
//
// Description:
//
//	Writes fail fast: the first failing write aborts the assembly and is
//	returned wrapped with the file it concerned. The graph is then partial
//	until the next Assemble for the same repository tears it down.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	repo - Repository name. Must not be empty.
//	analyses - Analyzed files, written in order. Nil entries are skipped.
//	meta - Repository metadata. May be nil.
//
// Outputs:
//
//	*AssemblyStats - What was deleted and written. Non-nil even on error.
//	error - Wraps ErrTeardown if the teardown failed, or the first write error.
func (a *Assembler) Assemble(ctx context.Context, repo string, analyses []*ast.SourceAnalysis, meta *Metadata) (stats *AssemblyStats, err error) {
	stats = &AssemblyStats{}
	if repo == "" {
		return stats, fmt.Errorf("repository name must not be empty")
	}
	if meta == nil {
		meta = &Metadata{}
	}

	start := time.Now()
	ctx, span := otel.Tracer(graphTracerName).Start(ctx, "graph.Assemble",
		trace.WithAttributes(
			attribute.String("repo.name", repo),
			attribute.Int("files", len(analyses)),
		),
	)
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		assembleDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.Int("nodes_written", stats.NodesWritten),
			attribute.Int("relationships_written", stats.RelationshipsWritten),
		)
		span.End()
	}()

	if err := a.teardown(ctx, repo, stats); err != nil {
		return stats, err
	}

	repoNode := newRepositoryNode(repo, meta.Info)
	err = a.store.CreateRepository(ctx, repoNode)
	observeWrite("repository", err)
	if err != nil {
		return stats, fmt.Errorf("creating repository %s: %w", repo, err)
	}
	stats.NodesWritten++

	for i, analysis := range analyses {
		if analysis == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := a.writeFile(ctx, repo, analysis, stats); err != nil {
			return stats, fmt.Errorf("file %s: %w", analysis.FilePath, err)
		}
		if (i+1)%10 == 0 {
			a.logger.Info("assembly progress",
				slog.String("repo", repo),
				slog.Int("processed", i+1),
				slog.Int("total", len(analyses)),
			)
		}
	}

	for _, analysis := range analyses {
		if analysis == nil {
			continue
		}
		fileKey := FileKey(repo, analysis.FilePath)
		for _, module := range analysis.Imports {
			n, err := a.store.LinkImports(ctx, repo, fileKey, module)
			observeWrite("imports", err)
			if err != nil {
				return stats, fmt.Errorf("file %s: %w", analysis.FilePath, err)
			}
			stats.ImportLinks += n
			stats.RelationshipsWritten += n
		}
	}

	if err := a.writeHistory(ctx, repo, meta, stats); err != nil {
		return stats, err
	}

	a.logger.Info("graph assembled",
		slog.String("repo", repo),
		slog.Int("files", stats.Files),
		slog.Int("classes", stats.Classes),
		slog.Int("methods", stats.Methods),
		slog.Int("functions", stats.Functions),
		slog.Int("attributes", stats.Attributes),
		slog.Int("import_links", stats.ImportLinks),
		slog.Int("nodes_written", stats.NodesWritten),
		slog.Int("relationships_written", stats.RelationshipsWritten),
	)
	return stats, nil
}

// teardown clears a previous ingestion, if any.
func (a *Assembler) teardown(ctx context.Context, repo string, stats *AssemblyStats) error {
	exists, err := a.store.RepositoryExists(ctx, repo)
	if err != nil {
		return fmt.Errorf("%w for %s: %w", ErrTeardown, repo, err)
	}
	if !exists {
		a.logger.Info("repository not in graph, nothing to clean", slog.String("repo", repo))
		return nil
	}

	ts, err := a.store.Teardown(ctx, repo)
	if err != nil {
		a.logger.Error("repository teardown rolled back",
			slog.String("repo", repo),
			slog.Any("error", err),
		)
		return err
	}
	stats.RepositoryExisted = true
	stats.Teardown = ts
	observeTeardown(ts)

	a.logger.Info("repository cleared",
		slog.String("repo", repo),
		slog.Int("total_deleted", ts.Total()),
		slog.Int("methods", ts.Methods),
		slog.Int("attributes", ts.Attributes),
		slog.Int("functions", ts.Functions),
		slog.Int("classes", ts.Classes),
		slog.Int("files", ts.Files),
		slog.Int("branches", ts.Branches),
		slog.Int("commits", ts.Commits),
	)
	return nil
}

// writeFile writes one File node and everything it defines.
func (a *Assembler) writeFile(ctx context.Context, repo string, analysis *ast.SourceAnalysis, stats *AssemblyStats) error {
	file := newFileNode(repo, analysis)
	err := a.store.CreateFile(ctx, file)
	observeWrite("file", err)
	if err != nil {
		return err
	}
	stats.Files++
	stats.NodesWritten++
	stats.RelationshipsWritten++

	for _, cls := range analysis.Classes {
		err := a.store.UpsertClass(ctx, file.Key, ClassNode{FullName: cls.FullName, Name: cls.Name})
		observeWrite("class", err)
		if err != nil {
			return fmt.Errorf("class %s: %w", cls.FullName, err)
		}
		stats.Classes++
		stats.NodesWritten++
		stats.RelationshipsWritten++

		for _, m := range cls.Methods {
			err := a.store.UpsertMethod(ctx, cls.FullName, newMethodNode(cls.FullName, m))
			observeWrite("method", err)
			if err != nil {
				return fmt.Errorf("method %s: %w", m.FullName, err)
			}
			stats.Methods++
			stats.NodesWritten++
			stats.RelationshipsWritten++
		}

		for _, attr := range cls.Attributes {
			err := a.store.UpsertAttribute(ctx, cls.FullName, newAttributeNode(cls.FullName, attr))
			observeWrite("attribute", err)
			if err != nil {
				return fmt.Errorf("attribute %s.%s: %w", cls.FullName, attr.Name, err)
			}
			stats.Attributes++
			stats.NodesWritten++
			stats.RelationshipsWritten++
		}
	}

	for _, fn := range analysis.Functions {
		err := a.store.UpsertFunction(ctx, file.Key, newFunctionNode(analysis.FilePath, fn))
		observeWrite("function", err)
		if err != nil {
			return fmt.Errorf("function %s: %w", fn.FullName, err)
		}
		stats.Functions++
		stats.NodesWritten++
		stats.RelationshipsWritten++
	}
	return nil
}

// writeHistory records branches, capped at the branch limit, and recent commits.
func (a *Assembler) writeHistory(ctx context.Context, repo string, meta *Metadata, stats *AssemblyStats) error {
	branches := meta.Branches
	if len(branches) > a.branchLimit {
		branches = branches[:a.branchLimit]
	}
	for _, b := range branches {
		err := a.store.CreateBranch(ctx, repo, BranchNode{
			Key:               BranchKey(repo, b.Name),
			Name:              b.Name,
			LastCommitDate:    b.LastCommitDate,
			LastCommitMessage: b.LastCommitMessage,
		})
		observeWrite("branch", err)
		if err != nil {
			return fmt.Errorf("branch %s: %w", b.Name, err)
		}
		stats.Branches++
		stats.NodesWritten++
		stats.RelationshipsWritten++
	}

	for _, c := range meta.RecentCommits {
		err := a.store.CreateCommit(ctx, repo, CommitNode{
			Key:         CommitKey(repo, c.Hash),
			Hash:        c.Hash,
			AuthorName:  c.AuthorName,
			AuthorEmail: c.AuthorEmail,
			Date:        c.Date,
			Message:     c.Message,
		})
		observeWrite("commit", err)
		if err != nil {
			return fmt.Errorf("commit %s: %w", c.Hash, err)
		}
		stats.Commits++
		stats.NodesWritten++
		stats.RelationshipsWritten++
	}
	return nil
}

func newRepositoryNode(repo string, info *RepositoryInfo) RepositoryNode {
	node := RepositoryNode{
		Name:          repo,
		CurrentBranch: DefaultCurrentBranch,
		Size:          DefaultRepoSize,
	}
	if info == nil {
		return node
	}
	node.RemoteURL = info.RemoteURL
	node.FileCount = info.FileCount
	node.ContributorCount = info.ContributorCount
	if info.CurrentBranch != "" {
		node.CurrentBranch = info.CurrentBranch
	}
	if info.Size != "" {
		node.Size = info.Size
	}
	return node
}
