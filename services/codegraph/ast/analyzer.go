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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"
)

// AnalyzerOption configures an Analyzer instance.
type AnalyzerOption func(*Analyzer)

// WithMaxFileSize sets the maximum file size the analyzer will accept.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Non-positive values are ignored.
func WithMaxFileSize(bytes int64) AnalyzerOption {
	return func(a *Analyzer) {
		if bytes > 0 {
			a.maxFileSize = bytes
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTolerantParsing makes the analyzer extract what it can from sources
// with syntax errors instead of rejecting them with ErrSyntax.
func WithTolerantParsing() AnalyzerOption {
	return func(a *Analyzer) {
		a.tolerant = true
	}
}

// RepoContext carries the per-repository collaborators of an analysis.
//
// Build it once per ingestion run and share it across files.
type RepoContext struct {
	Resolver   *ModuleResolver
	Classifier *ImportClassifier
}

// NewRepoContext creates a RepoContext for a repository on disk.
//
// Inputs:
//   - repoRoot: Repository root directory.
//   - projectModules: Top-level module names discovered in the repository.
//   - extraExternal: Additional always-external top-level modules.
func NewRepoContext(repoRoot string, projectModules []string, extraExternal ...string) *RepoContext {
	return &RepoContext{
		Resolver:   NewModuleResolver(repoRoot),
		Classifier: NewImportClassifier(projectModules, extraExternal...),
	}
}

// NewRepoContextFS creates a RepoContext over an in-memory or virtual file system.
func NewRepoContextFS(fsys fs.FS, projectModules []string, extraExternal ...string) *RepoContext {
	return &RepoContext{
		Resolver:   NewModuleResolverFS(fsys),
		Classifier: NewImportClassifier(projectModules, extraExternal...),
	}
}

// Analyzer extracts a SourceAnalysis from Python source files.
//
// Description:
//
//	Analyzer parses a file with tree-sitter, lowers it into the syntax
//	model and extracts classes, methods, attributes, functions and internal
//	imports. Each call is independent, so files may be analyzed in
//	parallel.
//
// Thread Safety:
//
//	Analyzer instances are safe for concurrent use.
//
// Example:
//
//	analyzer := NewAnalyzer(WithMaxFileSize(1 << 20))
//	repo := NewRepoContext("/src/project", []string{"project"})
//	result, err := analyzer.AnalyzeFile(ctx, content, "project/models.py", repo)
type Analyzer struct {
	maxFileSize int64
	tolerant    bool
	logger      *slog.Logger
	attrs       *AttributeExtractor
}

// NewAnalyzer creates a new Analyzer with the given options.
//
// Outputs:
//   - *Analyzer: Configured analyzer, never nil.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.attrs = NewAttributeExtractor(a.logger)
	return a
}

// AnalyzeFile extracts the code structure of one Python file.
//
// Description:
//
//	Validates size and encoding, parses the source and builds the
//	SourceAnalysis. The module name comes from the repository's package
//	layout and imports are filtered to those classified as internal.
//	Relative imports are resolved against the module's own package.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - content: Raw Python source bytes. Must be valid UTF-8.
//   - relPath: Path relative to the repository root, forward slashes.
//   - repo: Per-repository resolver and import classifier. Must not be nil.
//
// Outputs:
//   - *SourceAnalysis: Extracted structure. Never nil on success.
//   - error: Non-nil on failure:
//   - ErrFileTooLarge: Content exceeds the size limit
//   - ErrInvalidContent: Content is not valid UTF-8
//   - ErrSyntax: Source has syntax errors (unless tolerant)
//   - Context errors: Context was canceled or timed out
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (a *Analyzer) AnalyzeFile(ctx context.Context, content []byte, relPath string, repo *RepoContext) (result *SourceAnalysis, err error) {
	ctx, span := startAnalyzeSpan(ctx, relPath, len(content))
	defer span.End()

	start := time.Now()
	defer func() { finishAnalyze(span, start, result, err) }()

	if repo == nil {
		return nil, fmt.Errorf("repo context must not be nil")
	}
	if int64(len(content)) > a.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), a.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	mod, err := ParseModule(ctx, content)
	if err != nil {
		if !a.tolerant || mod == nil || !errors.Is(err, ErrSyntax) {
			return nil, fmt.Errorf("parsing %s: %w", relPath, err)
		}
		a.logger.Debug("analyzing source with syntax errors",
			slog.String("file", relPath))
	}

	result = a.analyzeModule(mod, relPath, repo)
	result.LineCount = countLines(content)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis canceled: %w", err)
	}
	return result, nil
}

func (a *Analyzer) analyzeModule(mod *Module, relPath string, repo *RepoContext) *SourceAnalysis {
	moduleName := repo.Resolver.ModuleName(relPath)
	result := &SourceAnalysis{
		ModuleName: moduleName,
		FilePath:   relPath,
		Classes:    make([]ClassRecord, 0),
		Functions:  make([]FunctionRecord, 0),
	}

	var attrStats AttributeStats
	imports := make(map[string]struct{})
	mod.Walk(func(s *Stmt) {
		switch s.Kind {
		case StmtClassDef:
			cls, stats := a.buildClass(moduleName, s)
			attrStats.add(stats)
			result.Classes = append(result.Classes, cls)
		case StmtImport:
			for _, alias := range s.Names {
				if repo.Classifier.IsInternal(alias.Name) {
					imports[alias.Name] = struct{}{}
				}
			}
		case StmtImportFrom:
			if s.Level > 0 {
				imports[ResolveRelative(moduleName, s.Level, s.Module)] = struct{}{}
			} else if s.Module != "" && repo.Classifier.IsInternal(s.Module) {
				imports[s.Module] = struct{}{}
			}
		}
	})

	for _, fn := range moduleFunctions(mod.Body) {
		if isPrivate(fn.Name) {
			continue
		}
		result.Functions = append(result.Functions, buildFunction(moduleName, fn))
	}

	result.Imports = make([]string, 0, len(imports))
	for name := range imports {
		result.Imports = append(result.Imports, name)
	}
	sort.Strings(result.Imports)

	if attrStats.Total > 0 || attrStats.Skipped > 0 {
		a.logger.Debug("file attributes",
			slog.String("file", relPath),
			slog.Int("classes", len(result.Classes)),
			slog.Int("total", attrStats.Total),
			slog.Int("dataclass", attrStats.Dataclass),
			slog.Int("attrs", attrStats.Attrs),
			slog.Int("class_vars", attrStats.ClassVars),
			slog.Int("properties", attrStats.Properties),
			slog.Int("slots", attrStats.Slots),
			slog.Int("skipped", attrStats.Skipped))
	}
	return result
}

func (a *Analyzer) buildClass(moduleName string, cls *Stmt) (ClassRecord, AttributeStats) {
	fullName := moduleName + "." + cls.Name
	rec := ClassRecord{
		Name:     cls.Name,
		FullName: fullName,
		Methods:  make([]MethodRecord, 0),
	}
	for _, s := range cls.Body {
		if s.Kind == StmtFuncDef && !isPrivate(s.Name) {
			rec.Methods = append(rec.Methods, buildMethod(fullName, s))
		}
	}
	var stats AttributeStats
	rec.Attributes, stats = a.attrs.Extract(cls, fullName)
	return rec, stats
}

// moduleFunctions returns functions defined at module scope, including
// those nested in module-level compound statements.
func moduleFunctions(stmts []*Stmt) []*Stmt {
	var out []*Stmt
	for _, s := range stmts {
		switch s.Kind {
		case StmtFuncDef:
			out = append(out, s)
		case StmtBlock:
			out = append(out, moduleFunctions(s.Body)...)
		}
	}
	return out
}

// countLines counts lines the way str.splitlines does for "\n" endings.
func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
