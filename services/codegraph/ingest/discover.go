// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns a repository into graph content: it locates the
// repository, discovers its Python sources, analyzes them in parallel and
// hands the results to the graph assembler.
package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
)

// defaultExcludeDirs are directory names never descended into.
var defaultExcludeDirs = []string{
	"tests", "test", "__pycache__", ".git", "venv", "env",
	"node_modules", "build", "dist", ".pytest_cache", "docs",
	"examples", "example", "demo", "benchmark",
}

// excludedFiles are file names never analyzed.
var excludedFiles = map[string]bool{
	"setup.py":    true,
	"conftest.py": true,
}

// DefaultExcludeDirs returns a copy of the directory names skipped during discovery.
func DefaultExcludeDirs() []string {
	out := make([]string, len(defaultExcludeDirs))
	copy(out, defaultExcludeDirs)
	return out
}

// SourceFile is one discovered Python file.
type SourceFile struct {
	// Path is the absolute path on disk.
	Path string

	// RelPath is relative to the repository root, with forward slashes.
	RelPath string

	Size int64
}

// DiscoverOptions tunes discovery.
type DiscoverOptions struct {
	// ExcludeDirs are directory names to skip in addition to the defaults.
	ExcludeDirs []string

	// MaxFileSize skips files of this size or larger. Zero uses ast.DefaultMaxFileSize.
	MaxFileSize int64

	// IgnoreGitignore disables .gitignore matching.
	IgnoreGitignore bool
}

// Discover lists the Python files under root that should be analyzed.
//
// Description:
//
//	Skips excluded and hidden directories, test_*.py, setup.py, conftest.py,
//	files at or over the size limit, symlinks, and paths matched by the
//	root .gitignore. Results are sorted by RelPath.
//
// Inputs:
//
//	root - Repository root directory.
//	opts - Discovery tuning.
//
// Outputs:
//
//	[]SourceFile - The discovered files. Empty, not nil, when none match.
//	error - Non-nil if root cannot be walked.
func Discover(root string, opts DiscoverOptions) ([]SourceFile, error) {
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = ast.DefaultMaxFileSize
	}
	skip := make(map[string]bool, len(defaultExcludeDirs)+len(opts.ExcludeDirs))
	for _, d := range defaultExcludeDirs {
		skip[d] = true
	}
	for _, d := range opts.ExcludeDirs {
		skip[d] = true
	}

	var gi *ignore.GitIgnore
	if !opts.IgnoreGitignore {
		gi = loadGitignore(root)
	}

	files := []SourceFile{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if skip[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(relSlash(root, path)+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if !strings.HasSuffix(name, ".py") || strings.HasPrefix(name, "test_") || excludedFiles[name] {
			return nil
		}

		rel := relSlash(root, path)
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() >= maxSize {
			return nil
		}

		files = append(files, SourceFile{Path: path, RelPath: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// ProjectModules returns the sorted top-level module names of the files:
// the first path segment, without a ".py" suffix.
func ProjectModules(files []SourceFile) []string {
	seen := make(map[string]bool)
	for _, f := range files {
		first, _, _ := strings.Cut(f.RelPath, "/")
		first = strings.TrimSuffix(first, ".py")
		if first == "" || strings.HasPrefix(first, ".") {
			continue
		}
		seen[first] = true
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
