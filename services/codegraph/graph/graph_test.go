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
	"io"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore creates a BadgerStore over an in-memory database.
func newTestStore(t *testing.T, opts ...BadgerOption) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	opts = append([]BadgerOption{WithBadgerLogger(quietLogger())}, opts...)
	store, err := NewBadgerStore(db, opts...)
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	return store
}

func newTestAssembler(t *testing.T, store Writer, opts ...AssemblerOption) *Assembler {
	t.Helper()
	opts = append([]AssemblerOption{WithAssemblerLogger(quietLogger())}, opts...)
	asm, err := NewAssembler(store, opts...)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return asm
}

func strPtr(s string) *string { return &s }

// demoAnalyses is a three-file package: pkg/models.py, pkg/api.py and
// pkg/__init__.py, with api importing models and the package.
func demoAnalyses() []*ast.SourceAnalysis {
	return []*ast.SourceAnalysis{
		{
			ModuleName: "pkg.models",
			FilePath:   "pkg/models.py",
			LineCount:  24,
			Classes: []ast.ClassRecord{{
				Name:     "User",
				FullName: "pkg.models.User",
				Methods: []ast.MethodRecord{{
					Name:     "save",
					FullName: "pkg.models.User.save",
					Params: []ast.ParameterRecord{
						{Name: "force", Type: "bool", Kind: ast.KindPositional, Optional: true, Default: strPtr("False")},
					},
					ParamsDetailed: []string{"force:bool=False"},
					ReturnType:     "None",
					Args:           []string{"force"},
				}},
				Attributes: []ast.AttributeRecord{
					{Name: "name", Type: "str", IsInstance: true, HasTypeHint: true, FromDataclass: true, LineNumber: 6},
					{Name: "registry", Type: "Dict[Any, Any]", IsClass: true, DefaultValue: strPtr("{}"), LineNumber: 7},
				},
			}},
			Functions: []ast.FunctionRecord{{
				Name:           "load",
				FullName:       "pkg.models.load",
				Params:         []ast.ParameterRecord{{Name: "path", Type: "str", Kind: ast.KindPositional}},
				ParamsDetailed: []string{"path:str"},
				ParamsList:     []string{"path:str"},
				ReturnType:     "User",
				Args:           []string{"path"},
			}},
		},
		{
			ModuleName: "pkg.api",
			FilePath:   "pkg/api.py",
			LineCount:  12,
			Classes: []ast.ClassRecord{{
				Name:     "Handler",
				FullName: "pkg.api.Handler",
				Methods: []ast.MethodRecord{{
					Name:       "get",
					FullName:   "pkg.api.Handler.get",
					Params:     []ast.ParameterRecord{{Name: "user_id", Type: "int", Kind: ast.KindPositional}},
					ReturnType: "Any",
					Args:       []string{"user_id"},
				}},
			}},
			Imports: []string{"pkg", "pkg.models"},
		},
		{
			ModuleName: "pkg.__init__",
			FilePath:   "pkg/__init__.py",
			LineCount:  1,
			Imports:    []string{"pkg.api"},
		},
	}
}

func demoMetadata() *Metadata {
	return &Metadata{
		Info: &RepositoryInfo{
			RemoteURL:        "https://example.com/demo.git",
			CurrentBranch:    "trunk",
			FileCount:        3,
			ContributorCount: 2,
			Size:             "4.1 kB",
		},
		Branches: []BranchInfo{
			{Name: "trunk", LastCommitDate: "2025-01-02", LastCommitMessage: "init"},
		},
		RecentCommits: []CommitInfo{
			{Hash: "abc123", AuthorName: "dev", AuthorEmail: "dev@example.com", Date: "2025-01-02", Message: "init"},
		},
	}
}

func assembleDemo(t *testing.T, asm *Assembler) *AssemblyStats {
	t.Helper()
	stats, err := asm.Assemble(context.Background(), "demo", demoAnalyses(), demoMetadata())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return stats
}

func subgraphHash(t *testing.T, q Querier, repo string) string {
	t.Helper()
	sg, err := q.Subgraph(context.Background(), repo)
	if err != nil {
		t.Fatalf("Subgraph(%s): %v", repo, err)
	}
	return sg.Hash()
}
