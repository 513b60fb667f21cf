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

import "context"

// Writer is the write side of a graph store.
//
// Description:
//
//	Class, Method, Attribute and Function nodes are upserted: the first write
//	for a key creates the node and later writes leave its properties alone.
//	Repository, File, Branch and Commit nodes are created fresh and are only
//	ever removed by Teardown. Every node-creating call also creates the edge
//	from its owner, so callers never write bare edges except IMPORTS.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. The assembler writes
//	sequentially regardless.
type Writer interface {
	// RepositoryExists reports whether a Repository node with this name exists.
	RepositoryExists(ctx context.Context, repo string) (bool, error)

	// Teardown deletes everything reachable from the repository in one
	// transaction, in TeardownSteps order. On failure nothing is deleted and
	// the returned error wraps ErrTeardown.
	Teardown(ctx context.Context, repo string) (TeardownStats, error)

	CreateRepository(ctx context.Context, node RepositoryNode) error

	// CreateFile creates the File node and the Repository-CONTAINS->File edge.
	CreateFile(ctx context.Context, node FileNode) error

	// UpsertClass merges the Class node and the File-DEFINES->Class edge.
	UpsertClass(ctx context.Context, fileKey string, node ClassNode) error

	// UpsertMethod merges the Method node and the Class-HAS_METHOD->Method edge.
	UpsertMethod(ctx context.Context, classFullName string, node MethodNode) error

	// UpsertAttribute merges the Attribute node and the Class-HAS_ATTRIBUTE->Attribute edge.
	UpsertAttribute(ctx context.Context, classFullName string, node AttributeNode) error

	// UpsertFunction merges the Function node and the File-DEFINES->Function edge.
	UpsertFunction(ctx context.Context, fileKey string, node FunctionNode) error

	// LinkImports merges File-IMPORTS->File edges from the source file to
	// every file of the same repository whose module name equals module or
	// lies beneath it. Self-edges are skipped. Returns the number of targets.
	LinkImports(ctx context.Context, repo, sourceFileKey, module string) (int, error)

	// CreateBranch creates the Branch node and the Repository-HAS_BRANCH->Branch edge.
	CreateBranch(ctx context.Context, repo string, node BranchNode) error

	// CreateCommit creates the Commit node and the Repository-HAS_COMMIT->Commit edge.
	CreateCommit(ctx context.Context, repo string, node CommitNode) error
}

// Querier is the read side of a graph store.
//
// Lookups of a single node return ErrNotFound when it is absent; list
// lookups return an empty slice instead.
type Querier interface {
	FindClass(ctx context.Context, fullName string) (*ClassNode, error)

	// FindClassesByName returns every class whose short name equals name.
	FindClassesByName(ctx context.Context, name string) ([]ClassNode, error)

	MethodsOfClass(ctx context.Context, classFullName string) ([]MethodNode, error)

	// FindMethods returns every method named name across all classes.
	FindMethods(ctx context.Context, name string) ([]MethodNode, error)

	AttributesOfClass(ctx context.Context, classFullName string) ([]AttributeNode, error)

	// FindFunctions returns every function named name across all files.
	FindFunctions(ctx context.Context, name string) ([]FunctionNode, error)

	// FilesByModule returns files whose module name equals module or lies
	// beneath it, across all repositories.
	FilesByModule(ctx context.Context, module string) ([]FileNode, error)

	ClassesInFile(ctx context.Context, fileKey string) ([]ClassNode, error)

	FunctionsInFile(ctx context.Context, fileKey string) ([]FunctionNode, error)

	// FilesImporting returns the import edges whose target module name
	// contains target.
	FilesImporting(ctx context.Context, target string) ([]ImportEdge, error)

	Counts(ctx context.Context, repo string) (Counts, error)

	// Subgraph returns every node and edge reachable from the repository.
	Subgraph(ctx context.Context, repo string) (*Subgraph, error)
}

// Store is a graph store with both sides and a lifecycle.
type Store interface {
	Writer
	Querier
	Close() error
}

// ImportEdge is one resolved File-IMPORTS->File edge.
type ImportEdge struct {
	SourcePath   string `json:"file"`
	TargetModule string `json:"imports"`
}

// Subgraph is the raw content reachable from one repository.
//
// Node properties are keyed by their JSON names.
type Subgraph struct {
	Repository string
	Nodes      []SubgraphNode
	Edges      []SubgraphEdge
}

// SubgraphNode is one node with its properties.
type SubgraphNode struct {
	Ref        NodeRef
	Properties map[string]any
}

// SubgraphEdge is one typed edge.
type SubgraphEdge struct {
	From NodeRef
	To   NodeRef
	Type EdgeType
}
