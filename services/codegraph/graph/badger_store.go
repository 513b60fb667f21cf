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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB key prefixes for the embedded graph.
//
// Key Schema:
//
//	cg:n:{Label}:{key}                         → JSON(node)
//	cg:o:{Label}:{key}\x00{EDGE}\x00{Label}:{key} → empty (outgoing edge)
//	cg:i:{Label}:{key}\x00{EDGE}\x00{Label}:{key} → empty (incoming edge, reversed)
//	cg:m:{repo}\x00{module}\x00{fileKey}        → empty (module index for imports)
const (
	keyPrefixNode   = "cg:n:"
	keyPrefixOut    = "cg:o:"
	keyPrefixIn     = "cg:i:"
	keyPrefixModule = "cg:m:"
	edgeSep       = "\x00"
)

// BadgerOption configures a BadgerStore.
type BadgerOption func(*BadgerStore)

// WithBadgerLogger sets the logger used for diagnostics.
func WithBadgerLogger(logger *slog.Logger) BadgerOption {
	return func(s *BadgerStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source used for created_at stamps.
func WithClock(now func() time.Time) BadgerOption {
	return func(s *BadgerStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTeardownHook installs a hook that runs inside the teardown transaction
// after each step. A non-nil return aborts the teardown and discards every
// deletion made so far.
func WithTeardownHook(hook func(step string) error) BadgerOption {
	return func(s *BadgerStore) {
		s.teardownHook = hook
	}
}

// BadgerStore is an embedded Store backed by BadgerDB.
//
// Description:
//
//	Nodes are stored as JSON values under label-scoped keys and every edge is
//	indexed in both directions, so a DETACH DELETE is a pair of prefix scans.
//	Teardown runs in a single read-write transaction and is therefore atomic.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type BadgerStore struct {
	db           *badger.DB
	ownsDB       bool
	logger       *slog.Logger
	now          func() time.Time
	teardownHook func(step string) error
}

// NewBadgerStore wraps an already opened BadgerDB instance.
//
// Inputs:
//
//	db - An opened BadgerDB instance. Must not be nil. The caller closes it.
//	opts - Optional configuration.
//
// Outputs:
//
//	*BadgerStore - The configured store.
//	error - Non-nil if db is nil.
func NewBadgerStore(db *badger.DB, opts ...BadgerOption) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	s := &BadgerStore{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OpenBadgerStore opens a BadgerDB at dir and wraps it. An empty dir opens
// an in-memory database. The returned store owns the database.
func OpenBadgerStore(dir string, opts ...BadgerOption) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", dir, err)
	}
	s, err := NewBadgerStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Close closes the database when the store opened it.
func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// RepositoryExists implements Writer.
func (s *BadgerStore) RepositoryExists(ctx context.Context, repo string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(nodeKey(NodeRef{LabelRepository, repo}))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking repository %s: %w", repo, err)
	}
	return exists, nil
}

// Teardown implements Writer.
func (s *BadgerStore) Teardown(ctx context.Context, repo string) (TeardownStats, error) {
	var stats TeardownStats
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := reachable(txn, repo)
		if err != nil {
			return fmt.Errorf("collecting repository content: %w", err)
		}
		if r == nil {
			return nil
		}
		// Every key is collected before the first delete. Iterators on a
		// read-write txn copy and sort its pending writes, so scanning
		// between deletes would make teardown quadratic.
		doomed, err := doomedKeys(txn, r)
		if err != nil {
			return fmt.Errorf("collecting edges: %w", err)
		}
		for _, step := range TeardownSteps {
			refs := r.step(step)
			for _, ref := range refs {
				if err := deleteKeys(txn, doomed[ref]); err != nil {
					return fmt.Errorf("%s: deleting %s: %w", step, ref, err)
				}
			}
			stats.set(step, len(refs))
			if s.teardownHook != nil {
				if err := s.teardownHook(step); err != nil {
					return fmt.Errorf("%s: %w", step, err)
				}
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return TeardownStats{}, fmt.Errorf("%w for %s: repository exceeds one transaction: %w", ErrTeardown, repo, err)
	}
	if err != nil {
		return TeardownStats{}, fmt.Errorf("%w for %s: %w", ErrTeardown, repo, err)
	}
	return stats, nil
}

// CreateRepository implements Writer.
func (s *BadgerStore) CreateRepository(ctx context.Context, node RepositoryNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node.CreatedAt = s.stamp()
	return s.db.Update(func(txn *badger.Txn) error {
		return putNode(txn, NodeRef{LabelRepository, node.Name}, node)
	})
}

// CreateFile implements Writer.
func (s *BadgerStore) CreateFile(ctx context.Context, node FileNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node.CreatedAt = s.stamp()
	repo := NodeRef{LabelRepository, node.Repo}
	file := NodeRef{LabelFile, node.Key}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireNode(txn, repo); err != nil {
			return err
		}
		if err := putNode(txn, file, node); err != nil {
			return err
		}
		if err := txn.Set(moduleIndexKey(node), nil); err != nil {
			return fmt.Errorf("indexing %s: %w", file, err)
		}
		return putEdge(txn, repo, EdgeContains, file)
	})
}

// UpsertClass implements Writer.
func (s *BadgerStore) UpsertClass(ctx context.Context, fileKey string, node ClassNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node.CreatedAt = s.stamp()
	return s.mergeOwned(NodeRef{LabelFile, fileKey}, EdgeDefines, NodeRef{LabelClass, node.FullName}, node)
}

// UpsertMethod implements Writer.
func (s *BadgerStore) UpsertMethod(ctx context.Context, classFullName string, node MethodNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node.CreatedAt = s.stamp()
	return s.mergeOwned(NodeRef{LabelClass, classFullName}, EdgeHasMethod, NodeRef{LabelMethod, node.MethodID}, node)
}

// UpsertAttribute implements Writer.
func (s *BadgerStore) UpsertAttribute(ctx context.Context, classFullName string, node AttributeNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node.CreatedAt = s.stamp()
	node.UpdatedAt = node.CreatedAt
	return s.mergeOwned(NodeRef{LabelClass, classFullName}, EdgeHasAttribute, NodeRef{LabelAttribute, node.AttrID}, node)
}

// UpsertFunction implements Writer.
func (s *BadgerStore) UpsertFunction(ctx context.Context, fileKey string, node FunctionNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node.CreatedAt = s.stamp()
	return s.mergeOwned(NodeRef{LabelFile, fileKey}, EdgeDefines, NodeRef{LabelFunction, node.FuncID}, node)
}

// LinkImports implements Writer.
func (s *BadgerStore) LinkImports(ctx context.Context, repo, sourceFileKey, module string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	source := NodeRef{LabelFile, sourceFileKey}
	var linked int
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := requireNode(txn, source); err != nil {
			return err
		}
		var targets []NodeRef
		prefix := keyPrefixModule + repo + edgeSep + module
		err := scanKeys(txn, prefix, func(key string) {
			rest := strings.TrimPrefix(key, prefix)
			// The prefix also matches sibling modules such as "pkg.models2".
			if !strings.HasPrefix(rest, edgeSep) && !strings.HasPrefix(rest, ".") {
				return
			}
			fileKey := rest[strings.LastIndex(rest, edgeSep)+len(edgeSep):]
			if fileKey != sourceFileKey {
				targets = append(targets, NodeRef{LabelFile, fileKey})
			}
		})
		if err != nil {
			return err
		}
		for _, target := range targets {
			if err := putEdge(txn, source, EdgeImports, target); err != nil {
				return err
			}
		}
		linked = len(targets)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("linking imports of %s to %s: %w", sourceFileKey, module, err)
	}
	return linked, nil
}

// CreateBranch implements Writer.
func (s *BadgerStore) CreateBranch(ctx context.Context, repo string, node BranchNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	owner := NodeRef{LabelRepository, repo}
	ref := NodeRef{LabelBranch, node.Key}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireNode(txn, owner); err != nil {
			return err
		}
		if err := putNode(txn, ref, node); err != nil {
			return err
		}
		return putEdge(txn, owner, EdgeHasBranch, ref)
	})
}

// CreateCommit implements Writer.
func (s *BadgerStore) CreateCommit(ctx context.Context, repo string, node CommitNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	owner := NodeRef{LabelRepository, repo}
	ref := NodeRef{LabelCommit, node.Key}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireNode(txn, owner); err != nil {
			return err
		}
		if err := putNode(txn, ref, node); err != nil {
			return err
		}
		return putEdge(txn, owner, EdgeHasCommit, ref)
	})
}

// FindClass implements Querier.
func (s *BadgerStore) FindClass(ctx context.Context, fullName string) (*ClassNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c ClassNode
	err := s.db.View(func(txn *badger.Txn) error {
		return getNode(txn, NodeRef{LabelClass, fullName}, &c)
	})
	if err != nil {
		return nil, fmt.Errorf("class %s: %w", fullName, err)
	}
	return &c, nil
}

// FindClassesByName implements Querier.
func (s *BadgerStore) FindClassesByName(ctx context.Context, name string) ([]ClassNode, error) {
	return scanNodes(ctx, s.db, LabelClass, func(c ClassNode) bool { return c.Name == name })
}

// MethodsOfClass implements Querier.
func (s *BadgerStore) MethodsOfClass(ctx context.Context, classFullName string) ([]MethodNode, error) {
	return ownedNodes[MethodNode](ctx, s.db, NodeRef{LabelClass, classFullName}, EdgeHasMethod, LabelMethod)
}

// FindMethods implements Querier.
func (s *BadgerStore) FindMethods(ctx context.Context, name string) ([]MethodNode, error) {
	return scanNodes(ctx, s.db, LabelMethod, func(m MethodNode) bool { return m.Name == name })
}

// AttributesOfClass implements Querier.
func (s *BadgerStore) AttributesOfClass(ctx context.Context, classFullName string) ([]AttributeNode, error) {
	return ownedNodes[AttributeNode](ctx, s.db, NodeRef{LabelClass, classFullName}, EdgeHasAttribute, LabelAttribute)
}

// FindFunctions implements Querier.
func (s *BadgerStore) FindFunctions(ctx context.Context, name string) ([]FunctionNode, error) {
	return scanNodes(ctx, s.db, LabelFunction, func(f FunctionNode) bool { return f.Name == name })
}

// FilesByModule implements Querier.
func (s *BadgerStore) FilesByModule(ctx context.Context, module string) ([]FileNode, error) {
	return scanNodes(ctx, s.db, LabelFile, func(f FileNode) bool { return moduleMatches(f.ModuleName, module) })
}

// ClassesInFile implements Querier.
func (s *BadgerStore) ClassesInFile(ctx context.Context, fileKey string) ([]ClassNode, error) {
	return ownedNodes[ClassNode](ctx, s.db, NodeRef{LabelFile, fileKey}, EdgeDefines, LabelClass)
}

// FunctionsInFile implements Querier.
func (s *BadgerStore) FunctionsInFile(ctx context.Context, fileKey string) ([]FunctionNode, error) {
	return ownedNodes[FunctionNode](ctx, s.db, NodeRef{LabelFile, fileKey}, EdgeDefines, LabelFunction)
}

// FilesImporting implements Querier.
func (s *BadgerStore) FilesImporting(ctx context.Context, target string) ([]ImportEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var edges []ImportEdge
	err := s.db.View(func(txn *badger.Txn) error {
		var pairs [][2]NodeRef
		err := scanKeys(txn, keyPrefixOut+string(LabelFile)+":", func(key string) {
			from, edge, to, ok := parseEdgeKey(strings.TrimPrefix(key, keyPrefixOut))
			if ok && edge == EdgeImports {
				pairs = append(pairs, [2]NodeRef{from, to})
			}
		})
		if err != nil {
			return err
		}
		for _, p := range pairs {
			var src, dst FileNode
			if err := getNode(txn, p[0], &src); err != nil {
				return err
			}
			if err := getNode(txn, p[1], &dst); err != nil {
				return err
			}
			if strings.Contains(dst.ModuleName, target) {
				edges = append(edges, ImportEdge{SourcePath: src.Path, TargetModule: dst.ModuleName})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("files importing %s: %w", target, err)
	}
	if edges == nil {
		edges = []ImportEdge{}
	}
	return edges, nil
}

// Counts implements Querier.
func (s *BadgerStore) Counts(ctx context.Context, repo string) (Counts, error) {
	var c Counts
	if err := ctx.Err(); err != nil {
		return c, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := reachable(txn, repo)
		if err != nil || r == nil {
			return err
		}
		c = r.counts()
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("counting %s: %w", repo, err)
	}
	return c, nil
}

// Subgraph implements Querier.
func (s *BadgerStore) Subgraph(ctx context.Context, repo string) (*Subgraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sg := &Subgraph{Repository: repo}
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := reachable(txn, repo)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrNotFound
		}
		for _, ref := range r.all() {
			item, err := txn.Get(nodeKey(ref))
			if err != nil {
				return fmt.Errorf("reading %s: %w", ref, err)
			}
			props := make(map[string]any)
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &props)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", ref, err)
			}
			sg.Nodes = append(sg.Nodes, SubgraphNode{Ref: ref, Properties: props})
		}
		sg.Edges = r.edges
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subgraph of %s: %w", repo, err)
	}
	return sg, nil
}

// stamp returns the current time in Unix milliseconds.
func (s *BadgerStore) stamp() int64 {
	return s.now().UnixMilli()
}

// mergeOwned creates node under ref if absent and merges the owner edge.
// The owner must already exist.
func (s *BadgerStore) mergeOwned(owner NodeRef, edge EdgeType, ref NodeRef, node any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := requireNode(txn, owner); err != nil {
			return err
		}
		_, err := txn.Get(nodeKey(ref))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if err := putNode(txn, ref, node); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("reading %s: %w", ref, err)
		}
		return putEdge(txn, owner, edge, ref)
	})
}

// repoContent is the set of nodes and edges reachable from a repository.
type repoContent struct {
	repo       NodeRef
	files      []NodeRef
	classes    []NodeRef
	methods    []NodeRef
	attributes []NodeRef
	functions  []NodeRef
	branches   []NodeRef
	commits    []NodeRef
	edges      []SubgraphEdge
	imports    int
}

func (r *repoContent) step(name string) []NodeRef {
	switch name {
	case StepMethods:
		return r.methods
	case StepAttributes:
		return r.attributes
	case StepFunctions:
		return r.functions
	case StepClasses:
		return r.classes
	case StepFiles:
		return r.files
	case StepBranches:
		return r.branches
	case StepCommits:
		return r.commits
	case StepRepository:
		return []NodeRef{r.repo}
	}
	return nil
}

func (r *repoContent) all() []NodeRef {
	out := []NodeRef{r.repo}
	for _, group := range [][]NodeRef{r.files, r.classes, r.methods, r.attributes, r.functions, r.branches, r.commits} {
		out = append(out, group...)
	}
	return out
}

func (r *repoContent) counts() Counts {
	return Counts{
		Files:      len(r.files),
		Classes:    len(r.classes),
		Methods:    len(r.methods),
		Functions:  len(r.functions),
		Attributes: len(r.attributes),
		Imports:    r.imports,
		Branches:   len(r.branches),
		Commits:    len(r.commits),
	}
}

// reachable collects everything owned by the repository. It returns nil
// when the Repository node does not exist.
func reachable(txn *badger.Txn, repo string) (*repoContent, error) {
	root := NodeRef{LabelRepository, repo}
	if _, err := txn.Get(nodeKey(root)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	r := &repoContent{repo: root}
	seen := make(map[NodeRef]bool)
	follow := func(from NodeRef, edge EdgeType, label Label, into *[]NodeRef) error {
		refs, err := neighbors(txn, from, edge, label)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			r.edges = append(r.edges, SubgraphEdge{From: from, To: ref, Type: edge})
			if !seen[ref] {
				seen[ref] = true
				*into = append(*into, ref)
			}
		}
		return nil
	}

	if err := follow(root, EdgeContains, LabelFile, &r.files); err != nil {
		return nil, err
	}
	for _, f := range r.files {
		if err := follow(f, EdgeDefines, LabelClass, &r.classes); err != nil {
			return nil, err
		}
		if err := follow(f, EdgeDefines, LabelFunction, &r.functions); err != nil {
			return nil, err
		}
	}
	for _, c := range r.classes {
		if err := follow(c, EdgeHasMethod, LabelMethod, &r.methods); err != nil {
			return nil, err
		}
		if err := follow(c, EdgeHasAttribute, LabelAttribute, &r.attributes); err != nil {
			return nil, err
		}
	}
	for _, f := range r.files {
		targets, err := neighbors(txn, f, EdgeImports, LabelFile)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if seen[t] {
				r.edges = append(r.edges, SubgraphEdge{From: f, To: t, Type: EdgeImports})
				r.imports++
			}
		}
	}
	if err := follow(root, EdgeHasBranch, LabelBranch, &r.branches); err != nil {
		return nil, err
	}
	if err := follow(root, EdgeHasCommit, LabelCommit, &r.commits); err != nil {
		return nil, err
	}
	return r, nil
}

func nodeKey(ref NodeRef) []byte {
	return []byte(keyPrefixNode + ref.String())
}

func edgeSuffix(a NodeRef, edge EdgeType, b NodeRef) string {
	return a.String() + edgeSep + string(edge) + edgeSep + b.String()
}

// parseEdgeKey splits an adjacency key with its prefix already removed.
func parseEdgeKey(s string) (NodeRef, EdgeType, NodeRef, bool) {
	parts := strings.Split(s, edgeSep)
	if len(parts) != 3 {
		return NodeRef{}, "", NodeRef{}, false
	}
	a, okA := parseNodeRef(parts[0])
	b, okB := parseNodeRef(parts[2])
	return a, EdgeType(parts[1]), b, okA && okB
}

func putNode(txn *badger.Txn, ref NodeRef, node any) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", ref, err)
	}
	if err := txn.Set(nodeKey(ref), data); err != nil {
		return fmt.Errorf("storing %s: %w", ref, err)
	}
	return nil
}

func getNode(txn *badger.Txn, ref NodeRef, out any) error {
	item, err := txn.Get(nodeKey(ref))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func requireNode(txn *badger.Txn, ref NodeRef) error {
	_, err := txn.Get(nodeKey(ref))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return err
}

func putEdge(txn *badger.Txn, from NodeRef, edge EdgeType, to NodeRef) error {
	if err := txn.Set([]byte(keyPrefixOut+edgeSuffix(from, edge, to)), nil); err != nil {
		return fmt.Errorf("storing edge %s -%s-> %s: %w", from, edge, to, err)
	}
	if err := txn.Set([]byte(keyPrefixIn+edgeSuffix(to, edge, from)), nil); err != nil {
		return fmt.Errorf("storing reverse edge %s -%s-> %s: %w", from, edge, to, err)
	}
	return nil
}

// scanKeys calls fn for every key with the prefix. The iterator is closed
// before scanKeys returns, so callers may write afterwards.
func scanKeys(txn *badger.Txn, prefix string, fn func(key string)) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
		fn(string(it.Item().Key()))
	}
	return nil
}

// scanLabel calls fn with the value of every node carrying label.
func scanLabel(txn *badger.Txn, label Label, fn func(val []byte) error) error {
	prefix := []byte(keyPrefixNode + string(label) + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return fmt.Errorf("reading %s: %w", it.Item().Key(), err)
		}
	}
	return nil
}

// neighbors returns the targets of from's outgoing edges of the given type
// that carry label, in key order.
func neighbors(txn *badger.Txn, from NodeRef, edge EdgeType, label Label) ([]NodeRef, error) {
	prefix := keyPrefixOut + from.String() + edgeSep + string(edge) + edgeSep
	var refs []NodeRef
	err := scanKeys(txn, prefix, func(key string) {
		ref, ok := parseNodeRef(strings.TrimPrefix(key, prefix))
		if ok && ref.Label == label {
			refs = append(refs, ref)
		}
	})
	return refs, err
}

// doomedKeys maps each node of r to the keys removed with it: its own
// node key and both sides of every edge touching it. An edge shared by two
// doomed nodes is listed only under the first one visited.
func doomedKeys(txn *badger.Txn, r *repoContent) (map[NodeRef][]string, error) {
	out := make(map[NodeRef][]string)
	claimed := make(map[string]bool)
	sides := []struct{ own, mirror string }{
		{keyPrefixOut, keyPrefixIn},
		{keyPrefixIn, keyPrefixOut},
	}
	for _, step := range TeardownSteps {
		for _, ref := range r.step(step) {
			keys := []string{string(nodeKey(ref))}
			if ref.Label == LabelFile {
				idx, err := fileIndexKey(txn, ref)
				if err != nil {
					return nil, err
				}
				keys = append(keys, idx)
			}
			for _, side := range sides {
				own, mirror := side.own, side.mirror
				if err := scanKeys(txn, own+ref.String()+edgeSep, func(key string) {
					if claimed[key] {
						return
					}
					a, edge, b, ok := parseEdgeKey(strings.TrimPrefix(key, own))
					if !ok {
						claimed[key] = true
						keys = append(keys, key)
						return
					}
					twin := mirror + edgeSuffix(b, edge, a)
					claimed[key], claimed[twin] = true, true
					keys = append(keys, key, twin)
				}); err != nil {
					return nil, err
				}
			}
			out[ref] = keys
		}
	}
	return out, nil
}

func moduleIndexKey(f FileNode) []byte {
	return []byte(keyPrefixModule + f.Repo + edgeSep + f.ModuleName + edgeSep + f.Key)
}

// fileIndexKey reads a stored File node and returns its module index key.
func fileIndexKey(txn *badger.Txn, ref NodeRef) (string, error) {
	item, err := txn.Get(nodeKey(ref))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", ref, err)
	}
	var f FileNode
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &f) }); err != nil {
		return "", fmt.Errorf("decoding %s: %w", ref, err)
	}
	return string(moduleIndexKey(f)), nil
}

func deleteKeys(txn *badger.Txn, keys []string) error {
	for _, key := range keys {
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
	}
	return nil
}

// scanNodes decodes every node of a label and keeps those matching keep.
func scanNodes[T any](ctx context.Context, db *badger.DB, label Label, keep func(T) bool) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []T{}
	err := db.View(func(txn *badger.Txn) error {
		return scanLabel(txn, label, func(val []byte) error {
			var node T
			if err := json.Unmarshal(val, &node); err != nil {
				return err
			}
			if keep(node) {
				out = append(out, node)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s nodes: %w", label, err)
	}
	return out, nil
}

// ownedNodes decodes the label-carrying targets of owner's edges. A missing
// owner yields an empty slice.
func ownedNodes[T any](ctx context.Context, db *badger.DB, owner NodeRef, edge EdgeType, label Label) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []T{}
	err := db.View(func(txn *badger.Txn) error {
		refs, err := neighbors(txn, owner, edge, label)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			var node T
			if err := getNode(txn, ref, &node); err != nil {
				return fmt.Errorf("%s: %w", ref, err)
			}
			out = append(out, node)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s of %s: %w", edge, owner, err)
	}
	return out, nil
}

// moduleMatches reports whether name is module itself or lies beneath it.
func moduleMatches(name, module string) bool {
	return name == module || strings.HasPrefix(name, module+".")
}

// Inventory summarises the raw contents of a badger graph database.
type Inventory struct {
	Nodes      map[Label]int    `json:"nodes"`
	Edges      map[EdgeType]int `json:"edges"`
	Repos      []string         `json:"repositories"`
	ValueBytes int64            `json:"value_bytes"`

	// Dangling counts outgoing edge keys without a matching incoming key.
	Dangling int `json:"dangling"`
}

// Inventory scans every key and counts nodes by label and edges by type.
// It only reads, so it works on a database opened read-only.
func (s *BadgerStore) Inventory(ctx context.Context) (*Inventory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv := &Inventory{Nodes: make(map[Label]int), Edges: make(map[EdgeType]int), Repos: []string{}}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("cg:")
		it := txn.NewIterator(opts)
		defer it.Close()

		var outgoing []string
		incoming := make(map[string]bool)
		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			switch {
			case strings.HasPrefix(key, keyPrefixNode):
				ref, ok := parseNodeRef(strings.TrimPrefix(key, keyPrefixNode))
				if !ok {
					continue
				}
				inv.Nodes[ref.Label]++
				inv.ValueBytes += item.ValueSize()
				if ref.Label == LabelRepository {
					inv.Repos = append(inv.Repos, ref.Key)
				}
			case strings.HasPrefix(key, keyPrefixOut):
				suffix := strings.TrimPrefix(key, keyPrefixOut)
				if _, edge, _, ok := parseEdgeKey(suffix); ok {
					inv.Edges[edge]++
					outgoing = append(outgoing, suffix)
				}
			case strings.HasPrefix(key, keyPrefixIn):
				if to, edge, from, ok := parseEdgeKey(strings.TrimPrefix(key, keyPrefixIn)); ok {
					incoming[edgeSuffix(from, edge, to)] = true
				}
			}
		}
		for _, e := range outgoing {
			if !incoming[e] {
				inv.Dangling++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning database: %w", err)
	}
	return inv, nil
}
