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
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Cypher for the write side. Upserts use MERGE ... ON CREATE SET so a
// second write for a key never overwrites the first.
const (
	cypherRepoExists = `MATCH (r:Repository {name: $repo}) RETURN count(r) AS repo_count`

	cypherCreateRepository = `
CREATE (r:Repository {
  name: $name,
  remote_url: $remote_url,
  current_branch: $current_branch,
  file_count: $file_count,
  contributor_count: $contributor_count,
  size: $size,
  created_at: timestamp()
})`

	cypherCreateFile = `
MATCH (r:Repository {name: $repo})
CREATE (f:File {
  key: $key,
  repo: $repo,
  name: $name,
  path: $path,
  module_name: $module_name,
  line_count: $line_count,
  created_at: timestamp()
})
CREATE (r)-[:CONTAINS]->(f)
RETURN count(f) AS written`

	cypherUpsertClass = `
MATCH (f:File {key: $file_key})
MERGE (c:Class {full_name: $full_name})
ON CREATE SET c.name = $name, c.created_at = timestamp()
MERGE (f)-[:DEFINES]->(c)
RETURN count(c) AS written`

	cypherUpsertMethod = `
MATCH (c:Class {full_name: $class_full_name})
MERGE (m:Method {method_id: $method_id})
ON CREATE SET m.name = $name,
              m.full_name = $full_name,
              m.args = $args,
              m.params_list = $params_list,
              m.params_detailed = $params_detailed,
              m.return_type = $return_type,
              m.created_at = timestamp()
MERGE (c)-[:HAS_METHOD]->(m)
RETURN count(m) AS written`

	cypherUpsertAttribute = `
MATCH (c:Class {full_name: $class_full_name})
MERGE (a:Attribute {attr_id: $attr_id})
ON CREATE SET a.name = $name,
              a.full_name = $full_name,
              a.type = $type,
              a.default_value = $default_value,
              a.is_instance = $is_instance,
              a.is_class = $is_class,
              a.is_property = $is_property,
              a.has_type_hint = $has_type_hint,
              a.from_slots = $from_slots,
              a.from_dataclass = $from_dataclass,
              a.from_attrs = $from_attrs,
              a.is_class_var = $is_class_var,
              a.line_number = $line_number,
              a.created_at = timestamp(),
              a.updated_at = timestamp()
MERGE (c)-[:HAS_ATTRIBUTE]->(a)
RETURN count(a) AS written`

	cypherUpsertFunction = `
MATCH (f:File {key: $file_key})
MERGE (fn:Function {func_id: $func_id})
ON CREATE SET fn.name = $name,
              fn.full_name = $full_name,
              fn.args = $args,
              fn.params_list = $params_list,
              fn.params_detailed = $params_detailed,
              fn.return_type = $return_type,
              fn.created_at = timestamp()
MERGE (f)-[:DEFINES]->(fn)
RETURN count(fn) AS written`

	cypherLinkImports = `
MATCH (source:File {key: $source_key})
MATCH (target:File {repo: $repo})
WHERE target.key <> source.key
  AND (target.module_name = $module OR target.module_name STARTS WITH $module + '.')
MERGE (source)-[:IMPORTS]->(target)
RETURN count(target) AS written`

	cypherCreateBranch = `
MATCH (r:Repository {name: $repo})
CREATE (b:Branch {
  key: $key,
  name: $name,
  last_commit_date: $last_commit_date,
  last_commit_message: $last_commit_message
})
CREATE (r)-[:HAS_BRANCH]->(b)
RETURN count(b) AS written`

	cypherCreateCommit = `
MATCH (r:Repository {name: $repo})
CREATE (c:Commit {
  key: $key,
  hash: $hash,
  author_name: $author_name,
  author_email: $author_email,
  date: $date,
  message: $message
})
CREATE (r)-[:HAS_COMMIT]->(c)
RETURN count(c) AS written`
)

// teardownCypher holds one DETACH DELETE statement per teardown step.
var teardownCypher = map[string]string{
	StepMethods: `
MATCH (r:Repository {name: $repo})-[:CONTAINS]->(:File)-[:DEFINES]->(c:Class)
OPTIONAL MATCH (c)-[:HAS_METHOD]->(m:Method)
WITH DISTINCT m
DETACH DELETE m
RETURN count(m) AS deleted_count`,
	StepAttributes: `
MATCH (r:Repository {name: $repo})-[:CONTAINS]->(:File)-[:DEFINES]->(c:Class)
OPTIONAL MATCH (c)-[:HAS_ATTRIBUTE]->(a:Attribute)
WITH DISTINCT a
DETACH DELETE a
RETURN count(a) AS deleted_count`,
	StepFunctions: `
MATCH (r:Repository {name: $repo})-[:CONTAINS]->(f:File)
OPTIONAL MATCH (f)-[:DEFINES]->(fn:Function)
WITH DISTINCT fn
DETACH DELETE fn
RETURN count(fn) AS deleted_count`,
	StepClasses: `
MATCH (r:Repository {name: $repo})-[:CONTAINS]->(f:File)
OPTIONAL MATCH (f)-[:DEFINES]->(c:Class)
WITH DISTINCT c
DETACH DELETE c
RETURN count(c) AS deleted_count`,
	StepFiles: `
MATCH (r:Repository {name: $repo})
OPTIONAL MATCH (r)-[:CONTAINS]->(f:File)
DETACH DELETE f
RETURN count(f) AS deleted_count`,
	StepBranches: `
MATCH (r:Repository {name: $repo})
OPTIONAL MATCH (r)-[:HAS_BRANCH]->(b:Branch)
DETACH DELETE b
RETURN count(b) AS deleted_count`,
	StepCommits: `
MATCH (r:Repository {name: $repo})
OPTIONAL MATCH (r)-[:HAS_COMMIT]->(c:Commit)
DETACH DELETE c
RETURN count(c) AS deleted_count`,
	StepRepository: `
MATCH (r:Repository {name: $repo})
DETACH DELETE r
RETURN count(r) AS deleted_count`,
}

// schemaCypher creates the lookup indexes MERGE relies on.
var schemaCypher = []string{
	`CREATE INDEX repository_name IF NOT EXISTS FOR (n:Repository) ON (n.name)`,
	`CREATE INDEX file_key IF NOT EXISTS FOR (n:File) ON (n.key)`,
	`CREATE INDEX file_module IF NOT EXISTS FOR (n:File) ON (n.module_name)`,
	`CREATE INDEX class_full_name IF NOT EXISTS FOR (n:Class) ON (n.full_name)`,
	`CREATE INDEX method_id IF NOT EXISTS FOR (n:Method) ON (n.method_id)`,
	`CREATE INDEX attribute_id IF NOT EXISTS FOR (n:Attribute) ON (n.attr_id)`,
	`CREATE INDEX function_id IF NOT EXISTS FOR (n:Function) ON (n.func_id)`,
}

// subgraphCypher returns every (src, dst) pair of one edge type owned by the repository.
var subgraphCypher = []struct {
	edge  EdgeType
	query string
}{
	{EdgeContains, `MATCH (src:Repository {name: $repo})-[:CONTAINS]->(dst:File) RETURN src, dst`},
	{EdgeDefines, `MATCH (:Repository {name: $repo})-[:CONTAINS]->(src:File)-[:DEFINES]->(dst) RETURN src, dst`},
	{EdgeHasMethod, `MATCH (:Repository {name: $repo})-[:CONTAINS]->(:File)-[:DEFINES]->(src:Class)-[:HAS_METHOD]->(dst:Method) RETURN DISTINCT src, dst`},
	{EdgeHasAttribute, `MATCH (:Repository {name: $repo})-[:CONTAINS]->(:File)-[:DEFINES]->(src:Class)-[:HAS_ATTRIBUTE]->(dst:Attribute) RETURN DISTINCT src, dst`},
	{EdgeImports, `MATCH (r:Repository {name: $repo})-[:CONTAINS]->(src:File)-[:IMPORTS]->(dst:File)<-[:CONTAINS]-(r) RETURN src, dst`},
	{EdgeHasBranch, `MATCH (src:Repository {name: $repo})-[:HAS_BRANCH]->(dst:Branch) RETURN src, dst`},
	{EdgeHasCommit, `MATCH (src:Repository {name: $repo})-[:HAS_COMMIT]->(dst:Commit) RETURN src, dst`},
}

// keyProperty names the property that identifies a node of each label.
var keyProperty = map[Label]string{
	LabelRepository: "name",
	LabelFile:       "key",
	LabelClass:      "full_name",
	LabelMethod:     "method_id",
	LabelFunction:   "func_id",
	LabelAttribute:  "attr_id",
	LabelBranch:     "key",
	LabelCommit:     "key",
}

// Neo4jOption configures a Neo4jStore.
type Neo4jOption func(*Neo4jStore)

// WithDatabase selects the Neo4j database. Empty uses the server default.
func WithDatabase(name string) Neo4jOption {
	return func(s *Neo4jStore) {
		s.database = name
	}
}

// WithNeo4jLogger sets the logger used for diagnostics.
func WithNeo4jLogger(logger *slog.Logger) Neo4jOption {
	return func(s *Neo4jStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Neo4jStore is a Store backed by a Neo4j server.
//
// Description:
//
//	Writes go through auto-commit queries; Teardown is the only multi-statement
//	transaction. Nodes keep the property names of the embedded store so both
//	export to the same document.
//
// Thread Safety:
//
//	Safe for concurrent use. The driver pools its own connections.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
//
// Inputs:
//
//	ctx - Context for the connectivity check.
//	uri - Bolt or neo4j URI. Must not be empty.
//	username, password - Basic auth credentials.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Neo4jStore - The connected store. Close it when done.
//	error - Non-nil if the driver cannot be created or the server is unreachable.
func NewNeo4jStore(ctx context.Context, uri, username, password string, opts ...Neo4jOption) (*Neo4jStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("neo4j uri must not be empty")
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", uri, err)
	}
	s := &Neo4jStore{driver: driver, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Info("neo4j connection initialized", slog.String("uri", uri))
	return s, nil
}

// EnsureSchema creates the lookup indexes if they do not exist.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	for _, q := range schemaCypher {
		if _, err := s.write(ctx, q, nil); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// Close releases the driver.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// RepositoryExists implements Writer.
func (s *Neo4jStore) RepositoryExists(ctx context.Context, repo string) (bool, error) {
	res, err := s.read(ctx, cypherRepoExists, map[string]any{"repo": repo})
	if err != nil {
		return false, fmt.Errorf("checking repository %s: %w", repo, err)
	}
	if len(res.Records) == 0 {
		return false, nil
	}
	n, _, err := neo4j.GetRecordValue[int64](res.Records[0], "repo_count")
	if err != nil {
		return false, fmt.Errorf("checking repository %s: %w", repo, err)
	}
	return n > 0, nil
}

// Teardown implements Writer.
func (s *Neo4jStore) Teardown(ctx context.Context, repo string) (TeardownStats, error) {
	var stats TeardownStats
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return stats, fmt.Errorf("%w for %s: beginning transaction: %w", ErrTeardown, repo, err)
	}

	params := map[string]any{"repo": repo}
	for _, step := range TeardownSteps {
		n, err := runCount(ctx, tx, teardownCypher[step], params, "deleted_count")
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error("teardown rollback failed",
					slog.String("repo", repo),
					slog.Any("error", rbErr),
				)
			}
			return TeardownStats{}, fmt.Errorf("%w for %s: %s: %w", ErrTeardown, repo, step, err)
		}
		stats.set(step, n)
	}
	if err := tx.Commit(ctx); err != nil {
		return TeardownStats{}, fmt.Errorf("%w for %s: committing: %w", ErrTeardown, repo, err)
	}
	return stats, nil
}

// CreateRepository implements Writer.
func (s *Neo4jStore) CreateRepository(ctx context.Context, node RepositoryNode) error {
	_, err := s.write(ctx, cypherCreateRepository, map[string]any{
		"name":              node.Name,
		"remote_url":        node.RemoteURL,
		"current_branch":    node.CurrentBranch,
		"file_count":        node.FileCount,
		"contributor_count": node.ContributorCount,
		"size":              node.Size,
	})
	if err != nil {
		return fmt.Errorf("creating repository %s: %w", node.Name, err)
	}
	return nil
}

// CreateFile implements Writer.
func (s *Neo4jStore) CreateFile(ctx context.Context, node FileNode) error {
	return s.writeOwned(ctx, cypherCreateFile, map[string]any{
		"repo":        node.Repo,
		"key":         node.Key,
		"name":        node.Name,
		"path":        node.Path,
		"module_name": node.ModuleName,
		"line_count":  node.LineCount,
	}, NodeRef{LabelRepository, node.Repo})
}

// UpsertClass implements Writer.
func (s *Neo4jStore) UpsertClass(ctx context.Context, fileKey string, node ClassNode) error {
	return s.writeOwned(ctx, cypherUpsertClass, map[string]any{
		"file_key":  fileKey,
		"full_name": node.FullName,
		"name":      node.Name,
	}, NodeRef{LabelFile, fileKey})
}

// UpsertMethod implements Writer.
func (s *Neo4jStore) UpsertMethod(ctx context.Context, classFullName string, node MethodNode) error {
	return s.writeOwned(ctx, cypherUpsertMethod, map[string]any{
		"class_full_name": classFullName,
		"method_id":       node.MethodID,
		"name":            node.Name,
		"full_name":       node.FullName,
		"args":            node.Args,
		"params_list":     node.ParamsList,
		"params_detailed": node.ParamsDetailed,
		"return_type":     node.ReturnType,
	}, NodeRef{LabelClass, classFullName})
}

// UpsertAttribute implements Writer.
func (s *Neo4jStore) UpsertAttribute(ctx context.Context, classFullName string, node AttributeNode) error {
	var def any
	if node.DefaultValue != nil {
		def = *node.DefaultValue
	}
	return s.writeOwned(ctx, cypherUpsertAttribute, map[string]any{
		"class_full_name": classFullName,
		"attr_id":         node.AttrID,
		"name":            node.Name,
		"full_name":       node.FullName,
		"type":            node.Type,
		"default_value":   def,
		"is_instance":     node.IsInstance,
		"is_class":        node.IsClass,
		"is_property":     node.IsProperty,
		"has_type_hint":   node.HasTypeHint,
		"from_slots":      node.FromSlots,
		"from_dataclass":  node.FromDataclass,
		"from_attrs":      node.FromAttrs,
		"is_class_var":    node.IsClassVar,
		"line_number":     node.LineNumber,
	}, NodeRef{LabelClass, classFullName})
}

// UpsertFunction implements Writer.
func (s *Neo4jStore) UpsertFunction(ctx context.Context, fileKey string, node FunctionNode) error {
	return s.writeOwned(ctx, cypherUpsertFunction, map[string]any{
		"file_key":        fileKey,
		"func_id":         node.FuncID,
		"name":            node.Name,
		"full_name":       node.FullName,
		"args":            node.Args,
		"params_list":     node.ParamsList,
		"params_detailed": node.ParamsDetailed,
		"return_type":     node.ReturnType,
	}, NodeRef{LabelFile, fileKey})
}

// LinkImports implements Writer.
func (s *Neo4jStore) LinkImports(ctx context.Context, repo, sourceFileKey, module string) (int, error) {
	res, err := s.write(ctx, cypherLinkImports, map[string]any{
		"repo":       repo,
		"source_key": sourceFileKey,
		"module":     module,
	})
	if err != nil {
		return 0, fmt.Errorf("linking imports of %s to %s: %w", sourceFileKey, module, err)
	}
	return writtenCount(res)
}

// CreateBranch implements Writer.
func (s *Neo4jStore) CreateBranch(ctx context.Context, repo string, node BranchNode) error {
	return s.writeOwned(ctx, cypherCreateBranch, map[string]any{
		"repo":                repo,
		"key":                 node.Key,
		"name":                node.Name,
		"last_commit_date":    node.LastCommitDate,
		"last_commit_message": node.LastCommitMessage,
	}, NodeRef{LabelRepository, repo})
}

// CreateCommit implements Writer.
func (s *Neo4jStore) CreateCommit(ctx context.Context, repo string, node CommitNode) error {
	return s.writeOwned(ctx, cypherCreateCommit, map[string]any{
		"repo":         repo,
		"key":          node.Key,
		"hash":         node.Hash,
		"author_name":  node.AuthorName,
		"author_email": node.AuthorEmail,
		"date":         node.Date,
		"message":      node.Message,
	}, NodeRef{LabelRepository, repo})
}

// FindClass implements Querier.
func (s *Neo4jStore) FindClass(ctx context.Context, fullName string) (*ClassNode, error) {
	nodes, err := queryNodes[ClassNode](ctx, s,
		`MATCH (n:Class {full_name: $full_name}) RETURN n LIMIT 1`,
		map[string]any{"full_name": fullName})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("class %s: %w", fullName, ErrNotFound)
	}
	return &nodes[0], nil
}

// FindClassesByName implements Querier.
func (s *Neo4jStore) FindClassesByName(ctx context.Context, name string) ([]ClassNode, error) {
	return queryNodes[ClassNode](ctx, s,
		`MATCH (n:Class {name: $name}) RETURN n ORDER BY n.full_name`,
		map[string]any{"name": name})
}

// MethodsOfClass implements Querier.
func (s *Neo4jStore) MethodsOfClass(ctx context.Context, classFullName string) ([]MethodNode, error) {
	return queryNodes[MethodNode](ctx, s,
		`MATCH (:Class {full_name: $full_name})-[:HAS_METHOD]->(n:Method) RETURN n ORDER BY n.method_id`,
		map[string]any{"full_name": classFullName})
}

// FindMethods implements Querier.
func (s *Neo4jStore) FindMethods(ctx context.Context, name string) ([]MethodNode, error) {
	return queryNodes[MethodNode](ctx, s,
		`MATCH (n:Method {name: $name}) RETURN n ORDER BY n.method_id`,
		map[string]any{"name": name})
}

// AttributesOfClass implements Querier.
func (s *Neo4jStore) AttributesOfClass(ctx context.Context, classFullName string) ([]AttributeNode, error) {
	return queryNodes[AttributeNode](ctx, s,
		`MATCH (:Class {full_name: $full_name})-[:HAS_ATTRIBUTE]->(n:Attribute) RETURN n ORDER BY n.attr_id`,
		map[string]any{"full_name": classFullName})
}

// FindFunctions implements Querier.
func (s *Neo4jStore) FindFunctions(ctx context.Context, name string) ([]FunctionNode, error) {
	return queryNodes[FunctionNode](ctx, s,
		`MATCH (n:Function {name: $name}) RETURN n ORDER BY n.func_id`,
		map[string]any{"name": name})
}

// FilesByModule implements Querier.
func (s *Neo4jStore) FilesByModule(ctx context.Context, module string) ([]FileNode, error) {
	return queryNodes[FileNode](ctx, s,
		`MATCH (n:File) WHERE n.module_name = $module OR n.module_name STARTS WITH $module + '.'
		 RETURN n ORDER BY n.key`,
		map[string]any{"module": module})
}

// ClassesInFile implements Querier.
func (s *Neo4jStore) ClassesInFile(ctx context.Context, fileKey string) ([]ClassNode, error) {
	return queryNodes[ClassNode](ctx, s,
		`MATCH (:File {key: $key})-[:DEFINES]->(n:Class) RETURN n ORDER BY n.full_name`,
		map[string]any{"key": fileKey})
}

// FunctionsInFile implements Querier.
func (s *Neo4jStore) FunctionsInFile(ctx context.Context, fileKey string) ([]FunctionNode, error) {
	return queryNodes[FunctionNode](ctx, s,
		`MATCH (:File {key: $key})-[:DEFINES]->(n:Function) RETURN n ORDER BY n.func_id`,
		map[string]any{"key": fileKey})
}

// FilesImporting implements Querier.
func (s *Neo4jStore) FilesImporting(ctx context.Context, target string) ([]ImportEdge, error) {
	res, err := s.read(ctx, `
MATCH (source:File)-[:IMPORTS]->(target:File)
WHERE target.module_name CONTAINS $target
RETURN source.path AS file, target.module_name AS imports
ORDER BY file, imports`, map[string]any{"target": target})
	if err != nil {
		return nil, fmt.Errorf("files importing %s: %w", target, err)
	}
	edges := make([]ImportEdge, 0, len(res.Records))
	for _, rec := range res.Records {
		file, _, err := neo4j.GetRecordValue[string](rec, "file")
		if err != nil {
			return nil, err
		}
		imports, _, err := neo4j.GetRecordValue[string](rec, "imports")
		if err != nil {
			return nil, err
		}
		edges = append(edges, ImportEdge{SourcePath: file, TargetModule: imports})
	}
	return edges, nil
}

// Counts implements Querier.
func (s *Neo4jStore) Counts(ctx context.Context, repo string) (Counts, error) {
	sg, err := s.Subgraph(ctx, repo)
	if err != nil {
		return Counts{}, err
	}
	return sg.Counts(), nil
}

// Subgraph implements Querier.
func (s *Neo4jStore) Subgraph(ctx context.Context, repo string) (*Subgraph, error) {
	exists, err := s.RepositoryExists(ctx, repo)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("subgraph of %s: %w", repo, ErrNotFound)
	}

	res, err := s.read(ctx, `MATCH (n:Repository {name: $repo}) RETURN n`, map[string]any{"repo": repo})
	if err != nil {
		return nil, fmt.Errorf("subgraph of %s: %w", repo, err)
	}
	sg := &Subgraph{Repository: repo}
	seen := make(map[NodeRef]bool)
	addNode := func(n neo4j.Node) (NodeRef, error) {
		ref, err := refOf(n)
		if err != nil {
			return ref, err
		}
		if !seen[ref] {
			seen[ref] = true
			sg.Nodes = append(sg.Nodes, SubgraphNode{Ref: ref, Properties: n.Props})
		}
		return ref, nil
	}
	for _, rec := range res.Records {
		n, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "n")
		if err != nil {
			return nil, err
		}
		if _, err := addNode(n); err != nil {
			return nil, err
		}
	}

	for _, q := range subgraphCypher {
		res, err := s.read(ctx, q.query, map[string]any{"repo": repo})
		if err != nil {
			return nil, fmt.Errorf("subgraph of %s: %s: %w", repo, q.edge, err)
		}
		for _, rec := range res.Records {
			src, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "src")
			if err != nil {
				return nil, err
			}
			dst, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "dst")
			if err != nil {
				return nil, err
			}
			from, err := addNode(src)
			if err != nil {
				return nil, err
			}
			to, err := addNode(dst)
			if err != nil {
				return nil, err
			}
			sg.Edges = append(sg.Edges, SubgraphEdge{From: from, To: to, Type: q.edge})
		}
	}
	return sg, nil
}

func (s *Neo4jStore) read(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
}

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithWritersRouting(),
	)
}

// writeOwned runs a write whose MATCH on owner must succeed. A zero
// "written" count means the owner does not exist.
func (s *Neo4jStore) writeOwned(ctx context.Context, query string, params map[string]any, owner NodeRef) error {
	res, err := s.write(ctx, query, params)
	if err != nil {
		return fmt.Errorf("writing under %s: %w", owner, err)
	}
	n, err := writtenCount(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", owner, ErrNotFound)
	}
	return nil
}

func writtenCount(res *neo4j.EagerResult) (int, error) {
	if len(res.Records) == 0 {
		return 0, nil
	}
	n, _, err := neo4j.GetRecordValue[int64](res.Records[0], "written")
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func runCount(ctx context.Context, tx neo4j.ExplicitTransaction, query string, params map[string]any, key string) (int, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	n, _, err := neo4j.GetRecordValue[int64](record, key)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// queryNodes runs a read returning one node column "n" and decodes each.
func queryNodes[T any](ctx context.Context, s *Neo4jStore, query string, params map[string]any) ([]T, error) {
	res, err := s.read(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	out := make([]T, 0, len(res.Records))
	for _, rec := range res.Records {
		n, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "n")
		if err != nil {
			return nil, err
		}
		var node T
		if err := decodeProps(n.Props, &node); err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// decodeProps maps node properties onto a node struct through its JSON tags.
func decodeProps(props map[string]any, out any) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encoding properties: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding properties: %w", err)
	}
	return nil
}

// refOf identifies a driver node by its first known label and key property.
func refOf(n neo4j.Node) (NodeRef, error) {
	for _, l := range n.Labels {
		label := Label(l)
		prop, ok := keyProperty[label]
		if !ok {
			continue
		}
		key, ok := n.Props[prop].(string)
		if !ok {
			return NodeRef{}, fmt.Errorf("%s node without %s", label, prop)
		}
		return NodeRef{Label: label, Key: key}, nil
	}
	return NodeRef{}, fmt.Errorf("node with unknown labels %v", n.Labels)
}
