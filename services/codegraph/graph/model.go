// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph stores analyzed Python repositories as a labeled property
// graph and answers structural queries over it.
package graph

import (
	"errors"
	"strings"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
)

// Label is a node label.
type Label string

// Node labels.
const (
	LabelRepository Label = "Repository"
	LabelFile       Label = "File"
	LabelClass      Label = "Class"
	LabelMethod     Label = "Method"
	LabelFunction   Label = "Function"
	LabelAttribute  Label = "Attribute"
	LabelBranch     Label = "Branch"
	LabelCommit     Label = "Commit"
)

// EdgeType is a relationship type.
type EdgeType string

// Relationship types.
const (
	EdgeContains     EdgeType = "CONTAINS"
	EdgeDefines      EdgeType = "DEFINES"
	EdgeHasMethod    EdgeType = "HAS_METHOD"
	EdgeHasAttribute EdgeType = "HAS_ATTRIBUTE"
	EdgeImports      EdgeType = "IMPORTS"
	EdgeHasBranch    EdgeType = "HAS_BRANCH"
	EdgeHasCommit    EdgeType = "HAS_COMMIT"
)

// DefaultBranchLimit caps the number of Branch nodes written per repository.
const DefaultBranchLimit = 10

// Sentinel errors returned by stores.
var (
	// ErrNotFound indicates a queried node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTeardown indicates the repository teardown failed and was rolled back.
	ErrTeardown = errors.New("repository teardown failed")
)

// keySep joins the components of composite node keys.
const keySep = "::"

// FileKey returns the key of a File node. Files are scoped by repository.
func FileKey(repo, path string) string { return repo + keySep + path }

// BranchKey returns the key of a Branch node.
func BranchKey(repo, name string) string { return repo + keySep + name }

// CommitKey returns the key of a Commit node.
func CommitKey(repo, hash string) string { return repo + keySep + hash }

// MethodID returns the key of a Method node.
func MethodID(classFullName, name string) string { return classFullName + keySep + name }

// AttributeID returns the key of an Attribute node.
func AttributeID(classFullName, name string) string { return classFullName + keySep + name }

// FunctionID returns the key of a Function node.
func FunctionID(filePath, name string) string { return filePath + keySep + name }

// NodeRef identifies a node by label and key.
type NodeRef struct {
	Label Label  `json:"label"`
	Key   string `json:"key"`
}

// String renders the ref as "Label:key".
func (r NodeRef) String() string { return string(r.Label) + ":" + r.Key }

// parseNodeRef is the inverse of NodeRef.String.
func parseNodeRef(s string) (NodeRef, bool) {
	label, key, ok := strings.Cut(s, ":")
	if !ok {
		return NodeRef{}, false
	}
	return NodeRef{Label: Label(label), Key: key}, true
}

// RepositoryNode is the root of one ingested repository.
type RepositoryNode struct {
	Name             string `json:"name"`
	RemoteURL        string `json:"remote_url"`
	CurrentBranch    string `json:"current_branch"`
	FileCount        int    `json:"file_count"`
	ContributorCount int    `json:"contributor_count"`
	Size             string `json:"size"`
	CreatedAt        int64  `json:"created_at"`
}

// FileNode is one analyzed Python source file.
type FileNode struct {
	Key        string `json:"key"`
	Repo       string `json:"repo"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	ModuleName string `json:"module_name"`
	LineCount  int    `json:"line_count"`
	CreatedAt  int64  `json:"created_at"`
}

// ClassNode is a class, keyed by its full dotted name.
type ClassNode struct {
	FullName  string `json:"full_name"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// MethodNode is a public method of a class.
type MethodNode struct {
	MethodID       string   `json:"method_id"`
	Name           string   `json:"name"`
	FullName       string   `json:"full_name"`
	Args           []string `json:"args"`
	ParamsList     []string `json:"params_list"`
	ParamsDetailed []string `json:"params_detailed"`
	ReturnType     string   `json:"return_type"`
	CreatedAt      int64    `json:"created_at"`
}

// FunctionNode is a public module-level function.
type FunctionNode struct {
	FuncID         string   `json:"func_id"`
	Name           string   `json:"name"`
	FullName       string   `json:"full_name"`
	Args           []string `json:"args"`
	ParamsList     []string `json:"params_list"`
	ParamsDetailed []string `json:"params_detailed"`
	ReturnType     string   `json:"return_type"`
	CreatedAt      int64    `json:"created_at"`
}

// AttributeNode is a class attribute with its extraction flags.
type AttributeNode struct {
	AttrID        string  `json:"attr_id"`
	Name          string  `json:"name"`
	FullName      string  `json:"full_name"`
	Type          string  `json:"type"`
	DefaultValue  *string `json:"default_value"`
	IsInstance    bool    `json:"is_instance"`
	IsClass       bool    `json:"is_class"`
	IsProperty    bool    `json:"is_property"`
	HasTypeHint   bool    `json:"has_type_hint"`
	FromSlots     bool    `json:"from_slots"`
	FromDataclass bool    `json:"from_dataclass"`
	FromAttrs     bool    `json:"from_attrs"`
	IsClassVar    bool    `json:"is_class_var"`
	LineNumber    int     `json:"line_number"`
	CreatedAt     int64   `json:"created_at"`
	UpdatedAt     int64   `json:"updated_at"`
}

// BranchNode is a git branch of a repository.
type BranchNode struct {
	Key               string `json:"key"`
	Name              string `json:"name"`
	LastCommitDate    string `json:"last_commit_date"`
	LastCommitMessage string `json:"last_commit_message"`
}

// CommitNode is a recent commit of a repository.
type CommitNode struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	Date        string `json:"date"`
	Message     string `json:"message"`
}

// RepositoryInfo is descriptive repository metadata.
type RepositoryInfo struct {
	RemoteURL        string `json:"remote_url"`
	CurrentBranch    string `json:"current_branch"`
	FileCount        int    `json:"file_count"`
	ContributorCount int    `json:"contributor_count"`
	Size             string `json:"size"`
}

// BranchInfo describes one branch.
type BranchInfo struct {
	Name              string `json:"name"`
	LastCommitDate    string `json:"last_commit_date"`
	LastCommitMessage string `json:"last_commit_message"`
}

// TagInfo describes one tag.
type TagInfo struct {
	Name string `json:"name"`
	Date string `json:"date"`
}

// CommitInfo describes one commit.
type CommitInfo struct {
	Hash        string `json:"hash"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	Date        string `json:"date"`
	Message     string `json:"message"`
}

// Metadata is everything known about a repository besides its sources.
//
// A nil Info means no metadata could be read; the Repository node then uses
// its defaults.
type Metadata struct {
	Info          *RepositoryInfo `json:"info"`
	Branches      []BranchInfo    `json:"branches"`
	Tags          []TagInfo       `json:"tags"`
	RecentCommits []CommitInfo    `json:"recent_commits"`
}

// TeardownStats counts the nodes deleted per teardown step.
type TeardownStats struct {
	Methods    int `json:"methods"`
	Attributes int `json:"attributes"`
	Functions  int `json:"functions"`
	Classes    int `json:"classes"`
	Files      int `json:"files"`
	Branches   int `json:"branches"`
	Commits    int `json:"commits"`
	Repository int `json:"repository"`
}

// Total returns the number of nodes deleted across all steps.
func (s TeardownStats) Total() int {
	return s.Methods + s.Attributes + s.Functions + s.Classes + s.Files + s.Branches + s.Commits + s.Repository
}

// Counts summarises the nodes and edges reachable from one repository.
type Counts struct {
	Files      int `json:"files"`
	Classes    int `json:"classes"`
	Methods    int `json:"methods"`
	Functions  int `json:"functions"`
	Attributes int `json:"attributes"`
	Imports    int `json:"imports"`
	Branches   int `json:"branches"`
	Commits    int `json:"commits"`
}

// Teardown step names, in execution order.
const (
	StepMethods    = "methods"
	StepAttributes = "attributes"
	StepFunctions  = "functions"
	StepClasses    = "classes"
	StepFiles      = "files"
	StepBranches   = "branches"
	StepCommits    = "commits"
	StepRepository = "repository"
)

// TeardownSteps lists the teardown steps in the order they run.
var TeardownSteps = []string{
	StepMethods, StepAttributes, StepFunctions, StepClasses,
	StepFiles, StepBranches, StepCommits, StepRepository,
}

// set records count under the named step.
func (s *TeardownStats) set(step string, count int) {
	switch step {
	case StepMethods:
		s.Methods = count
	case StepAttributes:
		s.Attributes = count
	case StepFunctions:
		s.Functions = count
	case StepClasses:
		s.Classes = count
	case StepFiles:
		s.Files = count
	case StepBranches:
		s.Branches = count
	case StepCommits:
		s.Commits = count
	case StepRepository:
		s.Repository = count
	}
}

// newFileNode builds the File node for one analysis.
func newFileNode(repo string, a *ast.SourceAnalysis) FileNode {
	name := a.FilePath
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return FileNode{
		Key:        FileKey(repo, a.FilePath),
		Repo:       repo,
		Name:       name,
		Path:       a.FilePath,
		ModuleName: a.ModuleName,
		LineCount:  a.LineCount,
	}
}

// newMethodNode builds the Method node for a method of classFull.
func newMethodNode(classFull string, m ast.MethodRecord) MethodNode {
	list := make([]string, len(m.Params))
	for i, p := range m.Params {
		list[i] = p.Name + ":" + p.Type
	}
	return MethodNode{
		MethodID:       MethodID(classFull, m.Name),
		Name:           m.Name,
		FullName:       m.FullName,
		Args:           nonNil(m.Args),
		ParamsList:     list,
		ParamsDetailed: nonNil(m.ParamsDetailed),
		ReturnType:     m.ReturnType,
	}
}

// newFunctionNode builds the Function node for a function of filePath.
func newFunctionNode(filePath string, f ast.FunctionRecord) FunctionNode {
	return FunctionNode{
		FuncID:         FunctionID(filePath, f.Name),
		Name:           f.Name,
		FullName:       f.FullName,
		Args:           nonNil(f.Args),
		ParamsList:     nonNil(f.ParamsList),
		ParamsDetailed: nonNil(f.ParamsDetailed),
		ReturnType:     f.ReturnType,
	}
}

// newAttributeNode builds the Attribute node for an attribute of classFull.
func newAttributeNode(classFull string, a ast.AttributeRecord) AttributeNode {
	return AttributeNode{
		AttrID:        AttributeID(classFull, a.Name),
		Name:          a.Name,
		FullName:      classFull + "." + a.Name,
		Type:          a.Type,
		DefaultValue:  a.DefaultValue,
		IsInstance:    a.IsInstance,
		IsClass:       a.IsClass,
		IsProperty:    a.IsProperty,
		HasTypeHint:   a.HasTypeHint,
		FromSlots:     a.FromSlots,
		FromDataclass: a.FromDataclass,
		FromAttrs:     a.FromAttrs,
		IsClassVar:    a.IsClassVar,
		LineNumber:    a.LineNumber,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
