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
	"errors"
	"strings"
)

// Default limits for source analysis.
const (
	// DefaultMaxFileSize is the largest source file the analyzer accepts (500 KB).
	DefaultMaxFileSize int64 = 500_000

	// TypeAny is the rendering used whenever a type cannot be determined.
	TypeAny = "Any"

	// DefaultElided is the rendering used for defaults that are not simple literals.
	DefaultElided = "..."
)

// Sentinel errors returned by the analyzer.
var (
	// ErrSyntax indicates the source could not be parsed cleanly.
	ErrSyntax = errors.New("python syntax error")

	// ErrFileTooLarge indicates the source exceeds the configured maximum size.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates the source is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// ParameterKind classifies a callable parameter.
type ParameterKind string

const (
	KindPositional    ParameterKind = "positional"
	KindVarPositional ParameterKind = "var_positional"
	KindKeywordOnly   ParameterKind = "keyword_only"
	KindVarKeyword    ParameterKind = "var_keyword"
)

// ParameterRecord describes one parameter of a method or function.
//
// Variadic parameters carry their "*" / "**" prefix in Name. Default is nil
// when the parameter has no explicit default value.
type ParameterRecord struct {
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	Kind     ParameterKind `json:"kind"`
	Optional bool          `json:"optional"`
	Default  *string       `json:"default"`
}

// Detailed renders the parameter as "name:type[=default]", prefixed with
// "[kind] " for anything other than a plain positional parameter.
func (p ParameterRecord) Detailed() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteByte(':')
	b.WriteString(p.Type)
	switch {
	case p.Optional && p.Default != nil:
		b.WriteByte('=')
		b.WriteString(*p.Default)
	case p.Optional:
		b.WriteString("=None")
	}
	if p.Kind != KindPositional {
		return "[" + string(p.Kind) + "] " + b.String()
	}
	return b.String()
}

// AttributeRecord describes one attribute of a class.
//
// At most one record exists per attribute name within a class; see
// DedupAttributes for the merge rules.
type AttributeRecord struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	IsInstance    bool    `json:"is_instance"`
	IsClass       bool    `json:"is_class"`
	IsProperty    bool    `json:"is_property"`
	HasTypeHint   bool    `json:"has_type_hint"`
	DefaultValue  *string `json:"default_value"`
	LineNumber    int     `json:"line_number"`
	FromSlots     bool    `json:"from_slots"`
	FromDataclass bool    `json:"from_dataclass"`
	FromAttrs     bool    `json:"from_attrs"`
	IsClassVar    bool    `json:"is_class_var"`
}

// fromFramework reports whether the record came from a dataclass or attrs class.
func (a AttributeRecord) fromFramework() bool {
	return a.FromDataclass || a.FromAttrs
}

// MethodRecord describes a public method defined directly in a class body.
type MethodRecord struct {
	Name           string            `json:"name"`
	FullName       string            `json:"full_name"`
	Params         []ParameterRecord `json:"params"`
	ParamsDetailed []string          `json:"params_detailed"`
	ReturnType     string            `json:"return_type"`
	// Args holds positional parameter names, excluding self.
	Args []string `json:"args"`
}

// FunctionRecord describes a public module-level function.
type FunctionRecord struct {
	Name           string            `json:"name"`
	FullName       string            `json:"full_name"`
	Params         []ParameterRecord `json:"params"`
	ParamsDetailed []string          `json:"params_detailed"`
	ParamsList     []string          `json:"params_list"`
	ReturnType     string            `json:"return_type"`
	Args           []string          `json:"args"`
}

// ClassRecord describes a class and its extracted members.
type ClassRecord struct {
	Name       string            `json:"name"`
	FullName   string            `json:"full_name"`
	Methods    []MethodRecord    `json:"methods"`
	Attributes []AttributeRecord `json:"attributes"`
}

// SourceAnalysis is the immutable result of analyzing one Python file.
type SourceAnalysis struct {
	// ModuleName is the dotted importable name of the file.
	ModuleName string `json:"module_name"`

	// FilePath is relative to the repository root with forward slashes.
	FilePath string `json:"file_path"`

	Classes   []ClassRecord    `json:"classes"`
	Functions []FunctionRecord `json:"functions"`

	// Imports holds internal module names, sorted and unique.
	Imports []string `json:"imports"`

	LineCount int `json:"line_count"`
}

// MethodCount returns the number of methods across all classes.
func (s *SourceAnalysis) MethodCount() int {
	n := 0
	for _, c := range s.Classes {
		n += len(c.Methods)
	}
	return n
}

// AttributeCount returns the number of attributes across all classes.
func (s *SourceAnalysis) AttributeCount() int {
	n := 0
	for _, c := range s.Classes {
		n += len(c.Attributes)
	}
	return n
}

// isPrivate reports whether a name begins with an underscore.
func isPrivate(name string) bool {
	return strings.HasPrefix(name, "_")
}
