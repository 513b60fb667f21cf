// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate cross-references a candidate Python script against the
// code graph: imports, instantiations, method and function calls and
// attribute accesses are checked against the stored structure.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

const validateTracerName = "codegraph.validate"

// Status is the outcome of one check.
type Status string

const (
	StatusValid       Status = "valid"
	StatusNotFound    Status = "not_found"
	StatusInvalidArgs Status = "invalid_args"
	// StatusUnknown marks references into modules absent from the graph.
	StatusUnknown Status = "unknown"
)

// Kind is what a finding checked.
type Kind string

const (
	KindImport          Kind = "import"
	KindInstantiation   Kind = "instantiation"
	KindMethodCall      Kind = "method_call"
	KindFunctionCall    Kind = "function_call"
	KindAttributeAccess Kind = "attribute_access"
)

// Finding is the result of checking one reference.
type Finding struct {
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Line    int    `json:"line"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Result aggregates the findings for one script.
type Result struct {
	Findings    []Finding `json:"findings"`
	Valid       int       `json:"valid"`
	NotFound    int       `json:"not_found"`
	InvalidArgs int       `json:"invalid_args"`
	Unknown     int       `json:"unknown"`

	// Confidence is valid / (valid + not_found + invalid_args), or 1 when
	// nothing checkable was found.
	Confidence float64 `json:"confidence"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	switch f.Status {
	case StatusValid:
		r.Valid++
	case StatusNotFound:
		r.NotFound++
	case StatusInvalidArgs:
		r.InvalidArgs++
	case StatusUnknown:
		r.Unknown++
	}
}

func (r *Result) finish() {
	checked := r.Valid + r.NotFound + r.InvalidArgs
	if checked == 0 {
		r.Confidence = 1
		return
	}
	r.Confidence = float64(r.Valid) / float64(checked)
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// Validator checks scripts against a graph.
//
// Thread Safety:
//
//	Safe for concurrent use if the Querier is.
type Validator struct {
	q      graph.Querier
	logger *slog.Logger
}

// NewValidator creates a Validator over q.
func NewValidator(q graph.Querier, opts ...Option) (*Validator, error) {
	if q == nil {
		return nil, fmt.Errorf("querier must not be nil")
	}
	v := &Validator{q: q, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// binding is what a script-level name refers to.
type binding struct {
	kind bindKind
	// target is a module name, a class full name or a function full name.
	target string
}

type bindKind int

const (
	bindModule bindKind = iota + 1
	bindClass
	bindFunction
	bindInstance
	// bindExternal names come from modules the graph does not know.
	bindExternal
)

// run holds per-script state.
type run struct {
	v        *Validator
	ctx      context.Context
	result   *Result
	names    map[string]binding
	modules  map[string]bool
	methods  map[string][]graph.MethodNode
	attrs    map[string][]graph.AttributeNode
	reported map[*ast.Expr]bool
}

// Validate parses script and checks its references.
//
// Description:
//
//	Three passes over the lowered module: imports bind names to modules,
//	classes and functions; assignments bind variables to instances of
//	known classes; calls and attribute accesses on those names are then
//	checked. References into modules that are absent from the graph are
//	reported as unknown.
//
// Outputs:
//
//	*Result - The findings in source order of discovery.
//	error - Non-nil if the script does not parse or a query fails.
func (v *Validator) Validate(ctx context.Context, script []byte) (*Result, error) {
	ctx, span := otel.Tracer(validateTracerName).Start(ctx, "validate.Validate")
	defer span.End()

	mod, err := ast.ParseModule(ctx, script)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("parsing script: %w", err)
	}

	r := &run{
		v:        v,
		ctx:      ctx,
		result:   &Result{Findings: []Finding{}},
		names:    make(map[string]binding),
		modules:  make(map[string]bool),
		methods:  make(map[string][]graph.MethodNode),
		attrs:    make(map[string][]graph.AttributeNode),
		reported: make(map[*ast.Expr]bool),
	}

	var stmts []*ast.Stmt
	mod.Walk(func(s *ast.Stmt) { stmts = append(stmts, s) })

	for _, pass := range []func(*ast.Stmt) error{r.imports, r.assignments, r.usages} {
		for _, s := range stmts {
			if err := pass(s); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
	}

	r.result.finish()
	span.SetAttributes(
		attribute.Int("findings", len(r.result.Findings)),
		attribute.Float64("confidence", r.result.Confidence),
	)
	v.logger.Debug("validated script",
		slog.Int("findings", len(r.result.Findings)),
		slog.Int("not_found", r.result.NotFound),
		slog.Float64("confidence", r.result.Confidence),
	)
	return r.result, nil
}

// knownModule reports whether any file in the graph defines module or a
// submodule of it.
func (r *run) knownModule(module string) (bool, error) {
	if known, ok := r.modules[module]; ok {
		return known, nil
	}
	files, err := r.v.q.FilesByModule(r.ctx, module)
	if err != nil {
		return false, fmt.Errorf("looking up module %s: %w", module, err)
	}
	r.modules[module] = len(files) > 0
	return len(files) > 0, nil
}

func (r *run) classExists(fullName string) (bool, error) {
	_, err := r.v.q.FindClass(r.ctx, fullName)
	if errors.Is(err, graph.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up class %s: %w", fullName, err)
	}
	return true, nil
}

func (r *run) function(fullName string) (*graph.FunctionNode, error) {
	short := fullName[strings.LastIndex(fullName, ".")+1:]
	fns, err := r.v.q.FindFunctions(r.ctx, short)
	if err != nil {
		return nil, fmt.Errorf("looking up function %s: %w", fullName, err)
	}
	for i := range fns {
		if fns[i].FullName == fullName {
			return &fns[i], nil
		}
	}
	return nil, nil
}

func (r *run) classMethods(classFull string) ([]graph.MethodNode, error) {
	if m, ok := r.methods[classFull]; ok {
		return m, nil
	}
	m, err := r.v.q.MethodsOfClass(r.ctx, classFull)
	if err != nil {
		return nil, fmt.Errorf("listing methods of %s: %w", classFull, err)
	}
	r.methods[classFull] = m
	return m, nil
}

func (r *run) classAttributes(classFull string) ([]graph.AttributeNode, error) {
	if a, ok := r.attrs[classFull]; ok {
		return a, nil
	}
	a, err := r.v.q.AttributesOfClass(r.ctx, classFull)
	if err != nil {
		return nil, fmt.Errorf("listing attributes of %s: %w", classFull, err)
	}
	r.attrs[classFull] = a
	return a, nil
}

// imports binds names introduced by import statements.
func (r *run) imports(s *ast.Stmt) error {
	switch s.Kind {
	case ast.StmtImport:
		for _, alias := range s.Names {
			known, err := r.knownModule(alias.Name)
			if err != nil {
				return err
			}
			local := alias.Alias
			if local == "" {
				// "import a.b" binds "a".
				local, _, _ = strings.Cut(alias.Name, ".")
			}
			if !known {
				r.names[local] = binding{kind: bindExternal, target: alias.Name}
				r.result.add(Finding{Kind: KindImport, Name: alias.Name, Line: s.Line, Status: StatusUnknown})
				continue
			}
			target := alias.Name
			if alias.Alias == "" {
				target = local
			}
			r.names[local] = binding{kind: bindModule, target: target}
			r.result.add(Finding{Kind: KindImport, Name: alias.Name, Line: s.Line, Status: StatusValid})
		}

	case ast.StmtImportFrom:
		if s.Level > 0 || s.Module == "" {
			return nil
		}
		known, err := r.knownModule(s.Module)
		if err != nil {
			return err
		}
		for _, alias := range s.Names {
			local := alias.Alias
			if local == "" {
				local = alias.Name
			}
			full := s.Module + "." + alias.Name
			if !known || alias.Name == "*" {
				r.names[local] = binding{kind: bindExternal, target: full}
				r.result.add(Finding{Kind: KindImport, Name: full, Line: s.Line, Status: StatusUnknown})
				continue
			}
			b, err := r.resolveMember(s.Module, alias.Name)
			if err != nil {
				return err
			}
			if b == nil {
				r.result.add(Finding{
					Kind: KindImport, Name: full, Line: s.Line, Status: StatusNotFound,
					Message: fmt.Sprintf("module %s defines no class, function or submodule %s", s.Module, alias.Name),
				})
				continue
			}
			r.names[local] = *b
			r.result.add(Finding{Kind: KindImport, Name: full, Line: s.Line, Status: StatusValid})
		}
	}
	return nil
}

// resolveMember finds what "from module import name" refers to, or nil.
func (r *run) resolveMember(module, name string) (*binding, error) {
	full := module + "." + name
	ok, err := r.classExists(full)
	if err != nil {
		return nil, err
	}
	if ok {
		return &binding{kind: bindClass, target: full}, nil
	}
	fn, err := r.function(full)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return &binding{kind: bindFunction, target: full}, nil
	}
	sub, err := r.knownModule(full)
	if err != nil {
		return nil, err
	}
	if sub {
		return &binding{kind: bindModule, target: full}, nil
	}
	return nil, nil
}

// classOf resolves a callee expression to a class full name. The boolean
// result is false when the callee is not a reference to a graph module's
// member.
func (r *run) classOf(callee *ast.Expr) (string, bool, error) {
	switch callee.Kind {
	case ast.ExprName:
		b, ok := r.names[callee.Name]
		if ok && b.kind == bindClass {
			return b.target, true, nil
		}
	case ast.ExprAttribute:
		if callee.Value == nil || callee.Value.Kind != ast.ExprName {
			return "", false, nil
		}
		b, ok := r.names[callee.Value.Name]
		if !ok || b.kind != bindModule {
			return "", false, nil
		}
		full := b.target + "." + callee.Name
		exists, err := r.classExists(full)
		if err != nil || !exists {
			return "", false, err
		}
		return full, true, nil
	}
	return "", false, nil
}

// assignments binds "x = Cls(...)" and checks the instantiation.
func (r *run) assignments(s *ast.Stmt) error {
	if s.Kind != ast.StmtAssign && s.Kind != ast.StmtAnnAssign {
		return nil
	}
	call := s.Value
	if call == nil || call.Kind != ast.ExprCall || call.Func == nil {
		return nil
	}
	classFull, ok, err := r.classOf(call.Func)
	if err != nil || !ok {
		return err
	}
	for _, t := range s.Targets {
		if t != nil && t.Kind == ast.ExprName {
			r.names[t.Name] = binding{kind: bindInstance, target: classFull}
		}
	}
	r.reported[call] = true
	r.result.add(Finding{Kind: KindInstantiation, Name: classFull, Line: s.Line, Status: StatusValid})
	return nil
}

// usages checks calls and attribute accesses in expression positions.
func (r *run) usages(s *ast.Stmt) error {
	switch s.Kind {
	case ast.StmtAssign, ast.StmtAnnAssign, ast.StmtExpr:
		// Assignment targets may introduce attributes, so only values are checked.
		return r.expr(s.Value, s.Line, false)
	}
	return nil
}

// expr walks e. callee is true when e is the function of a call.
func (r *run) expr(e *ast.Expr, line int, callee bool) error {
	if e == nil {
		return nil
	}
	if e.Line > 0 {
		line = e.Line
	}

	switch e.Kind {
	case ast.ExprCall:
		if err := r.call(e, line); err != nil {
			return err
		}
		if err := r.expr(e.Func, line, true); err != nil {
			return err
		}
		for _, a := range e.Args {
			if err := r.expr(a, line, false); err != nil {
				return err
			}
		}
		for _, kw := range e.Keywords {
			if err := r.expr(kw.Value, line, false); err != nil {
				return err
			}
		}
		return nil

	case ast.ExprAttribute:
		if !callee {
			if err := r.attribute(e, line); err != nil {
				return err
			}
		}
		return r.expr(e.Value, line, false)
	}

	for _, sub := range []*ast.Expr{e.Value, e.Func, e.Left, e.Right} {
		if err := r.expr(sub, line, false); err != nil {
			return err
		}
	}
	for _, el := range e.Elts {
		if err := r.expr(el, line, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) call(call *ast.Expr, line int) error {
	if r.reported[call] || call.Func == nil {
		return nil
	}
	fn := call.Func

	switch fn.Kind {
	case ast.ExprName:
		b, ok := r.names[fn.Name]
		if !ok {
			return nil
		}
		switch b.kind {
		case bindFunction:
			return r.functionCall(call, b.target, line)
		case bindClass:
			r.result.add(Finding{Kind: KindInstantiation, Name: b.target, Line: line, Status: StatusValid})
		case bindExternal:
			r.result.add(Finding{Kind: KindFunctionCall, Name: b.target, Line: line, Status: StatusUnknown})
		}

	case ast.ExprAttribute:
		if fn.Value == nil || fn.Value.Kind != ast.ExprName {
			return nil
		}
		b, ok := r.names[fn.Value.Name]
		if !ok {
			return nil
		}
		switch b.kind {
		case bindInstance:
			return r.methodCall(call, b.target, fn.Name, line)
		case bindModule:
			return r.moduleCall(call, b.target, fn.Name, line)
		}
	}
	return nil
}

func (r *run) functionCall(call *ast.Expr, fullName string, line int) error {
	fn, err := r.function(fullName)
	if err != nil {
		return err
	}
	if fn == nil {
		r.result.add(Finding{Kind: KindFunctionCall, Name: fullName, Line: line, Status: StatusNotFound})
		return nil
	}
	r.result.add(argsFinding(KindFunctionCall, fullName, line, parseSignature(fn.ParamsDetailed).check(call)))
	return nil
}

func (r *run) moduleCall(call *ast.Expr, module, name string, line int) error {
	full := module + "." + name
	isClass, err := r.classExists(full)
	if err != nil {
		return err
	}
	if isClass {
		r.result.add(Finding{Kind: KindInstantiation, Name: full, Line: line, Status: StatusValid})
		return nil
	}
	return r.functionCall(call, full, line)
}

func (r *run) methodCall(call *ast.Expr, classFull, name string, line int) error {
	full := classFull + "." + name
	methods, err := r.classMethods(classFull)
	if err != nil {
		return err
	}
	for _, m := range methods {
		if m.Name == name {
			r.result.add(argsFinding(KindMethodCall, full, line, parseSignature(m.ParamsDetailed).check(call)))
			return nil
		}
	}
	r.result.add(Finding{
		Kind: KindMethodCall, Name: full, Line: line, Status: StatusNotFound,
		Message: fmt.Sprintf("class %s has no method %s", classFull, name),
	})
	return nil
}

func (r *run) attribute(e *ast.Expr, line int) error {
	if e.Value == nil || e.Value.Kind != ast.ExprName {
		return nil
	}
	b, ok := r.names[e.Value.Name]
	if !ok || b.kind != bindInstance {
		return nil
	}
	full := b.target + "." + e.Name

	attrs, err := r.classAttributes(b.target)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		if a.Name == e.Name {
			r.result.add(Finding{Kind: KindAttributeAccess, Name: full, Line: line, Status: StatusValid})
			return nil
		}
	}
	// A bound method reference is a valid access.
	methods, err := r.classMethods(b.target)
	if err != nil {
		return err
	}
	for _, m := range methods {
		if m.Name == e.Name {
			r.result.add(Finding{Kind: KindAttributeAccess, Name: full, Line: line, Status: StatusValid})
			return nil
		}
	}
	r.result.add(Finding{
		Kind: KindAttributeAccess, Name: full, Line: line, Status: StatusNotFound,
		Message: fmt.Sprintf("class %s has no attribute %s", b.target, e.Name),
	})
	return nil
}

func argsFinding(kind Kind, name string, line int, problem string) Finding {
	if problem != "" {
		return Finding{Kind: kind, Name: name, Line: line, Status: StatusInvalidArgs, Message: problem}
	}
	return Finding{Kind: kind, Name: name, Line: line, Status: StatusValid}
}
