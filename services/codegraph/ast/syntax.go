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

// ExprKind tags the shape of a lowered expression.
type ExprKind int

const (
	ExprOther ExprKind = iota
	ExprName
	ExprAttribute
	ExprCall
	ExprSubscript
	ExprConstant
	ExprList
	ExprTuple
	ExprDict
	ExprSet
	ExprListComp
	ExprDictComp
	ExprSetComp
	ExprBinOp
)

// ConstKind tags the literal type of an ExprConstant.
type ConstKind int

const (
	ConstString ConstKind = iota
	ConstBytes
	ConstInt
	ConstFloat
	ConstComplex
	ConstBool
	ConstNone
	ConstEllipsis
)

// Keyword is a name=value argument of a call.
type Keyword struct {
	Name  string
	Value *Expr
}

// Expr is the lowered form of a Python expression.
//
// Description:
//
//	Only the fields relevant to Kind are populated:
//	  ExprName       Name
//	  ExprAttribute  Value (object), Name (attribute)
//	  ExprCall       Func, Args, Keywords
//	  ExprSubscript  Value (base), Elts (slice elements)
//	  ExprConstant   Const, Literal
//	  ExprList/Tuple/Set/Dict  Elts (dict keys and values interleaved)
//	  ExprBinOp      Left, Op, Right
//	Text always holds the raw source text of the expression.
type Expr struct {
	Kind     ExprKind
	Name     string
	Value    *Expr
	Func     *Expr
	Args     []*Expr
	Keywords []Keyword
	Elts     []*Expr
	Const    ConstKind
	Literal  string
	Left     *Expr
	Right    *Expr
	Op       string
	Text     string
	Line     int
}

// DottedName returns "a.b.c" for Name/Attribute chains and "" otherwise.
func (e *Expr) DottedName() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ExprName:
		return e.Name
	case ExprAttribute:
		base := e.Value.DottedName()
		if base == "" {
			return ""
		}
		return base + "." + e.Name
	}
	return ""
}

// StmtKind tags the shape of a lowered statement.
type StmtKind int

const (
	StmtOther StmtKind = iota
	StmtClassDef
	StmtFuncDef
	StmtAssign
	StmtAnnAssign
	StmtImport
	StmtImportFrom
	StmtExpr
	// StmtBlock is a compound statement (if, for, while, try, with, match)
	// whose nested suites are flattened into Body in source order.
	StmtBlock
)

// ImportAlias is one "name [as alias]" entry of an import statement.
type ImportAlias struct {
	Name  string
	Alias string
}

// Stmt is the lowered form of a Python statement.
//
// Description:
//
//	Only the fields relevant to Kind are populated:
//	  StmtClassDef   Name, Decorators, Bases, Body
//	  StmtFuncDef    Name, Decorators, Params, Returns, Body, Async
//	  StmtAssign     Targets (chained targets in order), Value
//	  StmtAnnAssign  Targets[0], Annotation, Value (may be nil)
//	  StmtImport     Names
//	  StmtImportFrom Module, Level, Names
//	  StmtExpr       Value
//	  StmtBlock      Body
type Stmt struct {
	Kind       StmtKind
	Line       int
	Name       string
	Decorators []*Expr
	Bases      []*Expr
	Body       []*Stmt
	Params     *Arguments
	Returns    *Expr
	Async      bool
	Targets    []*Expr
	Annotation *Expr
	Value      *Expr
	Module     string
	Level      int
	Names      []ImportAlias
}

// Arg is a single named parameter with an optional annotation.
type Arg struct {
	Name       string
	Annotation *Expr
}

// Arguments is the lowered parameter list of a function.
//
// Description:
//
//	Args holds positional parameters, positional-only ones included.
//	Defaults holds the defaults of the trailing positional parameters, so
//	Defaults[i] belongs to Args[len(Args)-len(Defaults)+i]. KwDefaults is
//	aligned with KwOnly and holds nil where no default was given.
type Arguments struct {
	Args       []Arg
	Defaults   []*Expr
	VarArg     *Arg
	KwOnly     []Arg
	KwDefaults []*Expr
	KwArg      *Arg
}

// Module is the lowered form of a whole source file.
type Module struct {
	Body []*Stmt
}

// Walk visits every statement of the module breadth first, descending into
// class bodies, function bodies and compound blocks.
func (m *Module) Walk(fn func(*Stmt)) {
	walkStmts(m.Body, fn)
}

// walkStmts visits stmts and all nested statements breadth first.
func walkStmts(stmts []*Stmt, fn func(*Stmt)) {
	queue := append([]*Stmt(nil), stmts...)
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		fn(s)
		queue = append(queue, s.Body...)
	}
}

// WalkExprs visits e and every sub-expression depth first.
func WalkExprs(e *Expr, fn func(*Expr)) {
	if e == nil {
		return
	}
	fn(e)
	WalkExprs(e.Value, fn)
	WalkExprs(e.Func, fn)
	for _, a := range e.Args {
		WalkExprs(a, fn)
	}
	for _, k := range e.Keywords {
		WalkExprs(k.Value, fn)
	}
	for _, el := range e.Elts {
		WalkExprs(el, fn)
	}
	WalkExprs(e.Left, fn)
	WalkExprs(e.Right, fn)
}
