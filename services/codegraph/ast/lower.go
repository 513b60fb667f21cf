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
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ParseModule parses Python source and lowers it into a Module.
//
// Description:
//
//	Runs tree-sitter over content and converts the concrete tree into the
//	syntax model used by the extractors. Tree-sitter is error tolerant, so
//	a partial Module is always returned alongside ErrSyntax when the tree
//	contains error or missing nodes. Callers decide whether a partial
//	module is acceptable.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Python source bytes.
//
// Outputs:
//   - *Module: Lowered module. Non-nil unless parsing failed outright.
//   - error: ErrSyntax (wrapped) for trees with errors, or a context /
//     tree-sitter error.
//
// Thread Safety:
//
//	Safe for concurrent use. A tree-sitter parser is created per call.
func ParseModule(ctx context.Context, content []byte) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("%w: tree-sitter returned nil root node", ErrSyntax)
	}

	l := &lowerer{src: content}
	mod := &Module{Body: l.stmts(root)}

	if root.HasError() {
		return mod, fmt.Errorf("%w: source contains syntax errors", ErrSyntax)
	}
	return mod, nil
}

// lowerer converts tree-sitter nodes into the syntax model.
type lowerer struct {
	src []byte
}

func (l *lowerer) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(l.src)
}

func nodeLine(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// namedChildren returns the named children of n, comments excluded.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func firstNamed(n *sitter.Node) *sitter.Node {
	if kids := namedChildren(n); len(kids) > 0 {
		return kids[0]
	}
	return nil
}

// stmts lowers the statements directly under a module or block node.
func (l *lowerer) stmts(n *sitter.Node) []*Stmt {
	var out []*Stmt
	for _, c := range namedChildren(n) {
		if s := l.stmt(c); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (l *lowerer) stmt(n *sitter.Node) *Stmt {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "class_definition":
		return l.classDef(n)
	case "function_definition":
		return l.funcDef(n)
	case "decorated_definition":
		s := l.stmt(n.ChildByFieldName("definition"))
		if s == nil {
			return nil
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c != nil && c.Type() == "decorator" {
				s.Decorators = append(s.Decorators, l.expr(firstNamed(c)))
			}
		}
		return s
	case "expression_statement":
		return l.exprStmt(n)
	case "import_statement":
		return l.importStmt(n)
	case "import_from_statement":
		return l.importFromStmt(n)
	case "if_statement", "for_statement", "while_statement", "try_statement",
		"with_statement", "match_statement":
		return &Stmt{Kind: StmtBlock, Line: nodeLine(n), Body: l.suites(n)}
	}
	return &Stmt{Kind: StmtOther, Line: nodeLine(n)}
}

// suites flattens the nested blocks of a compound statement.
func (l *lowerer) suites(n *sitter.Node) []*Stmt {
	var out []*Stmt
	for _, c := range namedChildren(n) {
		switch {
		case c.Type() == "block":
			for _, inner := range namedChildren(c) {
				if inner.Type() == "case_clause" {
					out = append(out, l.suites(inner)...)
					continue
				}
				if s := l.stmt(inner); s != nil {
					out = append(out, s)
				}
			}
		case strings.HasSuffix(c.Type(), "_clause"):
			out = append(out, l.suites(c)...)
		}
	}
	return out
}

func (l *lowerer) classDef(n *sitter.Node) *Stmt {
	s := &Stmt{
		Kind: StmtClassDef,
		Line: nodeLine(n),
		Name: l.text(n.ChildByFieldName("name")),
	}
	for _, base := range namedChildren(n.ChildByFieldName("superclasses")) {
		if base.Type() == "keyword_argument" {
			continue
		}
		s.Bases = append(s.Bases, l.expr(base))
	}
	s.Body = l.stmts(n.ChildByFieldName("body"))
	return s
}

func (l *lowerer) funcDef(n *sitter.Node) *Stmt {
	s := &Stmt{
		Kind: StmtFuncDef,
		Line: nodeLine(n),
		Name: l.text(n.ChildByFieldName("name")),
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil && c.Type() == "async" {
			s.Async = true
			break
		}
	}
	s.Params = l.arguments(n.ChildByFieldName("parameters"))
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		s.Returns = l.expr(rt)
	}
	s.Body = l.stmts(n.ChildByFieldName("body"))
	return s
}

// arguments lowers a parameters node.
func (l *lowerer) arguments(n *sitter.Node) *Arguments {
	a := &Arguments{}
	kwOnly := false
	add := func(arg Arg, def *Expr) {
		if kwOnly {
			a.KwOnly = append(a.KwOnly, arg)
			a.KwDefaults = append(a.KwDefaults, def)
			return
		}
		a.Args = append(a.Args, arg)
		if def != nil {
			a.Defaults = append(a.Defaults, def)
		}
	}

	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "identifier":
			add(Arg{Name: l.text(c)}, nil)
		case "typed_parameter":
			annotation := l.expr(c.ChildByFieldName("type"))
			inner := firstNamed(c)
			if inner == nil {
				continue
			}
			switch inner.Type() {
			case "list_splat_pattern":
				a.VarArg = &Arg{Name: l.text(firstNamed(inner)), Annotation: annotation}
				kwOnly = true
			case "dictionary_splat_pattern":
				a.KwArg = &Arg{Name: l.text(firstNamed(inner)), Annotation: annotation}
			default:
				add(Arg{Name: l.text(inner), Annotation: annotation}, nil)
			}
		case "default_parameter":
			add(Arg{Name: l.text(c.ChildByFieldName("name"))}, l.expr(c.ChildByFieldName("value")))
		case "typed_default_parameter":
			add(Arg{
				Name:       l.text(c.ChildByFieldName("name")),
				Annotation: l.expr(c.ChildByFieldName("type")),
			}, l.expr(c.ChildByFieldName("value")))
		case "list_splat_pattern":
			a.VarArg = &Arg{Name: l.text(firstNamed(c))}
			kwOnly = true
		case "dictionary_splat_pattern":
			a.KwArg = &Arg{Name: l.text(firstNamed(c))}
		case "keyword_separator":
			kwOnly = true
		}
	}
	return a
}

func (l *lowerer) exprStmt(n *sitter.Node) *Stmt {
	c := firstNamed(n)
	if c == nil {
		return &Stmt{Kind: StmtOther, Line: nodeLine(n)}
	}
	if c.Type() == "assignment" {
		return l.assignment(c)
	}
	return &Stmt{Kind: StmtExpr, Line: nodeLine(n), Value: l.expr(c)}
}

// assignment lowers "a = b = v" and "a: T = v".
func (l *lowerer) assignment(n *sitter.Node) *Stmt {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")

	if typ := n.ChildByFieldName("type"); typ != nil {
		return &Stmt{
			Kind:       StmtAnnAssign,
			Line:       nodeLine(n),
			Targets:    []*Expr{l.expr(left)},
			Annotation: l.expr(typ),
			Value:      l.expr(right),
		}
	}

	targets := []*Expr{l.expr(left)}
	for right != nil && right.Type() == "assignment" {
		targets = append(targets, l.expr(right.ChildByFieldName("left")))
		right = right.ChildByFieldName("right")
	}
	return &Stmt{
		Kind:    StmtAssign,
		Line:    nodeLine(n),
		Targets: targets,
		Value:   l.expr(right),
	}
}

func (l *lowerer) importStmt(n *sitter.Node) *Stmt {
	s := &Stmt{Kind: StmtImport, Line: nodeLine(n)}
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "dotted_name":
			s.Names = append(s.Names, ImportAlias{Name: l.text(c)})
		case "aliased_import":
			s.Names = append(s.Names, ImportAlias{
				Name:  l.text(c.ChildByFieldName("name")),
				Alias: l.text(c.ChildByFieldName("alias")),
			})
		}
	}
	return s
}

func (l *lowerer) importFromStmt(n *sitter.Node) *Stmt {
	s := &Stmt{Kind: StmtImportFrom, Line: nodeLine(n)}
	sawImport := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		switch c.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			for _, rc := range namedChildren(c) {
				switch rc.Type() {
				case "import_prefix":
					s.Level = strings.Count(l.text(rc), ".")
				case "dotted_name":
					s.Module = l.text(rc)
				}
			}
		case "dotted_name":
			if !sawImport {
				s.Module = l.text(c)
			} else {
				s.Names = append(s.Names, ImportAlias{Name: l.text(c)})
			}
		case "aliased_import":
			s.Names = append(s.Names, ImportAlias{
				Name:  l.text(c.ChildByFieldName("name")),
				Alias: l.text(c.ChildByFieldName("alias")),
			})
		case "wildcard_import":
			s.Names = append(s.Names, ImportAlias{Name: "*"})
		}
	}
	return s
}

// expr lowers an expression node. It returns nil only for a nil node.
func (l *lowerer) expr(n *sitter.Node) *Expr {
	if n == nil {
		return nil
	}
	e := &Expr{Kind: ExprOther, Text: l.text(n), Line: nodeLine(n)}

	switch n.Type() {
	case "identifier":
		e.Kind = ExprName
		e.Name = e.Text
	case "type", "parenthesized_expression":
		if inner := firstNamed(n); inner != nil {
			return l.expr(inner)
		}
	case "attribute":
		e.Kind = ExprAttribute
		e.Value = l.expr(n.ChildByFieldName("object"))
		e.Name = l.text(n.ChildByFieldName("attribute"))
	case "member_type":
		kids := namedChildren(n)
		if len(kids) == 2 {
			e.Kind = ExprAttribute
			e.Value = l.expr(kids[0])
			e.Name = l.text(kids[1])
		}
	case "call":
		e.Kind = ExprCall
		e.Func = l.expr(n.ChildByFieldName("function"))
		args := n.ChildByFieldName("arguments")
		if args != nil && args.Type() != "argument_list" {
			e.Args = append(e.Args, l.expr(args))
			break
		}
		for _, c := range namedChildren(args) {
			if c.Type() == "keyword_argument" {
				e.Keywords = append(e.Keywords, Keyword{
					Name:  l.text(c.ChildByFieldName("name")),
					Value: l.expr(c.ChildByFieldName("value")),
				})
				continue
			}
			e.Args = append(e.Args, l.expr(c))
		}
	case "subscript":
		e.Kind = ExprSubscript
		kids := namedChildren(n)
		if len(kids) > 0 {
			e.Value = l.expr(kids[0])
			for _, c := range kids[1:] {
				e.Elts = append(e.Elts, l.expr(c))
			}
		}
	case "generic_type":
		e.Kind = ExprSubscript
		for _, c := range namedChildren(n) {
			if c.Type() == "type_parameter" {
				for _, p := range namedChildren(c) {
					e.Elts = append(e.Elts, l.expr(p))
				}
				continue
			}
			e.Value = l.expr(c)
		}
	case "union_type":
		kids := namedChildren(n)
		if len(kids) == 2 {
			e.Kind = ExprBinOp
			e.Op = "|"
			e.Left = l.expr(kids[0])
			e.Right = l.expr(kids[1])
		}
	case "binary_operator":
		e.Kind = ExprBinOp
		e.Left = l.expr(n.ChildByFieldName("left"))
		e.Right = l.expr(n.ChildByFieldName("right"))
		e.Op = l.text(n.ChildByFieldName("operator"))
	case "integer", "float":
		e.Kind = ExprConstant
		e.Literal = e.Text
		switch {
		case strings.HasSuffix(e.Text, "j"), strings.HasSuffix(e.Text, "J"):
			e.Const = ConstComplex
		case n.Type() == "integer":
			e.Const = ConstInt
		default:
			e.Const = ConstFloat
		}
	case "true", "false":
		e.Kind = ExprConstant
		e.Const = ConstBool
		e.Literal = e.Text
	case "none":
		e.Kind = ExprConstant
		e.Const = ConstNone
		e.Literal = "None"
	case "ellipsis":
		e.Kind = ExprConstant
		e.Const = ConstEllipsis
		e.Literal = "..."
	case "string":
		l.stringLiteral(e, []string{e.Text})
	case "concatenated_string":
		var parts []string
		for _, c := range namedChildren(n) {
			parts = append(parts, l.text(c))
		}
		l.stringLiteral(e, parts)
	case "list", "list_pattern":
		e.Kind = ExprList
		e.Elts = l.exprs(n)
	case "tuple", "expression_list", "pattern_list", "tuple_pattern":
		e.Kind = ExprTuple
		e.Elts = l.exprs(n)
	case "set":
		e.Kind = ExprSet
		e.Elts = l.exprs(n)
	case "dictionary":
		e.Kind = ExprDict
		for _, c := range namedChildren(n) {
			if c.Type() == "pair" {
				e.Elts = append(e.Elts, l.expr(c.ChildByFieldName("key")), l.expr(c.ChildByFieldName("value")))
			}
		}
	case "list_comprehension":
		e.Kind = ExprListComp
	case "dictionary_comprehension":
		e.Kind = ExprDictComp
	case "set_comprehension":
		e.Kind = ExprSetComp
	}
	return e
}

func (l *lowerer) exprs(n *sitter.Node) []*Expr {
	var out []*Expr
	for _, c := range namedChildren(n) {
		out = append(out, l.expr(c))
	}
	return out
}

// stringLiteral fills e from one or more adjacent string literal pieces.
// f-strings stay ExprOther since they have no constant value.
func (l *lowerer) stringLiteral(e *Expr, pieces []string) {
	var body strings.Builder
	isBytes := false
	for i, piece := range pieces {
		prefix, content := splitStringLiteral(piece)
		lower := strings.ToLower(prefix)
		if strings.Contains(lower, "f") {
			return
		}
		if i == 0 && strings.Contains(lower, "b") {
			isBytes = true
		}
		body.WriteString(content)
	}
	e.Kind = ExprConstant
	e.Const = ConstString
	if isBytes {
		e.Const = ConstBytes
	}
	e.Literal = body.String()
}

// splitStringLiteral separates the prefix letters of a literal such as
// rb'''x''' from its unquoted body.
func splitStringLiteral(text string) (prefix, body string) {
	i := strings.IndexAny(text, `'"`)
	if i < 0 {
		return "", text
	}
	prefix, rest := text[:i], text[i:]
	quote := rest[:1]
	if triple := strings.Repeat(quote, 3); len(rest) >= 6 && strings.HasPrefix(rest, triple) {
		quote = triple
	}
	body = strings.TrimPrefix(rest, quote)
	body = strings.TrimSuffix(body, quote)
	return prefix, body
}
