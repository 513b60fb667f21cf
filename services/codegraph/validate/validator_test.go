// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/ast"
	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

const modelsSource = `class Order:
    status = "new"

    def __init__(self, id):
        self.id = id

    def pay(self, amount, currency="USD", *, note=None):
        return True

    @property
    def total(self):
        return 0


def load(path, strict=False):
    return Order(1)
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newShopGraph ingests a small "shop" package into an in-memory store.
func newShopGraph(t *testing.T) graph.Querier {
	t.Helper()
	ctx := context.Background()
	files := map[string]string{
		"shop/__init__.py": "",
		"shop/models.py":   modelsSource,
	}
	fsys := fstest.MapFS{}
	for p, src := range files {
		fsys[p] = &fstest.MapFile{Data: []byte(src)}
	}
	repo := ast.NewRepoContextFS(fsys, []string{"shop"})

	analyzer := ast.NewAnalyzer(ast.WithLogger(quietLogger()))
	var analyses []*ast.SourceAnalysis
	for _, p := range []string{"shop/__init__.py", "shop/models.py"} {
		a, err := analyzer.AnalyzeFile(ctx, []byte(files[p]), p, repo)
		require.NoError(t, err)
		analyses = append(analyses, a)
	}

	store, err := graph.OpenBadgerStore("", graph.WithBadgerLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	asm, err := graph.NewAssembler(store, graph.WithAssemblerLogger(quietLogger()))
	require.NoError(t, err)
	_, err = asm.Assemble(ctx, "shop", analyses, &graph.Metadata{})
	require.NoError(t, err)
	return store
}

func statusOf(t *testing.T, res *Result, kind Kind, name string) []Status {
	t.Helper()
	var out []Status
	for _, f := range res.Findings {
		if f.Kind == kind && f.Name == name {
			out = append(out, f.Status)
		}
	}
	return out
}

const script = `import os
from shop.models import Order, load, Missing
from shop import models
from requests import get

o = Order(1)
o.pay(10)
o.pay(10, "EUR", note="x")
o.pay()
o.pay(1, 2, 3)
o.pay(1, colour="red")
o.refund(5)
print(o.status)
print(o.id)
print(o.total)
print(o.nope)
load("a.json")
load()
models.load("b", strict=True)
x = models.Order(2)
get("http://example.com")
`

func TestValidator_Script(t *testing.T) {
	v, err := NewValidator(newShopGraph(t), WithLogger(quietLogger()))
	require.NoError(t, err)

	res, err := v.Validate(context.Background(), []byte(script))
	require.NoError(t, err)

	assert.Equal(t, []Status{StatusUnknown}, statusOf(t, res, KindImport, "os"))
	assert.Equal(t, []Status{StatusValid}, statusOf(t, res, KindImport, "shop.models.Order"))
	assert.Equal(t, []Status{StatusValid}, statusOf(t, res, KindImport, "shop.models.load"))
	assert.Equal(t, []Status{StatusNotFound}, statusOf(t, res, KindImport, "shop.models.Missing"))
	assert.Equal(t, []Status{StatusValid}, statusOf(t, res, KindImport, "shop.models"))
	assert.Equal(t, []Status{StatusUnknown}, statusOf(t, res, KindImport, "requests.get"))

	assert.Equal(t, []Status{StatusValid, StatusValid}, statusOf(t, res, KindInstantiation, "shop.models.Order"))

	assert.Equal(t, []Status{
		StatusValid, StatusValid, StatusInvalidArgs, StatusInvalidArgs, StatusInvalidArgs,
	}, statusOf(t, res, KindMethodCall, "shop.models.Order.pay"))
	assert.Equal(t, []Status{StatusNotFound}, statusOf(t, res, KindMethodCall, "shop.models.Order.refund"))

	assert.Equal(t, []Status{StatusValid}, statusOf(t, res, KindAttributeAccess, "shop.models.Order.status"))
	assert.Equal(t, []Status{StatusValid}, statusOf(t, res, KindAttributeAccess, "shop.models.Order.id"))
	assert.Equal(t, []Status{StatusValid}, statusOf(t, res, KindAttributeAccess, "shop.models.Order.total"))
	assert.Equal(t, []Status{StatusNotFound}, statusOf(t, res, KindAttributeAccess, "shop.models.Order.nope"))

	assert.Equal(t, []Status{StatusValid, StatusInvalidArgs, StatusValid}, statusOf(t, res, KindFunctionCall, "shop.models.load"))
	assert.Equal(t, []Status{StatusUnknown}, statusOf(t, res, KindFunctionCall, "requests.get"))

	assert.Equal(t, 12, res.Valid)
	assert.Equal(t, 3, res.NotFound)
	assert.Equal(t, 4, res.InvalidArgs)
	assert.Equal(t, 3, res.Unknown)
	assert.InDelta(t, 12.0/19.0, res.Confidence, 1e-9)
}

func TestValidator_NothingToCheck(t *testing.T) {
	v, err := NewValidator(newShopGraph(t))
	require.NoError(t, err)

	res, err := v.Validate(context.Background(), []byte("import json\nprint(json.dumps({}))\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unknown)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestValidator_SyntaxError(t *testing.T) {
	v, err := NewValidator(newShopGraph(t))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), []byte("def broken(:\n"))
	assert.ErrorIs(t, err, ast.ErrSyntax)
}

func TestNewValidator_NilQuerier(t *testing.T) {
	_, err := NewValidator(nil)
	assert.Error(t, err)
}

func TestSignatureCheck(t *testing.T) {
	sig := parseSignature([]string{
		"amount:Any",
		"currency:Any='USD'",
		"[keyword_only] note:Any=None",
		"[keyword_only] reason:str",
	})
	call := func(args int, kws ...string) *ast.Expr {
		e := &ast.Expr{Kind: ast.ExprCall}
		for i := 0; i < args; i++ {
			e.Args = append(e.Args, &ast.Expr{Kind: ast.ExprConstant, Text: "1"})
		}
		for _, k := range kws {
			e.Keywords = append(e.Keywords, ast.Keyword{Name: k})
		}
		return e
	}

	tests := []struct {
		name    string
		call    *ast.Expr
		wantErr string
	}{
		{"minimal", call(1, "reason"), ""},
		{"all by keyword", call(0, "amount", "currency", "note", "reason"), ""},
		{"missing keyword only", call(2), "missing required arguments: reason"},
		{"missing positional", call(0, "reason"), "missing required arguments: amount"},
		{"too many", call(3, "reason"), "takes 2 positional arguments but 3 were given"},
		{"unexpected keyword", call(1, "reason", "colour"), `got an unexpected keyword argument "colour"`},
		{"duplicate", call(1, "amount", "reason"), `got multiple values for argument "amount"`},
		{"splat skips check", &ast.Expr{Kind: ast.ExprCall, Args: []*ast.Expr{{Kind: ast.ExprOther, Text: "*rest"}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, sig.check(tt.call))
		})
	}

	variadic := parseSignature([]string{"[var_positional] *args:Any", "[var_keyword] **kwargs:Dict[str, Any]"})
	assert.Empty(t, variadic.check(call(5, "anything")))
}
