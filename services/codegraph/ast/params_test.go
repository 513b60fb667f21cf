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
	"reflect"
	"testing"
)

func parseFunc(t *testing.T, source string) *Stmt {
	t.Helper()
	mod, err := ParseModule(context.Background(), []byte(source))
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	var fn *Stmt
	mod.Walk(func(s *Stmt) {
		if fn == nil && s.Kind == StmtFuncDef {
			fn = s
		}
	})
	if fn == nil {
		t.Fatal("no function found")
	}
	return fn
}

func strPtr(s string) *string { return &s }

func TestBuildParameters_AllKinds(t *testing.T) {
	fn := parseFunc(t, `def f(self, a, b: int = 1, *args, c, d: str = "x", **kwargs) -> bool:
    pass
`)
	got := BuildParameters(fn.Params)
	want := []ParameterRecord{
		{Name: "a", Type: "Any", Kind: KindPositional},
		{Name: "b", Type: "int", Kind: KindPositional, Optional: true, Default: strPtr("1")},
		{Name: "*args", Type: "Any", Kind: KindVarPositional, Optional: true},
		{Name: "c", Type: "Any", Kind: KindKeywordOnly},
		{Name: "d", Type: "str", Kind: KindKeywordOnly, Optional: true, Default: strPtr("'x'")},
		{Name: "**kwargs", Type: "Dict[str, Any]", Kind: KindVarKeyword, Optional: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildParameters mismatch\n got: %+v\nwant: %+v", got, want)
	}

	detailed := detailedParams(got)
	wantDetailed := []string{
		"a:Any",
		"b:int=1",
		"[var_positional] *args:Any=None",
		"[keyword_only] c:Any",
		"[keyword_only] d:str='x'",
		"[var_keyword] **kwargs:Dict[str, Any]=None",
	}
	if !reflect.DeepEqual(detailed, wantDetailed) {
		t.Errorf("detailed mismatch\n got: %v\nwant: %v", detailed, wantDetailed)
	}
}

func TestBuildParameters_TrailingDefaults(t *testing.T) {
	fn := parseFunc(t, "def g(x, y, z=None, w=[]):\n    pass\n")
	got := BuildParameters(fn.Params)
	if len(got) != 4 {
		t.Fatalf("expected 4 params, got %d", len(got))
	}
	for i, wantOptional := range []bool{false, false, true, true} {
		if got[i].Optional != wantOptional {
			t.Errorf("param %s: optional=%v, want %v", got[i].Name, got[i].Optional, wantOptional)
		}
	}
	if got[2].Default == nil || *got[2].Default != "None" {
		t.Errorf("z default: got %v", got[2].Default)
	}
	if got[3].Default == nil || *got[3].Default != "[]" {
		t.Errorf("w default: got %v", got[3].Default)
	}
}

func TestBuildParameters_KeywordOnlyAfterBareStar(t *testing.T) {
	fn := parseFunc(t, "def h(a, /, b, *, key: str, flag=False):\n    pass\n")
	got := BuildParameters(fn.Params)
	wantKinds := []ParameterKind{KindPositional, KindPositional, KindKeywordOnly, KindKeywordOnly}
	if len(got) != len(wantKinds) {
		t.Fatalf("expected %d params, got %d: %+v", len(wantKinds), len(got), got)
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Errorf("param %s: kind %s, want %s", got[i].Name, got[i].Kind, k)
		}
	}
	if got[2].Optional {
		t.Error("keyword-only param without default must be required")
	}
	if !got[3].Optional || *got[3].Default != "False" {
		t.Errorf("flag: %+v", got[3])
	}
}

func TestBuildParameters_AnnotatedVariadics(t *testing.T) {
	fn := parseFunc(t, "def v(*items: int, **options: str):\n    pass\n")
	got := BuildParameters(fn.Params)
	if len(got) != 2 {
		t.Fatalf("expected 2 params, got %d", len(got))
	}
	if got[0].Name != "*items" || got[0].Type != "int" {
		t.Errorf("varargs: %+v", got[0])
	}
	if got[1].Name != "**options" || got[1].Type != "str" {
		t.Errorf("kwargs: %+v", got[1])
	}
}

func TestBuildParameters_Nil(t *testing.T) {
	if got := BuildParameters(nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestBuildParameters_SelfOnlyDroppedFirst(t *testing.T) {
	fn := parseFunc(t, "def m(cls, self):\n    pass\n")
	got := BuildParameters(fn.Params)
	if len(got) != 2 || got[0].Name != "cls" || got[1].Name != "self" {
		t.Errorf("expected [cls self], got %+v", got)
	}
}
