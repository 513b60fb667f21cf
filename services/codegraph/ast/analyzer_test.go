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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
)

// testRepo is a small package layout used for module name resolution.
func testRepo() fstest.MapFS {
	return fstest.MapFS{
		"pkg/__init__.py":     {Data: []byte("")},
		"pkg/sub/__init__.py": {Data: []byte("")},
		"pkg/sub/mod.py":      {Data: []byte("")},
	}
}

func analyzeSource(t *testing.T, source, relPath string, opts ...AnalyzerOption) *SourceAnalysis {
	t.Helper()
	repo := NewRepoContextFS(testRepo(), []string{"pkg"})
	result, err := NewAnalyzer(opts...).AnalyzeFile(context.Background(), []byte(source), relPath, repo)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	return result
}

func findClass(t *testing.T, result *SourceAnalysis, name string) ClassRecord {
	t.Helper()
	for _, c := range result.Classes {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("class %q not found in %d classes", name, len(result.Classes))
	return ClassRecord{}
}

func findAttr(t *testing.T, cls ClassRecord, name string) AttributeRecord {
	t.Helper()
	for _, a := range cls.Attributes {
		if a.Name == name {
			return a
		}
	}
	t.Fatalf("attribute %q not found on %s", name, cls.FullName)
	return AttributeRecord{}
}

const dataclassSource = `from dataclasses import dataclass
from typing import ClassVar


@dataclass
class P:
    name: str
    age: int = 0
    id: ClassVar[int] = 0

    @property
    def full(self) -> str:
        return self.name
`

func TestAnalyzeFile_DataclassAttributes(t *testing.T) {
	result := analyzeSource(t, dataclassSource, "pkg/sub/mod.py")

	if result.ModuleName != "pkg.sub.mod" {
		t.Fatalf("expected module pkg.sub.mod, got %q", result.ModuleName)
	}
	p := findClass(t, result, "P")
	if p.FullName != "pkg.sub.mod.P" {
		t.Errorf("expected full name pkg.sub.mod.P, got %q", p.FullName)
	}
	if len(p.Attributes) != 4 {
		t.Fatalf("expected 4 attributes, got %d: %+v", len(p.Attributes), p.Attributes)
	}

	wantOrder := []string{"name", "age", "id", "full"}
	for i, name := range wantOrder {
		if p.Attributes[i].Name != name {
			t.Errorf("attribute %d: expected %q, got %q", i, name, p.Attributes[i].Name)
		}
	}

	name := findAttr(t, p, "name")
	if !name.IsInstance || name.IsClass || !name.FromDataclass || name.IsClassVar {
		t.Errorf("name flags wrong: %+v", name)
	}
	if name.DefaultValue != nil {
		t.Errorf("name should have no default, got %q", *name.DefaultValue)
	}
	if name.Type != "str" || !name.HasTypeHint {
		t.Errorf("name type: got %q hint=%v", name.Type, name.HasTypeHint)
	}

	age := findAttr(t, p, "age")
	if !age.IsInstance || !age.FromDataclass {
		t.Errorf("age flags wrong: %+v", age)
	}
	if age.DefaultValue == nil || *age.DefaultValue != "0" {
		t.Errorf("age default: expected \"0\", got %v", age.DefaultValue)
	}

	id := findAttr(t, p, "id")
	if !id.IsClassVar || !id.IsClass || id.IsInstance {
		t.Errorf("id flags wrong: %+v", id)
	}
	if id.Type != "ClassVar[int]" {
		t.Errorf("id type: expected ClassVar[int], got %q", id.Type)
	}

	full := findAttr(t, p, "full")
	if !full.IsProperty || full.IsInstance || full.IsClass {
		t.Errorf("full flags wrong: %+v", full)
	}
	if full.Type != "str" || !full.HasTypeHint {
		t.Errorf("full type: got %q hint=%v", full.Type, full.HasTypeHint)
	}
}

func TestAnalyzeFile_SlotsWinOverInitOnTie(t *testing.T) {
	source := `class Point:
    __slots__ = ["x", "y", "_hidden"]

    def __init__(self):
        self.x = 1
`
	result := analyzeSource(t, source, "geometry.py")
	p := findClass(t, result, "Point")

	if len(p.Attributes) != 2 {
		t.Fatalf("expected 2 attributes, got %d: %+v", len(p.Attributes), p.Attributes)
	}
	x := findAttr(t, p, "x")
	if !x.FromSlots {
		t.Errorf("expected slots-sourced x to survive, got %+v", x)
	}
	if x.Type != "Any" || x.DefaultValue != nil {
		t.Errorf("slots x should be untyped without default, got type=%q default=%v", x.Type, x.DefaultValue)
	}
	if y := findAttr(t, p, "y"); !y.FromSlots || !y.IsInstance {
		t.Errorf("y flags wrong: %+v", y)
	}
}

func TestAnalyzeFile_InitAttributes(t *testing.T) {
	source := `class Service:
    timeout: int

    def __init__(self, client):
        self.client = client
        self.timeout: int = 30
        self.a, self.b = 1, 2
        self.c = self.d = None
        self._private = {}
        if client:
            self.retries = 3
        local = 5
`
	result := analyzeSource(t, source, "service.py")
	svc := findClass(t, result, "Service")

	names := make([]string, 0, len(svc.Attributes))
	for _, a := range svc.Attributes {
		names = append(names, a.Name)
	}
	want := []string{"timeout", "client", "a", "b", "c", "d", "retries"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("attribute names: expected %v, got %v", want, names)
	}

	timeout := findAttr(t, svc, "timeout")
	if !timeout.IsInstance || timeout.IsClass {
		t.Errorf("annotated __init__ timeout should replace bare class annotation: %+v", timeout)
	}
	if timeout.DefaultValue == nil || *timeout.DefaultValue != "30" {
		t.Errorf("timeout default: got %v", timeout.DefaultValue)
	}

	if got := findAttr(t, svc, "client").Type; got != "Any" {
		t.Errorf("client type: expected Any, got %q", got)
	}
	if got := findAttr(t, svc, "a").Type; got != "Tuple[Any, ...]" {
		t.Errorf("a type: expected Tuple[Any, ...], got %q", got)
	}
	if got := findAttr(t, svc, "d").Type; got != "Optional[Any]" {
		t.Errorf("d type: expected Optional[Any], got %q", got)
	}
	if got := findAttr(t, svc, "retries").Type; got != "int" {
		t.Errorf("retries type: expected int, got %q", got)
	}
}

func TestAnalyzeFile_PlainClassAnnotationIsClassLevel(t *testing.T) {
	source := `class Config:
    debug: bool
    level = "info"
    handlers = []
`
	result := analyzeSource(t, source, "config.py")
	cfg := findClass(t, result, "Config")

	debug := findAttr(t, cfg, "debug")
	if debug.IsInstance || !debug.IsClass || !debug.HasTypeHint || debug.FromDataclass {
		t.Errorf("debug flags wrong: %+v", debug)
	}

	level := findAttr(t, cfg, "level")
	if level.Type != "str" || level.DefaultValue == nil || *level.DefaultValue != "'info'" {
		t.Errorf("level: type=%q default=%v", level.Type, level.DefaultValue)
	}
	handlers := findAttr(t, cfg, "handlers")
	if handlers.Type != "List[Any]" || *handlers.DefaultValue != "[]" {
		t.Errorf("handlers: type=%q default=%q", handlers.Type, *handlers.DefaultValue)
	}
}

func TestAnalyzeFile_AttrsClass(t *testing.T) {
	source := `import attr


@attr.s(auto_attribs=True)
class Record:
    key: str
    count: int = 1
`
	result := analyzeSource(t, source, "records.py")
	rec := findClass(t, result, "Record")
	for _, a := range rec.Attributes {
		if !a.FromAttrs || a.FromDataclass || !a.IsInstance {
			t.Errorf("attribute %q flags wrong: %+v", a.Name, a)
		}
	}
	if len(rec.Attributes) != 2 {
		t.Errorf("expected 2 attributes, got %d", len(rec.Attributes))
	}
}

func TestAnalyzeFile_MethodsAndFunctions(t *testing.T) {
	source := `import os


class Client:
    def __init__(self, url):
        self.url = url

    def fetch(self, path: str, retries: int = 3) -> bytes:
        pass

    async def close(self):
        pass

    def _internal(self):
        pass


def public(a, b=None):
    pass


def _private():
    pass


if os.name == "nt":
    def windows_only():
        pass


async def run() -> None:
    def nested():
        pass
`
	result := analyzeSource(t, source, "client.py")

	c := findClass(t, result, "Client")
	var methodNames []string
	for _, m := range c.Methods {
		methodNames = append(methodNames, m.Name)
	}
	if !reflect.DeepEqual(methodNames, []string{"fetch", "close"}) {
		t.Fatalf("methods: expected [fetch close], got %v", methodNames)
	}

	fetch := c.Methods[0]
	if fetch.FullName != "client.Client.fetch" {
		t.Errorf("fetch full name: got %q", fetch.FullName)
	}
	if fetch.ReturnType != "bytes" {
		t.Errorf("fetch return type: got %q", fetch.ReturnType)
	}
	if !reflect.DeepEqual(fetch.Args, []string{"path", "retries"}) {
		t.Errorf("fetch args: got %v", fetch.Args)
	}
	if !reflect.DeepEqual(fetch.ParamsDetailed, []string{"path:str", "retries:int=3"}) {
		t.Errorf("fetch params detailed: got %v", fetch.ParamsDetailed)
	}
	if c.Methods[1].ReturnType != "Any" {
		t.Errorf("close return type: expected Any, got %q", c.Methods[1].ReturnType)
	}

	var funcNames []string
	for _, f := range result.Functions {
		funcNames = append(funcNames, f.Name)
	}
	if !reflect.DeepEqual(funcNames, []string{"public", "windows_only", "run"}) {
		t.Fatalf("functions: expected [public windows_only run], got %v", funcNames)
	}
	public := result.Functions[0]
	if public.FullName != "client.public" {
		t.Errorf("public full name: got %q", public.FullName)
	}
	if !reflect.DeepEqual(public.ParamsList, []string{"a:Any", "b:Any"}) {
		t.Errorf("public params list: got %v", public.ParamsList)
	}
	if !reflect.DeepEqual(public.Args, []string{"a", "b"}) {
		t.Errorf("public args: got %v", public.Args)
	}
}

func TestAnalyzeFile_NestedClasses(t *testing.T) {
	source := `class Outer:
    class Inner:
        value = 1

    def method(self):
        pass
`
	result := analyzeSource(t, source, "nesting.py")
	if len(result.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(result.Classes))
	}
	if result.Classes[0].FullName != "nesting.Outer" || result.Classes[1].FullName != "nesting.Inner" {
		t.Errorf("unexpected class names: %q, %q", result.Classes[0].FullName, result.Classes[1].FullName)
	}
}

func TestAnalyzeFile_Imports(t *testing.T) {
	source := `import os
import json as j
import pkg.models
import yaml
from typing import List
from .helpers import helper
from .. import shared
from pkg.sub import thing
from testing_utils import fixture
from _internal import secret
from requests.adapters import HTTPAdapter


def load():
    from pkg.lazy import heavy
    return heavy
`
	result := analyzeSource(t, source, "pkg/sub/mod.py")
	want := []string{"pkg", "pkg.lazy", "pkg.models", "pkg.sub", "pkg.sub.helpers", "yaml"}
	if !reflect.DeepEqual(result.Imports, want) {
		t.Errorf("imports: expected %v, got %v", want, result.Imports)
	}
}

func TestAnalyzeFile_LineCount(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   int
	}{
		{"empty", "", 0},
		{"trailing newline", "x = 1\ny = 2\n", 2},
		{"no trailing newline", "x = 1\ny = 2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := analyzeSource(t, tt.source, "lines.py")
			if result.LineCount != tt.want {
				t.Errorf("expected %d lines, got %d", tt.want, result.LineCount)
			}
		})
	}
}

func TestAnalyzeFile_Errors(t *testing.T) {
	repo := NewRepoContextFS(testRepo(), nil)

	t.Run("syntax error", func(t *testing.T) {
		_, err := NewAnalyzer().AnalyzeFile(context.Background(), []byte("class :\n  def (\n"), "bad.py", repo)
		if !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected ErrSyntax, got %v", err)
		}
	})

	t.Run("tolerant parsing", func(t *testing.T) {
		source := "class Good:\n    x = 1\n\ndef broken(:\n    pass\n"
		result, err := NewAnalyzer(WithTolerantParsing()).AnalyzeFile(context.Background(), []byte(source), "partial.py", repo)
		if err != nil {
			t.Fatalf("tolerant analyzer returned error: %v", err)
		}
		if result == nil {
			t.Fatal("expected partial result")
		}
	})

	t.Run("file too large", func(t *testing.T) {
		source := strings.Repeat("x = 1\n", 100)
		_, err := NewAnalyzer(WithMaxFileSize(10)).AnalyzeFile(context.Background(), []byte(source), "big.py", repo)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_, err := NewAnalyzer().AnalyzeFile(context.Background(), []byte{0xff, 0xfe, 0x00}, "bin.py", repo)
		if !errors.Is(err, ErrInvalidContent) {
			t.Fatalf("expected ErrInvalidContent, got %v", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewAnalyzer().AnalyzeFile(ctx, []byte("x = 1\n"), "x.py", repo)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("nil repo context", func(t *testing.T) {
		if _, err := NewAnalyzer().AnalyzeFile(context.Background(), []byte("x = 1\n"), "x.py", nil); err == nil {
			t.Fatal("expected error for nil repo context")
		}
	})
}

func TestAnalyzeFile_Concurrent(t *testing.T) {
	analyzer := NewAnalyzer()
	repo := NewRepoContextFS(testRepo(), []string{"pkg"})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := analyzer.AnalyzeFile(context.Background(), []byte(dataclassSource), "pkg/sub/mod.py", repo)
			if err != nil {
				errs <- err
				return
			}
			if len(result.Classes) != 1 || len(result.Classes[0].Attributes) != 4 {
				errs <- errors.New("unexpected concurrent result")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestAnalyzeFile_LogsFileAttributeStats(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	source := "class A:\n    x: int = 1\n    items[0]: int = 2\n\nclass B:\n    __slots__ = ('p', 'q')\n"
	analyzeSource(t, source, "pkg/sub/mod.py", WithLogger(logger))

	var got map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("decoding log line %q: %v", line, err)
		}
		if entry["msg"] == "file attributes" {
			got = entry
		}
	}
	if got == nil {
		t.Fatalf("no file attributes log in:\n%s", buf.String())
	}
	// JSON numbers decode as float64.
	want := map[string]float64{"classes": 2, "total": 3, "slots": 2, "skipped": 1}
	for key, n := range want {
		if got[key] != n {
			t.Errorf("%s = %v, want %v", key, got[key], n)
		}
	}
	if got["file"] != "pkg/sub/mod.py" {
		t.Errorf("file = %v", got["file"])
	}
}
